// Package grf reads and rewrites GRF archive containers.
//
// A container is a 46-byte fixed header followed by entry payloads and a
// zlib-compressed file table. Reader decodes the header, the table and
// individual payloads; QuickMerge adds, replaces and removes entries by
// writing new payloads over the region previously occupied by the old table
// and rebuilding the table behind them, so unrelated payload bytes are never
// rewritten.
//
// Every Reader operation opens and closes its own file handle. Callers must
// finish reading before QuickMerge opens the same path for writing.
//
// Encrypted entries (mixed or legacy cipher flags) are indexed and carried
// through merges untouched, but their payloads cannot be decoded.
package grf
