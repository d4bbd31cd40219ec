// Package workflow runs update sessions: it fetches the patch list, then
// moves each pending patch through the download and patch stages in index
// order.
//
// The Manager owns the session state machine
// (idle → checking → downloading → patching → ready, with error reachable
// from every active state), the applied patch cache, and the per-directory
// lock that keeps two sessions from merging into the same archive. Status
// transitions and download progress are published to subscribers without
// blocking the session; a slow subscriber loses events, never stalls a
// transfer.
//
// Cancellation is cooperative. CancelUpdate cancels the session context,
// which aborts an in-flight download and is checked before each patch.
package workflow
