// Package download streams patch packages from HTTP servers to disk.
//
// Client.Download reports progress after every 32 KiB chunk and recomputes
// transfer speed once per 500 ms window. A failed transfer always removes its
// partial file, so DownloadWithRetry can reuse the destination path between
// attempts. Retries back off linearly and stop early on cancellation or
// non-network failures.
package download
