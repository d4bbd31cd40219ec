// Package services defines shared utilities consumed by the pipeline stages
// and the archive/patch engines.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, patch indices, and stage names
//     for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (format, decompression, network, io, cancellation) so the orchestrator
//     can decide between retrying, aborting, and returning to idle.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
