// Package main hosts the grfpatch CLI entrypoint and command graph.
//
// The Cobra command tree is the front end of the workflow manager: "update"
// and "apply" run sessions and render their status and progress streams,
// "patches" and "cache" inspect the applied patch cache, "archive" inspects
// and extracts GRF archives, and "status" runs the preflight checks.
// Configuration resolution and logger setup live in commandContext so
// subcommands only deal with presentation.
package main
