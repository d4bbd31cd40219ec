// Package preflight provides readiness checks for the filesystem paths,
// target archive, and patch server that grfpatch depends on.
//
// These checks run in two contexts:
//   - The workflow manager reports them through Health so a front end can
//     show why an update would fail before starting it.
//   - The CLI "grfpatch status" command renders them as a table.
//
// A missing archive is not a failure: packages fall back to loose files or
// create the archive when patching.create_archive is set.
package preflight
