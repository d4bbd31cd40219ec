// Package stage defines the contract between the workflow manager and the
// download and patch stages.
package stage

import (
	"fmt"
	"strings"

	"grfpatch/internal/patchlist"
)

// Job is one patch moving through the stages of an update session.
type Job struct {
	Patch patchlist.Patch
	// Position is 1-based within the session; Total is the session size.
	Position int
	Total    int

	SourceURL   string
	PackagePath string
	TargetDir   string
	ArchiveName string

	// Manual jobs apply a local package outside the patch list.
	Manual bool

	ProgressMessage string
}

// Label identifies the job in logs and status lines.
func (j *Job) Label() string {
	if j == nil {
		return ""
	}
	name := strings.TrimSpace(j.Patch.Filename)
	if j.Total > 0 {
		return fmt.Sprintf("%s (%d/%d)", name, j.Position, j.Total)
	}
	return name
}
