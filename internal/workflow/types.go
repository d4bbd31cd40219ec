package workflow

import (
	"errors"
	"time"

	"grfpatch/internal/patchlist"
)

// Status is the session state published to subscribers.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusChecking    Status = "checking"
	StatusDownloading Status = "downloading"
	StatusPatching    Status = "patching"
	StatusReady       Status = "ready"
	StatusError       Status = "error"
)

// ErrSessionActive is returned when an update or manual patch is requested
// while another session holds the game directory.
var ErrSessionActive = errors.New("an update session is already running")

// StatusEvent is one state transition. Current and Total are 1-based patch
// positions and are zero outside the download and patch states.
type StatusEvent struct {
	Status    Status
	SessionID string
	Current   int
	Total     int
	Filename  string
	Message   string
	Error     string
	Time      time.Time
}

// Result is the outcome of StartUpdate or ManualPatch. Message is the text
// shown to players; Error carries the underlying failure.
type Result struct {
	Success   bool
	Cancelled bool
	Message   string
	Applied   int
	Error     error
}

// Session is the state of the running update.
type Session struct {
	ID        string
	Pending   []patchlist.Patch
	Stage     Status
	LastError string
	StartedAt time.Time
}
