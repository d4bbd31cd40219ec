package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"grfpatch/internal/download"
	"grfpatch/internal/workflow"
)

// sessionRenderer prints status transitions as lines. On a terminal the
// download progress is redrawn in place; otherwise it is sampled in 25%
// steps (8 MiB steps when the size is unknown).
type sessionRenderer struct {
	out      io.Writer
	live     bool
	sampler  *download.Sampler
	progress bool
	err      error
}

func newSessionRenderer(out io.Writer) *sessionRenderer {
	return &sessionRenderer{
		out:     out,
		live:    isTerminal(out),
		sampler: download.NewSampler(25, 0),
	}
}

// runSession executes run while rendering the manager's events, and returns
// the session result once every buffered event has been printed. The error
// is the first failed write to out; the session itself is not interrupted.
func runSession(out io.Writer, manager *workflow.Manager, run func() workflow.Result) (workflow.Result, error) {
	sub := manager.Subscribe(64)
	renderer := newSessionRenderer(out)

	var result workflow.Result
	var g errgroup.Group
	g.Go(func() error {
		defer sub.Close()
		result = run()
		return nil
	})
	g.Go(func() error {
		return renderer.consume(sub)
	})
	err := g.Wait()
	return result, err
}

// consume drains sub until both channels close. After a write error the
// remaining events are discarded.
func (r *sessionRenderer) consume(sub *workflow.Subscription) error {
	status, progress := sub.Status(), sub.Progress()
	for status != nil || progress != nil {
		select {
		case ev, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			r.status(ev)
		case p, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			r.download(p)
		}
	}
	r.endProgressLine()
	return r.err
}

func (r *sessionRenderer) status(ev workflow.StatusEvent) {
	r.endProgressLine()
	r.printf("%s\n", formatStatusEvent(ev))
}

func (r *sessionRenderer) download(p download.Progress) {
	if r.live {
		r.printf("\r\x1b[K  %s", formatProgress(p))
		r.progress = true
		return
	}
	if r.sampler.Sample(p) {
		r.printf("  %s\n", formatProgress(p))
	}
}

func (r *sessionRenderer) endProgressLine() {
	if r.progress {
		r.printf("\n")
		r.progress = false
	}
}

func (r *sessionRenderer) printf(format string, args ...any) {
	if r.err != nil {
		return
	}
	if _, err := fmt.Fprintf(r.out, format, args...); err != nil {
		r.err = fmt.Errorf("render session output: %w", err)
	}
}

func formatStatusEvent(ev workflow.StatusEvent) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(string(ev.Status)))
	if ev.Total > 0 {
		fmt.Fprintf(&b, " [%d/%d]", ev.Current, ev.Total)
	}
	if ev.Filename != "" {
		b.WriteString(" " + ev.Filename)
	}
	switch {
	case ev.Error != "":
		b.WriteString(": " + ev.Error)
	case ev.Message != "":
		b.WriteString(": " + ev.Message)
	}
	return b.String()
}

func formatProgress(p download.Progress) string {
	downloaded := humanize.IBytes(uint64(p.Downloaded))
	speed := humanize.IBytes(uint64(p.Speed)) + "/s"
	if p.Total <= 0 {
		return fmt.Sprintf("%s  %s  %s", p.Filename, downloaded, speed)
	}
	return fmt.Sprintf("%s  %s / %s (%.1f%%)  %s",
		p.Filename, downloaded, humanize.IBytes(uint64(p.Total)), p.Percentage, speed)
}
