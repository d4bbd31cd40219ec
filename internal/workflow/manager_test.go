package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"grfpatch/internal/download"
	"grfpatch/internal/patchlist"
	"grfpatch/internal/services"
	"grfpatch/internal/testsupport"
	"grfpatch/internal/workflow"
)

// patchServer serves a patch list and package files from a directory and
// records every package request.
type patchServer struct {
	*httptest.Server
	dir string

	mu       sync.Mutex
	list     string
	requests []string
}

func newPatchServer(t *testing.T, list string) *patchServer {
	t.Helper()
	ps := &patchServer{dir: t.TempDir(), list: list}
	ps.Server = httptest.NewServer(http.HandlerFunc(ps.handle))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *patchServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/plist.txt" {
		if ps.list == "" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(ps.list))
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/patches/")
	ps.mu.Lock()
	ps.requests = append(ps.requests, name)
	ps.mu.Unlock()
	http.ServeFile(w, r, filepath.Join(ps.dir, filepath.FromSlash(name)))
}

func (ps *patchServer) packagePath(name string) string {
	return filepath.Join(ps.dir, name)
}

func (ps *patchServer) requested() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]string(nil), ps.requests...)
}

func (ps *patchServer) configOption() testsupport.ConfigOption {
	return testsupport.WithPatchServer("main", ps.URL+"/plist.txt", ps.URL+"/patches/")
}

func drainStatuses(sub *workflow.Subscription) []workflow.StatusEvent {
	var events []workflow.StatusEvent
	for {
		select {
		case ev := <-sub.Status():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func statusSequence(events []workflow.StatusEvent) []workflow.Status {
	out := make([]workflow.Status, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Status)
	}
	return out
}

func equalStatuses(a, b []workflow.Status) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStartUpdateAppliesPendingPatches(t *testing.T) {
	server := newPatchServer(t, "// patches\n1 first.zip\n2 second.zip\n")
	testsupport.WriteZipPackage(t, server.packagePath("first.zip"),
		testsupport.PackageFile{Name: "data/a.txt", Data: []byte("archive alpha")},
		testsupport.PackageFile{Name: "readme.txt", Data: []byte("loose file")},
	)
	testsupport.WriteZipPackage(t, server.packagePath("second.zip"),
		testsupport.PackageFile{Name: "data/b.txt", Data: []byte("archive bravo")},
	)

	cfg := testsupport.NewConfig(t, server.configOption())
	testsupport.NewArchive(t, cfg.ArchivePath(), map[string][]byte{"data/old.txt": []byte("old")})

	manager := workflow.NewManager(cfg, nil)
	sub := manager.Subscribe(32)
	defer sub.Close()

	result := manager.StartUpdate(context.Background())
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Applied != 2 {
		t.Fatalf("applied = %d, want 2", result.Applied)
	}

	events := drainStatuses(sub)
	want := []workflow.Status{
		workflow.StatusChecking,
		workflow.StatusDownloading, workflow.StatusPatching,
		workflow.StatusDownloading, workflow.StatusPatching,
		workflow.StatusReady,
	}
	if got := statusSequence(events); !equalStatuses(got, want) {
		t.Fatalf("status sequence = %v, want %v", got, want)
	}
	if events[3].Current != 2 || events[3].Total != 2 || events[3].Filename != "second.zip" {
		t.Fatalf("unexpected second download event: %+v", events[3])
	}
	sessionID := events[0].SessionID
	if sessionID == "" {
		t.Fatal("expected session id on events")
	}
	for _, ev := range events {
		if ev.SessionID != sessionID {
			t.Fatalf("session id changed mid-session: %q vs %q", ev.SessionID, sessionID)
		}
	}

	loose, err := os.ReadFile(filepath.Join(cfg.Paths.GameDir, "readme.txt"))
	if err != nil || string(loose) != "loose file" {
		t.Fatalf("loose file = %q, %v", loose, err)
	}
	for name, want := range map[string]string{"data/old.txt": "old", "data/a.txt": "archive alpha", "data/b.txt": "archive bravo"} {
		data, entry := testsupport.ReadArchiveFile(t, cfg.ArchivePath(), name)
		if string(data) != want || int(entry.RealSize) != len(want) {
			t.Fatalf("archive %s = %q (size %d), want %q", name, data, entry.RealSize, want)
		}
	}

	for _, name := range []string{"first.zip", "second.zip"} {
		if _, err := os.Stat(filepath.Join(cfg.Paths.TempDir, name)); !os.IsNotExist(err) {
			t.Fatalf("temp package %s not removed: %v", name, err)
		}
	}

	records, err := manager.AppliedPatches(context.Background())
	if err != nil {
		t.Fatalf("AppliedPatches: %v", err)
	}
	if len(records) != 2 || records[0].Index != 1 || records[1].Index != 2 {
		t.Fatalf("unexpected cache records: %+v", records)
	}
	if records[0].SessionID != sessionID {
		t.Fatalf("record session = %q, want %q", records[0].SessionID, sessionID)
	}
	if _, ok := manager.Session(); ok {
		t.Fatal("session should be reset after finish")
	}
	if last := manager.LastStatus(); last.Status != workflow.StatusReady {
		t.Fatalf("last status = %s, want ready", last.Status)
	}
}

func TestStartUpdateSkipsAppliedPatches(t *testing.T) {
	server := newPatchServer(t, "1 first.zip\n2 second.zip\n")
	testsupport.WriteZipPackage(t, server.packagePath("second.zip"),
		testsupport.PackageFile{Name: "notes.txt", Data: []byte("second")},
	)
	cfg := testsupport.NewConfig(t, server.configOption())
	store := testsupport.MustOpenCache(t, cfg)
	testsupport.MarkApplied(t, store, patchlist.Patch{Index: 1, Filename: "first.zip"})

	result := workflow.NewManager(cfg, nil).StartUpdate(context.Background())
	if !result.Success || result.Applied != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := server.requested(); len(got) != 1 || got[0] != "second.zip" {
		t.Fatalf("requested = %v, want [second.zip]", got)
	}
}

func TestStartUpdateAlreadyUpToDate(t *testing.T) {
	server := newPatchServer(t, "")
	cfg := testsupport.NewConfig(t, server.configOption())
	manager := workflow.NewManager(cfg, nil)
	sub := manager.Subscribe(8)
	defer sub.Close()

	result := manager.StartUpdate(context.Background())
	if !result.Success || result.Message != "Already up to date" {
		t.Fatalf("unexpected result %+v", result)
	}
	want := []workflow.Status{workflow.StatusChecking, workflow.StatusReady}
	if got := statusSequence(drainStatuses(sub)); !equalStatuses(got, want) {
		t.Fatalf("status sequence = %v, want %v", got, want)
	}
}

func TestStartUpdateWithoutServerFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	result := workflow.NewManager(cfg, nil).StartUpdate(context.Background())
	if result.Success || !errors.Is(result.Error, services.ErrConfiguration) {
		t.Fatalf("expected configuration failure, got %+v", result)
	}
	if !strings.Contains(result.Message, "no patch server configured") {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestStartUpdateDownloadFailureAbortsRemaining(t *testing.T) {
	tests := []struct {
		name        string
		override    string
		wantMessage string
	}{
		{name: "default message", wantMessage: "Download failed: "},
		{name: "override", override: "Could not reach the patch server", wantMessage: "Could not reach the patch server"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := newPatchServer(t, "1 missing.zip\n2 second.zip\n")
			testsupport.WriteZipPackage(t, server.packagePath("second.zip"),
				testsupport.PackageFile{Name: "notes.txt", Data: []byte("second")},
			)
			cfg := testsupport.NewConfig(t, server.configOption(),
				testsupport.WithMaxRetries(2),
				testsupport.WithMessages(tc.override, "", ""),
			)
			manager := workflow.NewManager(cfg, nil)
			sub := manager.Subscribe(16)
			defer sub.Close()

			result := manager.StartUpdate(context.Background())
			if result.Success || result.Cancelled {
				t.Fatalf("expected failure, got %+v", result)
			}
			if !strings.HasPrefix(result.Message, tc.wantMessage) {
				t.Fatalf("message = %q, want prefix %q", result.Message, tc.wantMessage)
			}
			if !errors.Is(result.Error, services.ErrNetwork) {
				t.Fatalf("expected network error, got %v", result.Error)
			}

			events := drainStatuses(sub)
			last := events[len(events)-1]
			if last.Status != workflow.StatusError || last.Error != result.Message {
				t.Fatalf("unexpected last event %+v", last)
			}
			for _, name := range server.requested() {
				if name == "second.zip" {
					t.Fatal("remaining patches must not be attempted after a failure")
				}
			}
			if got := len(server.requested()); got != 2 {
				t.Fatalf("expected 2 download attempts, got %d", got)
			}
			records, err := manager.AppliedPatches(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(records) != 0 {
				t.Fatalf("cache should be untouched, got %+v", records)
			}
		})
	}
}

func TestStartUpdateCorruptPackageFails(t *testing.T) {
	server := newPatchServer(t, "1 broken.zip\n")
	if err := os.WriteFile(server.packagePath("broken.zip"), []byte("this is not a package"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testsupport.NewConfig(t, server.configOption())

	result := workflow.NewManager(cfg, nil).StartUpdate(context.Background())
	if result.Success {
		t.Fatal("expected failure for corrupt package")
	}
	if !strings.HasPrefix(result.Message, "Extraction failed: ") {
		t.Fatalf("unexpected message %q", result.Message)
	}
	if !errors.Is(result.Error, services.ErrFormat) {
		t.Fatalf("expected format error, got %v", result.Error)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.TempDir, "broken.zip")); err != nil {
		t.Fatalf("failed package should be kept for inspection: %v", err)
	}
}

// blockingDownloader waits for cancellation, reporting when it started.
type blockingDownloader struct {
	started chan struct{}
	once    sync.Once
}

func (d *blockingDownloader) DownloadWithRetry(ctx context.Context, url, _ string, onProgress download.ProgressFunc, _ int) error {
	if onProgress != nil {
		onProgress(download.Progress{Filename: "first.zip", Downloaded: 10, Total: 100, Percentage: 10})
	}
	d.once.Do(func() { close(d.started) })
	<-ctx.Done()
	return services.Wrap(services.ErrCancelled, "download", "request", url, ctx.Err())
}

func TestCancelUpdateDuringDownload(t *testing.T) {
	server := newPatchServer(t, "1 first.zip\n2 second.zip\n")
	cfg := testsupport.NewConfig(t, server.configOption())
	downloader := &blockingDownloader{started: make(chan struct{})}
	manager := workflow.NewManager(cfg, nil, workflow.WithDownloader(downloader))
	sub := manager.Subscribe(16)
	defer sub.Close()

	done := make(chan workflow.Result, 1)
	go func() { done <- manager.StartUpdate(context.Background()) }()

	select {
	case <-downloader.started:
	case <-time.After(5 * time.Second):
		t.Fatal("download never started")
	}

	session, ok := manager.Session()
	if !ok || session.Stage != workflow.StatusDownloading || len(session.Pending) != 2 {
		t.Fatalf("unexpected session %+v (ok=%v)", session, ok)
	}

	second := manager.StartUpdate(context.Background())
	if !errors.Is(second.Error, workflow.ErrSessionActive) {
		t.Fatalf("concurrent update should be refused, got %+v", second)
	}
	if _, err := manager.ResetCache(context.Background(), false); !errors.Is(err, workflow.ErrSessionActive) {
		t.Fatalf("reset during session should be refused, got %v", err)
	}

	if !manager.CancelUpdate() {
		t.Fatal("CancelUpdate should report a running session")
	}

	var result workflow.Result
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("update did not stop after cancellation")
	}
	if !result.Cancelled || result.Success || result.Error != nil {
		t.Fatalf("unexpected cancelled result %+v", result)
	}
	if last := manager.LastStatus(); last.Status != workflow.StatusIdle {
		t.Fatalf("last status = %s, want idle", last.Status)
	}
	if manager.CancelUpdate() {
		t.Fatal("CancelUpdate should be a no-op after the session ended")
	}

	select {
	case p := <-sub.Progress():
		if p.Filename != "first.zip" {
			t.Fatalf("unexpected progress %+v", p)
		}
	default:
		t.Fatal("expected forwarded progress event")
	}
}

func TestManualPatch(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCreateArchive(true))
	pkg := filepath.Join(testsupport.BaseDir(cfg), "manual.zip")
	testsupport.WriteZipPackage(t, pkg,
		testsupport.PackageFile{Name: "data/manual.txt", Data: []byte("inside")},
		testsupport.PackageFile{Name: "BGM/theme.txt", Data: []byte("outside")},
	)

	manager := workflow.NewManager(cfg, nil)
	sub := manager.Subscribe(8)
	defer sub.Close()

	result := manager.ManualPatch(context.Background(), pkg)
	if !result.Success {
		t.Fatalf("manual patch failed: %+v", result)
	}
	want := []workflow.Status{workflow.StatusPatching, workflow.StatusReady}
	if got := statusSequence(drainStatuses(sub)); !equalStatuses(got, want) {
		t.Fatalf("status sequence = %v, want %v", got, want)
	}
	data, _ := testsupport.ReadArchiveFile(t, cfg.ArchivePath(), "data/manual.txt")
	if !bytes.Equal(data, []byte("inside")) {
		t.Fatalf("archive payload = %q", data)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.GameDir, "BGM", "theme.txt")); err != nil {
		t.Fatalf("loose file missing: %v", err)
	}
	if _, err := os.Stat(pkg); err != nil {
		t.Fatalf("manual package must not be deleted: %v", err)
	}
	records, err := manager.AppliedPatches(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("manual patches are not cached, got %+v", records)
	}
}

func TestManualPatchMissingFile(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMessages("", "Patch could not be applied", ""))
	result := workflow.NewManager(cfg, nil).ManualPatch(context.Background(), filepath.Join(t.TempDir(), "nope.thor"))
	if result.Success || result.Message != "Patch could not be applied" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !errors.Is(result.Error, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", result.Error)
	}
}

func TestResetCache(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCache(t, cfg)
	testsupport.MarkApplied(t, store,
		patchlist.Patch{Index: 1, Filename: "a.thor"},
		patchlist.Patch{Index: 2, Filename: "b.thor"},
	)

	manager := workflow.NewManager(cfg, nil)
	removed, err := manager.ResetCache(context.Background(), false)
	if err != nil {
		t.Fatalf("ResetCache: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	if _, err := manager.ResetCache(context.Background(), true); err != nil {
		t.Fatalf("hard reset: %v", err)
	}
	if _, err := os.Stat(cfg.Paths.CachePath); !os.IsNotExist(err) {
		t.Fatalf("cache file should be deleted, stat err = %v", err)
	}
}

func TestHealth(t *testing.T) {
	server := newPatchServer(t, "")
	cfg := testsupport.NewConfig(t, server.configOption())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	for _, h := range workflow.NewManager(cfg, nil).Health(context.Background()) {
		if !h.Ready {
			t.Fatalf("stage %s not ready: %s", h.Name, h.Detail)
		}
	}

	bare := testsupport.NewConfig(t)
	health := workflow.NewManager(bare, nil).Health(context.Background())
	if health[0].Ready || health[0].Detail != "no patch server configured" {
		t.Fatalf("download stage should be unhealthy without a server: %+v", health[0])
	}
}
