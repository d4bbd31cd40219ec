package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/encoding/korean"

	"grfpatch/internal/config"
	"grfpatch/internal/download"
	"grfpatch/internal/testsupport"
	"grfpatch/internal/workflow"
)

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "grfpatch.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// newPatchServer serves plist.txt and files from a directory under /patches/.
func newPatchServer(t *testing.T, list string) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/plist.txt" {
			_, _ = w.Write([]byte(list))
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, strings.TrimPrefix(r.URL.Path, "/patches/")))
	}))
	t.Cleanup(srv.Close)
	return srv, dir
}

func TestConfigInitShowValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err := runCLI(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected refusal to overwrite without --overwrite")
	}

	cfg := testsupport.NewConfig(t)
	path := writeTestConfig(t, cfg)
	out, _, err = runCLI(t, path, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	out, _, err = runCLI(t, path, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "# source: "+path)
	requireContains(t, out, cfg.Paths.GameDir)
}

func TestUpdatePatchesAndCacheCommands(t *testing.T) {
	srv, dir := newPatchServer(t, "1 first.zip\n")
	testsupport.WriteZipPackage(t, filepath.Join(dir, "first.zip"),
		testsupport.PackageFile{Name: "System/info.txt", Data: []byte("patched")},
	)
	cfg := testsupport.NewConfig(t, testsupport.WithPatchServer("main", srv.URL+"/plist.txt", srv.URL+"/patches/"))
	path := writeTestConfig(t, cfg)

	out, _, err := runCLI(t, path, "update")
	if err != nil {
		t.Fatalf("update: %v (output %q)", err, out)
	}
	requireContains(t, out, "CHECKING")
	requireContains(t, out, "DOWNLOADING [1/1] first.zip")
	requireContains(t, out, "READY: Applied 1 patch(es)")
	data, err := os.ReadFile(filepath.Join(cfg.Paths.GameDir, "System", "info.txt"))
	if err != nil || string(data) != "patched" {
		t.Fatalf("patched file = %q, %v", data, err)
	}

	out, _, err = runCLI(t, path, "update")
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	requireContains(t, out, "Already up to date")

	out, _, err = runCLI(t, path, "patches")
	if err != nil {
		t.Fatalf("patches: %v", err)
	}
	requireContains(t, out, "first.zip")
	requireContains(t, out, "yes")
	requireContains(t, out, "1 listed, 0 pending")

	out, _, err = runCLI(t, path, "cache", "list")
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}
	requireContains(t, out, "first.zip")

	out, _, err = runCLI(t, path, "cache", "reset")
	if err != nil {
		t.Fatalf("cache reset: %v", err)
	}
	requireContains(t, out, "Cleared 1 applied patch record(s)")

	out, _, err = runCLI(t, path, "patches", "--pending")
	if err != nil {
		t.Fatalf("patches --pending: %v", err)
	}
	requireContains(t, out, "1 listed, 1 pending")

	out, _, err = runCLI(t, path, "cache", "reset", "--hard")
	if err != nil {
		t.Fatalf("cache reset --hard: %v", err)
	}
	requireContains(t, out, "Deleted applied patch cache")
}

func TestUpdateReportsFailure(t *testing.T) {
	srv, _ := newPatchServer(t, "1 missing.zip\n")
	cfg := testsupport.NewConfig(t,
		testsupport.WithPatchServer("main", srv.URL+"/plist.txt", srv.URL+"/patches/"),
		testsupport.WithMaxRetries(1),
		testsupport.WithMessages("Patch server unavailable", "", ""),
	)
	path := writeTestConfig(t, cfg)

	out, _, err := runCLI(t, path, "update")
	if err == nil {
		t.Fatal("expected update to fail")
	}
	if err.Error() != "Patch server unavailable" {
		t.Fatalf("unexpected error %q", err)
	}
	requireContains(t, out, "ERROR: Patch server unavailable")
}

func TestApplyCommand(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeTestConfig(t, cfg)
	pkg := filepath.Join(testsupport.BaseDir(cfg), "local.thor")
	testsupport.WriteLegacyPackage(t, pkg, "",
		testsupport.PackageFile{Name: `AI\readme.txt`, Data: []byte("legacy")},
	)

	out, _, err := runCLI(t, path, "apply", "--list", pkg)
	if err != nil {
		t.Fatalf("apply --list: %v", err)
	}
	requireContains(t, out, "AI/readme.txt")
	requireContains(t, out, "1 entries")
	if _, err := os.Stat(filepath.Join(cfg.Paths.GameDir, "AI", "readme.txt")); err == nil {
		t.Fatal("--list must not apply the package")
	}

	out, _, err = runCLI(t, path, "apply", pkg)
	if err != nil {
		t.Fatalf("apply: %v (output %q)", err, out)
	}
	requireContains(t, out, "PATCHING local.thor")
	requireContains(t, out, "READY")
	if data, err := os.ReadFile(filepath.Join(cfg.Paths.GameDir, "AI", "readme.txt")); err != nil || string(data) != "legacy" {
		t.Fatalf("applied file = %q, %v", data, err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("stdout closed") }

func TestApplyReportsOutputFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeTestConfig(t, cfg)
	pkg := filepath.Join(testsupport.BaseDir(cfg), "local.thor")
	testsupport.WriteLegacyPackage(t, pkg, "",
		testsupport.PackageFile{Name: "readme.txt", Data: []byte("legacy")},
	)

	cmd := newRootCommand()
	cmd.SetOut(failingWriter{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "apply", pkg})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "stdout closed") {
		t.Fatalf("expected output failure, got %v", err)
	}
	if data, err := os.ReadFile(filepath.Join(cfg.Paths.GameDir, "readme.txt")); err != nil || string(data) != "legacy" {
		t.Fatalf("package must still be applied: %q, %v", data, err)
	}
}

func TestArchiveCommands(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeTestConfig(t, cfg)
	testsupport.NewArchive(t, cfg.ArchivePath(), map[string][]byte{
		"data/a.txt":       []byte("alpha"),
		"data/texture.bmp": []byte("bmp bytes"),
	})

	out, _, err := runCLI(t, path, "archive", "info")
	if err != nil {
		t.Fatalf("archive info: %v", err)
	}
	requireContains(t, out, "Entries:       2")
	requireContains(t, out, "Version:       0x200")

	out, _, err = runCLI(t, path, "archive", "ls", "--match", "texture")
	if err != nil {
		t.Fatalf("archive ls: %v", err)
	}
	requireContains(t, out, `data\texture.bmp`)
	if strings.Contains(out, `data\a.txt`) {
		t.Fatalf("filter should exclude data\\a.txt: %s", out)
	}

	outDir := t.TempDir()
	out, _, err = runCLI(t, path, "archive", "extract", "--out", outDir, "DATA/A.TXT")
	if err != nil {
		t.Fatalf("archive extract: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(outDir, "data", "a.txt"))
	if err != nil || string(data) != "alpha" {
		t.Fatalf("extracted = %q, %v (output %q)", data, err, out)
	}

	if _, _, err := runCLI(t, path, "archive", "extract", "--out", outDir, "data/missing.txt"); err == nil {
		t.Fatal("expected failure for missing entry")
	}
}

func TestStatusCommand(t *testing.T) {
	srv, _ := newPatchServer(t, "1 first.zip\n")
	cfg := testsupport.NewConfig(t, testsupport.WithPatchServer("main", srv.URL+"/plist.txt", srv.URL+"/patches/"))
	path := writeTestConfig(t, cfg)

	out, _, err := runCLI(t, path, "status")
	if err != nil {
		t.Fatalf("status: %v (output %q)", err, out)
	}
	requireContains(t, out, "== Preflight ==")
	requireContains(t, out, "1 patches listed")
	requireContains(t, out, "0 recorded")
}

func TestDisplayNameDecodesCP949(t *testing.T) {
	const name = `data\texture\유저인터페이스\item.bmp`
	raw, err := korean.EUCKR.NewEncoder().String(name)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := displayName(raw, true); got != name {
		t.Fatalf("displayName = %q, want %q", got, name)
	}
	if got := displayName(raw, false); got != raw {
		t.Fatal("displayName without cp949 must return the raw name")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	tests := []struct {
		event workflow.StatusEvent
		want  string
	}{
		{workflow.StatusEvent{Status: workflow.StatusChecking}, "CHECKING"},
		{workflow.StatusEvent{Status: workflow.StatusDownloading, Current: 2, Total: 5, Filename: "b.thor"}, "DOWNLOADING [2/5] b.thor"},
		{workflow.StatusEvent{Status: workflow.StatusError, Error: "Download failed: timeout"}, "ERROR: Download failed: timeout"},
		{workflow.StatusEvent{Status: workflow.StatusIdle, Message: "Update cancelled"}, "IDLE: Update cancelled"},
	}
	for _, tc := range tests {
		if got := formatStatusEvent(tc.event); got != tc.want {
			t.Fatalf("formatStatusEvent(%+v) = %q, want %q", tc.event, got, tc.want)
		}
	}
}

func TestFormatProgress(t *testing.T) {
	got := formatProgress(download.Progress{Filename: "a.thor", Downloaded: 512 * 1024, Total: 1024 * 1024, Speed: 1024, Percentage: 50})
	want := "a.thor  512 KiB / 1.0 MiB (50.0%)  1.0 KiB/s"
	if got != want {
		t.Fatalf("formatProgress = %q, want %q", got, want)
	}
	if got := formatProgress(download.Progress{Filename: "b.thor", Downloaded: 10}); !strings.HasPrefix(got, "b.thor  10 B") {
		t.Fatalf("unknown total rendering = %q", got)
	}
}
