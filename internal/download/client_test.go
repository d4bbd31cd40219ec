package download_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"grfpatch/internal/download"
	"grfpatch/internal/logging"
	"grfpatch/internal/services"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func fakeClock(step time.Duration) func() time.Time {
	current := time.Unix(0, 0)
	return func() time.Time {
		current = current.Add(step)
		return current
	}
}

func TestDownloadWritesFileAndReportsProgress(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 10*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "nested", "patch.thor")
	client := download.New(logging.NewNop(), download.WithClock(fakeClock(300*time.Millisecond)))

	var snapshots []download.Progress
	err := client.Download(context.Background(), server.URL+"/patch.thor", dest, func(p download.Progress) {
		snapshots = append(snapshots, p)
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("downloaded bytes differ")
	}
	if len(snapshots) < len(payload)/(32*1024) {
		t.Fatalf("expected a snapshot per chunk, got %d", len(snapshots))
	}
	first, last := snapshots[0], snapshots[len(snapshots)-1]
	if first.Speed != 0 {
		t.Fatalf("speed should wait for a full sampling window, got %f", first.Speed)
	}
	if last.Downloaded != int64(len(payload)) || last.Total != int64(len(payload)) || last.Percentage != 100 {
		t.Fatalf("unexpected final snapshot: %+v", last)
	}
	if last.Filename != "patch.thor" {
		t.Fatalf("unexpected filename %q", last.Filename)
	}
	sawSpeed := false
	for i, s := range snapshots {
		if s.Speed > 0 {
			sawSpeed = true
		}
		if i > 0 && s.Downloaded < snapshots[i-1].Downloaded {
			t.Fatal("downloaded bytes went backwards")
		}
	}
	if !sawSpeed {
		t.Fatal("expected speed to be sampled")
	}
}

func TestDownloadUnknownLengthReportsZeroPercentage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
			flusher.Flush()
		}
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "stream.bin")
	var last download.Progress
	err := download.New(nil).Download(context.Background(), server.URL, dest, func(p download.Progress) { last = p })
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if last.Total != 0 || last.Percentage != 0 || last.Downloaded != 3000 {
		t.Fatalf("unexpected snapshot for unknown length: %+v", last)
	}
}

func TestDownloadNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "patch.thor")
	err := download.New(nil).Download(context.Background(), server.URL, dest, nil)
	if !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("no file should be created for a failed request")
	}
}

func TestDownloadRemovesPartialFileOnStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		_, _ = w.Write([]byte("short body"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "patch.thor")
	err := download.New(nil).Download(context.Background(), server.URL, dest, nil)
	if !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("partial file should be removed")
	}
}

func TestDownloadWithRetrySucceedsOnThirdAttempt(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	client := download.New(nil, download.WithSleeper(sleeper.sleep))
	dest := filepath.Join(t.TempDir(), "patch.thor")
	if err := client.DownloadWithRetry(context.Background(), server.URL, dest, nil, 3); err != nil {
		t.Fatalf("DownloadWithRetry: %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeper.delays) != len(want) || sleeper.delays[0] != want[0] || sleeper.delays[1] != want[1] {
		t.Fatalf("unexpected backoff delays %v", sleeper.delays)
	}
}

func TestDownloadWithRetryExhaustion(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	client := download.New(nil, download.WithSleeper(sleeper.sleep), download.WithRetryDelay(10*time.Millisecond))
	err := client.DownloadWithRetry(context.Background(), server.URL, filepath.Join(t.TempDir(), "p"), nil, 3)
	if !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("expected attempt count in error, got %v", err)
	}
	if attempts.Load() != 3 || len(sleeper.delays) != 2 || sleeper.delays[1] != 20*time.Millisecond {
		t.Fatalf("unexpected attempts=%d delays=%v", attempts.Load(), sleeper.delays)
	}
}

func TestDownloadWithRetryStopsOnCancellation(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sleeper := func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	client := download.New(nil, download.WithSleeper(sleeper))
	err := client.DownloadWithRetry(ctx, server.URL, filepath.Join(t.TempDir(), "p"), nil, 5)
	if !services.IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts.Load())
	}
}

func TestDownloadCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := download.New(nil).DownloadWithRetry(ctx, server.URL, filepath.Join(t.TempDir(), "p"), nil, 3)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}
