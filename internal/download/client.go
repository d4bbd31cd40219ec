package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"grfpatch/internal/logging"
	"grfpatch/internal/services"
)

const (
	stageName          = "download"
	chunkSize          = 32 * 1024
	speedWindow        = 500 * time.Millisecond
	defaultRetryDelay  = time.Second
	defaultMaxAttempts = 3
)

// Progress is a snapshot of an in-flight transfer.
type Progress struct {
	Filename   string
	Downloaded int64
	// Total is zero when the server did not announce a length.
	Total int64
	// Speed is bytes per second over the most recent sampling window.
	Speed float64
	// Percentage is zero when Total is unknown.
	Percentage float64
}

// ProgressFunc receives progress snapshots. It runs on the downloading
// goroutine and must not block.
type ProgressFunc func(Progress)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. Its Timeout should stay zero;
// cancellation comes from the request context.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithRetryDelay sets the base delay multiplied by the attempt number.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithSleeper replaces the backoff wait.
func WithSleeper(sleep Sleeper) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithClock replaces the time source used for speed sampling.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client downloads files over HTTP.
type Client struct {
	http       *http.Client
	retryDelay time.Duration
	sleep      Sleeper
	now        func() time.Time
	logger     *slog.Logger
}

// New constructs a Client.
func New(logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{},
		retryDelay: defaultRetryDelay,
		sleep:      sleepContext,
		now:        time.Now,
		logger:     logging.NewComponentLogger(logger, "downloader"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Download streams url to dest. On any failure the partial file is removed.
func (c *Client) Download(ctx context.Context, url, dest string, onProgress ProgressFunc) (err error) {
	filename := filepath.Base(dest)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, stageName, "build request", url, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return c.classify(ctx, "request", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return services.Wrap(services.ErrNetwork, stageName, "request", fmt.Sprintf("%s: status %s", url, resp.Status), nil)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return services.Wrap(services.ErrIO, stageName, "create temp dir", filepath.Dir(dest), err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return services.Wrap(services.ErrIO, stageName, "create file", dest, err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			if removeErr := os.Remove(dest); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				c.logger.Debug("partial download not removed", logging.String("path", dest), logging.Error(removeErr))
			}
		}
	}()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	sampler := NewSampler(10, 0)
	progress := Progress{Filename: filename, Total: total}
	windowStart := c.now()
	var windowBytes int64
	buf := make([]byte, chunkSize)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return services.Wrap(services.ErrIO, stageName, "write file", dest, werr)
			}
			progress.Downloaded += int64(n)
			windowBytes += int64(n)
			if elapsed := c.now().Sub(windowStart); elapsed >= speedWindow {
				progress.Speed = float64(windowBytes) / elapsed.Seconds()
				windowStart = c.now()
				windowBytes = 0
			}
			if total > 0 {
				progress.Percentage = float64(progress.Downloaded) / float64(total) * 100
			}
			if onProgress != nil {
				onProgress(progress)
			}
			if sampler.Sample(progress) {
				c.logger.Debug("download progress",
					logging.String("file", filename),
					logging.Int64("downloaded_bytes", progress.Downloaded),
					logging.Float64("percent", progress.Percentage),
				)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return c.classify(ctx, "read body", url, readErr)
		}
	}

	if total > 0 && progress.Downloaded != total {
		return services.Wrap(services.ErrNetwork, stageName, "read body",
			fmt.Sprintf("%s: got %d of %d bytes", url, progress.Downloaded, total), nil)
	}
	if err = out.Close(); err != nil {
		return services.Wrap(services.ErrIO, stageName, "close file", dest, err)
	}
	c.logger.Info("download complete",
		logging.String("file", filename),
		logging.Int64("size_bytes", progress.Downloaded),
	)
	return nil
}

// DownloadWithRetry runs Download up to maxRetries times, waiting
// retryDelay × attempt between attempts. Exhaustion returns the last error.
func (c *Client) DownloadWithRetry(ctx context.Context, url, dest string, onProgress ProgressFunc, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = defaultMaxAttempts
	}
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = c.Download(ctx, url, dest, onProgress)
		if lastErr == nil {
			return nil
		}
		if services.IsCancelled(lastErr) || !services.Retryable(lastErr) {
			return lastErr
		}
		if attempt == maxRetries {
			break
		}
		delay := c.retryDelay * time.Duration(attempt)
		logging.WarnWithContext(c.logger, "download attempt failed", "download_retry",
			logging.String("url", url),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", maxRetries),
			logging.Duration("retry_in", delay),
			logging.Error(lastErr),
			logging.String(logging.FieldErrorHint, "check the patch server and network connection"),
			logging.String(logging.FieldImpact, "patching waits for the retry"),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return services.Wrap(services.ErrCancelled, stageName, "retry wait", url, err)
		}
	}
	return fmt.Errorf("download failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) classify(ctx context.Context, operation, url string, err error) error {
	if ctx.Err() != nil {
		return services.Wrap(services.ErrCancelled, stageName, operation, url, ctx.Err())
	}
	return services.Wrap(services.ErrNetwork, stageName, operation, url, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
