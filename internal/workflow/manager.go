package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"grfpatch/internal/config"
	"grfpatch/internal/download"
	"grfpatch/internal/fileutil"
	"grfpatch/internal/logging"
	"grfpatch/internal/patchcache"
	"grfpatch/internal/patchlist"
	"grfpatch/internal/services"
	"grfpatch/internal/stage"
	"grfpatch/internal/thor"
)

const lockFileName = ".grfpatch.lock"

// ListFetcher retrieves the server's patch list.
type ListFetcher interface {
	Fetch(ctx context.Context, url string) ([]patchlist.Patch, error)
}

// Downloader transfers one patch package to disk.
type Downloader interface {
	DownloadWithRetry(ctx context.Context, url, dest string, onProgress download.ProgressFunc, maxRetries int) error
}

// Applier applies one patch package to the game directory.
type Applier interface {
	Extract(ctx context.Context, packagePath, targetDir, archiveName string) (thor.Result, error)
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithFetcher replaces the patch list fetcher.
func WithFetcher(fetcher ListFetcher) Option {
	return func(m *Manager) {
		if fetcher != nil {
			m.fetcher = fetcher
		}
	}
}

// WithDownloader replaces the package downloader.
func WithDownloader(downloader Downloader) Option {
	return func(m *Manager) {
		if downloader != nil {
			m.downloader = downloader
		}
	}
}

// WithApplier replaces the package extractor.
func WithApplier(applier Applier) Option {
	return func(m *Manager) {
		if applier != nil {
			m.applier = applier
		}
	}
}

// Manager coordinates update sessions for one game directory.
type Manager struct {
	cfg    *config.Config
	logger *slog.Logger

	fetcher    ListFetcher
	downloader Downloader
	applier    Applier

	downloadStage *downloadStage
	patchStage    *patchStage

	hub  *eventHub
	lock *flock.Flock

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	session *Session
	last    StatusEvent
}

// NewManager constructs a manager from configuration.
func NewManager(cfg *config.Config, logger *slog.Logger, opts ...Option) *Manager {
	logger = logging.NewComponentLogger(logger, "workflow")
	m := &Manager{
		cfg:    cfg,
		logger: logger,
		fetcher: patchlist.NewFetcher(
			time.Duration(cfg.Patching.ListTimeout)*time.Second,
			logger,
		),
		downloader: download.New(logger,
			download.WithRetryDelay(time.Duration(cfg.Patching.RetryDelayMS)*time.Millisecond),
		),
		applier: thor.NewExtractor(thor.Options{
			ArchivePrefix: cfg.Client.ArchivePrefix,
			CreateArchive: cfg.Patching.CreateArchive,
		}, logger),
		hub:  newEventHub(),
		lock: flock.New(filepath.Join(cfg.Paths.GameDir, lockFileName)),
		last: StatusEvent{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.downloadStage = newDownloadStage(cfg, m.downloader, m.hub.publishProgress, logger)
	m.patchStage = newPatchStage(cfg, m.applier, logger)
	return m
}

// Subscribe attaches a subscriber with the given per-stream buffer. Callers
// must Close the subscription when done.
//
// Publishing never waits for a slow subscriber. When the status buffer is
// full the oldest queued status is discarded so the latest one is always
// delivered. When the progress buffer is full the new snapshot is discarded.
func (m *Manager) Subscribe(buffer int) *Subscription {
	return m.hub.subscribe(buffer)
}

// StartUpdate runs one update session to completion and returns its outcome.
// It fails immediately with ErrSessionActive if a session is already running
// for this game directory, in this process or another.
func (m *Manager) StartUpdate(ctx context.Context) Result {
	sessionCtx, release, err := m.begin(ctx)
	if err != nil {
		return Result{Message: err.Error(), Error: err}
	}
	defer release()
	return m.runUpdate(sessionCtx)
}

// ManualPatch applies a single local package outside the patch list. The
// applied cache is not touched.
func (m *Manager) ManualPatch(ctx context.Context, packagePath string) Result {
	sessionCtx, release, err := m.begin(ctx)
	if err != nil {
		return Result{Message: err.Error(), Error: err}
	}
	defer release()
	return m.runManual(sessionCtx, packagePath)
}

// CancelUpdate requests cancellation of the running session. It reports
// whether a session was running.
func (m *Manager) CancelUpdate() bool {
	m.mu.RLock()
	cancel := m.cancel
	running := m.running
	m.mu.RUnlock()
	if !running || cancel == nil {
		return false
	}
	m.logger.Info("update cancellation requested",
		logging.String(logging.FieldEventType, "session_cancel_requested"),
	)
	cancel()
	return true
}

// ResetCache forgets every applied patch so the next update reapplies the
// whole list. With hard set the database file itself is deleted, which also
// recovers from a schema mismatch.
func (m *Manager) ResetCache(ctx context.Context, hard bool) (int64, error) {
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if running {
		return 0, ErrSessionActive
	}

	path := m.cfg.Paths.CachePath
	if hard {
		for _, candidate := range []string{path, path + "-wal", path + "-shm"} {
			if err := fileutil.RemoveIfExists(candidate); err != nil {
				return 0, services.Wrap(services.ErrIO, "cache", "remove cache file", candidate, err)
			}
		}
		m.logger.Info("applied patch cache deleted",
			logging.String(logging.FieldEventType, "cache_deleted"),
			logging.String("path", path),
		)
		return 0, nil
	}

	store, err := patchcache.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer store.Close()
	removed, err := store.Reset(ctx)
	if err != nil {
		return 0, err
	}
	m.logger.Info("applied patch cache reset",
		logging.String(logging.FieldEventType, "cache_reset"),
		logging.Int64("removed", removed),
	)
	return removed, nil
}

// AppliedPatches lists the patches recorded as applied.
func (m *Manager) AppliedPatches(ctx context.Context) ([]patchcache.Record, error) {
	store, err := patchcache.Open(ctx, m.cfg.Paths.CachePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.List(ctx)
}

// Session returns a copy of the running session, if any.
func (m *Manager) Session() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return Session{}, false
	}
	copy := *m.session
	copy.Pending = append([]patchlist.Patch(nil), m.session.Pending...)
	return copy, true
}

// LastStatus returns the most recently published status event.
func (m *Manager) LastStatus() StatusEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Health reports the readiness of each stage.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	return []stage.Health{
		m.downloadStage.HealthCheck(ctx),
		m.patchStage.HealthCheck(ctx),
	}
}

// begin claims the game directory for a new session. The returned release
// function must be called when the session ends.
func (m *Manager) begin(ctx context.Context) (context.Context, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil, nil, ErrSessionActive
	}

	if err := os.MkdirAll(m.cfg.Paths.GameDir, 0o755); err != nil {
		return nil, nil, services.Wrap(services.ErrIO, "session", "prepare game dir", m.cfg.Paths.GameDir, err)
	}
	locked, err := m.lock.TryLock()
	if err != nil {
		return nil, nil, services.Wrap(services.ErrIO, "session", "acquire lock", m.lock.Path(), err)
	}
	if !locked {
		return nil, nil, fmt.Errorf("%w (locked by another process: %s)", ErrSessionActive, m.lock.Path())
	}

	id := uuid.NewString()
	sessionCtx, cancel := context.WithCancel(services.WithSessionID(ctx, id))
	m.running = true
	m.cancel = cancel
	m.session = &Session{ID: id, Stage: StatusIdle, StartedAt: time.Now().UTC()}

	release := func() {
		cancel()
		if err := m.lock.Unlock(); err != nil {
			logging.WarnWithContext(m.logger, "failed to release session lock", "session_lock_release_failed",
				logging.String("lock", m.lock.Path()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "delete the lock file if no grfpatch process is running"),
				logging.String(logging.FieldImpact, "the next session in another process may be refused"),
			)
		}
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.session = nil
		m.mu.Unlock()
	}
	return sessionCtx, release, nil
}

// emit records and publishes a status event, stamping the session ID.
func (m *Manager) emit(event StatusEvent) {
	m.mu.Lock()
	if m.session != nil {
		event.SessionID = m.session.ID
		m.session.Stage = event.Status
		if event.Error != "" {
			m.session.LastError = event.Error
		}
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	m.last = event
	m.mu.Unlock()
	m.hub.publishStatus(event)
}

func (m *Manager) setPending(pending []patchlist.Patch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Pending = append([]patchlist.Patch(nil), pending...)
	}
}
