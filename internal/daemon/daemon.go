package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"voicebox/internal/config"
	"voicebox/internal/intake"
	"voicebox/internal/logging"
	"voicebox/internal/pipeline"
	"voicebox/internal/queue"
	"voicebox/internal/transcribe"
)

// Daemon coordinates the background services and enforces single-instance
// execution via a lock file.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *queue.Store
	pipeline    *pipeline.Manager
	poller      *intake.Poller
	transcriber *transcribe.Service
	api         *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DBPath       string
	LockFilePath string
	ItemStats    map[queue.Status]int
	ActiveItems  int
	LastPollAt   time.Time
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, mgr *pipeline.Manager, poller *intake.Poller, transcriber *transcribe.Service) (*Daemon, error) {
	if cfg == nil || store == nil || mgr == nil || poller == nil || transcriber == nil {
		return nil, errors.New("daemon requires config, store, pipeline, poller, and transcriber")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "voiceboxd.lock")
	d := &Daemon{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		store:       store,
		pipeline:    mgr,
		poller:      poller,
		transcriber: transcriber,
		lockPath:    lockPath,
		lock:        flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, recovers stuck items, and launches the
// pipeline, the mailbox poller, and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another voicebox daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	// Items left in transcribing or extracting by an unclean shutdown go
	// back to received and get picked up by the next poll.
	reset, err := d.store.ResetStuckProcessing(runCtx)
	if err != nil {
		d.releaseStart()
		return fmt.Errorf("reset stuck items: %w", err)
	}
	if reset > 0 {
		d.logger.Info("reset stuck items", logging.Int64("count", reset))
	}

	if err := d.pipeline.Start(runCtx); err != nil {
		d.releaseStart()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.poller.Start(runCtx); err != nil {
		d.pipeline.Stop()
		d.releaseStart()
		return fmt.Errorf("start poller: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.poller.Stop()
		d.pipeline.Stop()
		d.releaseStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("voicebox daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) releaseStart() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	_ = d.lock.Unlock()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	d.poller.Stop()
	d.pipeline.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("voicebox daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// APIAddr returns the bound API address, empty until Start succeeds.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Warn("failed to read item stats", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DBPath:       d.store.Path(),
		LockFilePath: d.lockPath,
		ItemStats:    stats,
		ActiveItems:  d.pipeline.Active(),
		LastPollAt:   d.poller.LastRun(),
	}
}
