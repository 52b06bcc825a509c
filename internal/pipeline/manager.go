package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicebox/internal/config"
	"voicebox/internal/logging"
	"voicebox/internal/queue"
	"voicebox/internal/transcribe"
)

var (
	// ErrAlreadyInFlight indicates the item is being processed right now.
	ErrAlreadyInFlight = errors.New("item already in flight")
	// ErrNotRunning indicates the manager has not been started or was stopped.
	ErrNotRunning = errors.New("pipeline not running")
	// ErrNotFound indicates the requested item does not exist.
	ErrNotFound = errors.New("item not found")
)

// Transcriber produces a transcript for an audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (transcribe.Result, error)
}

// Extractor turns a transcript into the structured field set.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (queue.ExtractedFields, error)
}

// Manager drives items through transcription and extraction. Each submitted
// item runs in its own goroutine; a per-item guard rejects concurrent
// attempts on the same identifier.
type Manager struct {
	store             *queue.Store
	transcriber       Transcriber
	extractor         Extractor
	logger            *slog.Logger
	extractionTimeout time.Duration

	mu       sync.Mutex
	running  bool
	baseCtx  context.Context
	cancel   context.CancelFunc
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// NewManager constructs a pipeline manager.
func NewManager(cfg *config.Config, store *queue.Store, transcriber Transcriber, extractor Extractor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.Extraction.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Manager{
		store:             store,
		transcriber:       transcriber,
		extractor:         extractor,
		logger:            logging.NewComponentLogger(logger, "pipeline"),
		extractionTimeout: timeout,
		inFlight:          make(map[string]struct{}),
	}
}

// Start makes the manager accept submissions. The provided context bounds
// all processing; cancelling it aborts in-flight attempts.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("pipeline already running")
	}
	m.baseCtx, m.cancel = context.WithCancel(ctx)
	m.running = true
	return nil
}

// Stop aborts in-flight attempts and waits for their goroutines to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether the manager accepts submissions.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Active returns the number of in-flight attempts.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inFlight)
}

// InFlight reports whether the given item is being processed right now.
func (m *Manager) InFlight(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inFlight[id]
	return ok
}

// Submit starts processing an item in the background. It returns
// ErrAlreadyInFlight when an attempt for the same identifier is running.
func (m *Manager) Submit(item *queue.Item) error {
	if item == nil {
		return errors.New("item is nil")
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	if _, ok := m.inFlight[item.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyInFlight, item.ID)
	}
	m.inFlight[item.ID] = struct{}{}
	ctx := m.baseCtx
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runAttempt(ctx, item)
	return nil
}

// Reprocess resets a stored item and submits it for a fresh attempt. The
// in-flight guard is taken before the reset so the poller cannot grab the
// item between the status write and the new attempt.
func (m *Manager) Reprocess(ctx context.Context, id string) (*queue.Item, error) {
	item, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil, ErrNotRunning
	}
	if _, ok := m.inFlight[id]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInFlight, id)
	}
	m.inFlight[id] = struct{}{}
	runCtx := m.baseCtx
	m.wg.Add(1)
	m.mu.Unlock()

	item.ResetForReprocess()
	if err := m.store.Update(ctx, item); err != nil {
		m.mu.Lock()
		delete(m.inFlight, id)
		m.mu.Unlock()
		m.wg.Done()
		return nil, err
	}

	// The attempt goroutine owns item from here on; callers get a snapshot.
	snapshot := *item
	go m.runAttempt(runCtx, item)
	return &snapshot, nil
}

func (m *Manager) runAttempt(ctx context.Context, item *queue.Item) {
	correlationID := uuid.NewString()
	ctx = logging.WithItemID(ctx, item.ID)
	ctx = logging.WithCorrelationID(ctx, correlationID)
	logger := logging.WithContext(ctx, m.logger)

	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, item.ID)
		m.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("attempt panicked",
				logging.Any("panic", r),
				logging.String(logging.FieldEventType, "attempt_panic"),
			)
			// The attempt context may already be cancelled; the terminal
			// state must still land in the store.
			m.markFailed(context.Background(), logger, item, queue.ReasonInternalError, fmt.Sprintf("panic: %v", r))
		}
	}()

	logger.Info("processing item",
		logging.String(logging.FieldEventType, "attempt_started"),
	)

	if err := m.transcribeStep(ctx, logger, item); err != nil {
		return
	}
	if err := m.extractStep(ctx, logger, item); err != nil {
		return
	}

	logger.Info("item done",
		logging.String("model_used", item.ModelUsed),
		logging.Float64("transcription_seconds", item.Duration),
		logging.String(logging.FieldEventType, "attempt_completed"),
	)
}

func (m *Manager) transcribeStep(ctx context.Context, logger *slog.Logger, item *queue.Item) error {
	stepCtx := logging.WithStep(ctx, "transcribe")
	stepLogger := logging.WithContext(stepCtx, logger)

	item.Status = queue.StatusTranscribing
	if err := m.store.Update(stepCtx, item); err != nil {
		m.handleStepFailure(ctx, stepLogger, item, queue.ReasonInternalError, fmt.Errorf("persist status: %w", err))
		return err
	}

	result, err := m.transcriber.Transcribe(stepCtx, item.AudioPath)
	if err != nil {
		m.handleStepFailure(ctx, stepLogger, item, queue.ReasonTranscriptionFailed, err)
		return err
	}

	item.Transcript = result.Transcript
	item.ModelUsed = result.ModelUsed
	item.Duration = result.Duration
	stepLogger.Info("transcription finished",
		logging.String("model_used", result.ModelUsed),
		logging.Float64("seconds", result.Duration),
	)
	return nil
}

func (m *Manager) extractStep(ctx context.Context, logger *slog.Logger, item *queue.Item) error {
	stepCtx := logging.WithStep(ctx, "extract")
	stepLogger := logging.WithContext(stepCtx, logger)

	item.Status = queue.StatusExtracting
	if err := m.store.Update(stepCtx, item); err != nil {
		m.handleStepFailure(ctx, stepLogger, item, queue.ReasonInternalError, fmt.Errorf("persist status: %w", err))
		return err
	}

	extractCtx, cancel := context.WithTimeout(stepCtx, m.extractionTimeout)
	defer cancel()

	fields, err := m.extractor.Extract(extractCtx, item.Transcript)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("extraction exceeded %s: %w", m.extractionTimeout, err)
		}
		m.handleStepFailure(ctx, stepLogger, item, queue.ReasonExtractionFailed, err)
		return err
	}

	item.SetDone(fields)
	if err := m.store.Update(stepCtx, item); err != nil {
		m.handleStepFailure(ctx, stepLogger, item, queue.ReasonInternalError, fmt.Errorf("persist result: %w", err))
		return err
	}
	return nil
}

// handleStepFailure records the terminal state for a failed step. When the
// failure is a shutdown cancellation the item returns to received so the
// next daemon start picks it up again.
func (m *Manager) handleStepFailure(ctx context.Context, logger *slog.Logger, item *queue.Item, reason queue.FailureReason, cause error) {
	if ctx.Err() != nil && errors.Is(cause, context.Canceled) {
		item.Status = queue.StatusReceived
		item.FailureReason = ""
		item.ErrorMessage = ""
		if err := m.store.Update(context.Background(), item); err != nil {
			logger.Error("failed to return item to received",
				logging.Error(err),
				logging.String(logging.FieldEventType, "status_persist_failed"),
			)
		}
		logger.Info("attempt aborted by shutdown",
			logging.String(logging.FieldEventType, "attempt_aborted"),
		)
		return
	}

	logger.Error("step failed",
		logging.Error(cause),
		logging.String("failure_reason", string(reason)),
		logging.String(logging.FieldEventType, "attempt_failed"),
	)
	m.markFailed(context.Background(), logger, item, reason, cause.Error())
}

func (m *Manager) markFailed(ctx context.Context, logger *slog.Logger, item *queue.Item, reason queue.FailureReason, message string) {
	item.SetFailed(reason, message)
	if err := m.store.Update(ctx, item); err != nil {
		logger.Error("failed to persist failure state",
			logging.Error(err),
			logging.String(logging.FieldEventType, "status_persist_failed"),
			logging.String(logging.FieldErrorHint, "check item database access"),
		)
	}
}
