package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"voicebox/internal/config"
	"voicebox/internal/logging"
	"voicebox/internal/pipeline"
	"voicebox/internal/queue"
)

// Submitter hands received items to the processing pipeline.
type Submitter interface {
	Submit(item *queue.Item) error
}

// Poller periodically fetches the mailbox, persists new items, and submits
// everything in the received state for processing.
type Poller struct {
	fetcher   MailFetcher
	store     *queue.Store
	submitter Submitter
	logger    *slog.Logger
	audioDir  string
	interval  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun time.Time
}

// NewPoller constructs a mailbox poller.
func NewPoller(cfg *config.Config, fetcher MailFetcher, store *queue.Store, submitter Submitter, logger *slog.Logger) *Poller {
	interval := time.Duration(cfg.Mail.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		fetcher:   fetcher,
		store:     store,
		submitter: submitter,
		logger:    logging.NewComponentLogger(logger, "intake"),
		audioDir:  cfg.Paths.AudioDir,
		interval:  interval,
	}
}

// Start begins background polling. The first poll runs immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("poller already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(1)
	go p.run(runCtx)
	return nil
}

// Stop terminates background polling and waits for completion.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// LastRun returns the time of the most recent completed poll.
func (p *Poller) LastRun() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce performs a single fetch-persist-submit cycle.
func (p *Poller) PollOnce(ctx context.Context) {
	messages, err := p.fetchWithRetry(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCredentials) {
			p.logger.Warn("mailbox not configured; skipping poll",
				logging.String(logging.FieldErrorHint, "set mail credentials in the config or VOICEBOX_MAIL_* environment"),
			)
		} else if !errors.Is(err, context.Canceled) {
			p.logger.Error("mailbox fetch failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "mail_fetch_failed"),
			)
		}
	} else {
		p.ingest(ctx, messages)
	}

	p.submitReceived(ctx)

	p.mu.Lock()
	p.lastRun = time.Now().UTC()
	p.mu.Unlock()
}

func (p *Poller) fetchWithRetry(ctx context.Context) ([]Message, error) {
	var messages []Message
	operation := func() error {
		fetched, err := p.fetcher.Fetch(ctx)
		if err != nil {
			if errors.Is(err, ErrNoCredentials) {
				return backoff.Permanent(err)
			}
			return err
		}
		messages = fetched
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return messages, nil
}

func (p *Poller) ingest(ctx context.Context, messages []Message) {
	for _, msg := range messages {
		item := &queue.Item{
			ID:         msg.ID,
			Sender:     msg.Sender,
			Subject:    msg.Subject,
			Phone:      msg.Phone,
			ReceivedAt: msg.ReceivedAt,
			Status:     queue.StatusReceived,
		}

		inserted, err := p.store.InsertIfAbsent(ctx, item)
		if err != nil {
			p.logger.Error("failed to persist new item",
				logging.String(logging.FieldItemID, msg.ID),
				logging.Error(err),
			)
			continue
		}
		if !inserted {
			continue
		}

		audioPath, err := p.saveAudio(msg)
		if err != nil {
			p.logger.Error("failed to save audio attachment",
				logging.String(logging.FieldItemID, msg.ID),
				logging.Error(err),
			)
			item.SetFailed(queue.ReasonInternalError, fmt.Sprintf("save audio: %v", err))
			if updateErr := p.store.Update(ctx, item); updateErr != nil {
				p.logger.Error("failed to persist failure state",
					logging.String(logging.FieldItemID, msg.ID),
					logging.Error(updateErr),
				)
			}
			continue
		}

		item.AudioPath = audioPath
		if err := p.store.Update(ctx, item); err != nil {
			p.logger.Error("failed to persist audio path",
				logging.String(logging.FieldItemID, msg.ID),
				logging.Error(err),
			)
			continue
		}
		p.logger.Info("new voicemail received",
			logging.String(logging.FieldItemID, msg.ID),
			logging.String("sender", msg.Sender),
			logging.String(logging.FieldEventType, "item_received"),
		)
	}
}

func (p *Poller) saveAudio(msg Message) (string, error) {
	if err := os.MkdirAll(p.audioDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure audio dir: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(msg.AudioName))
	if ext == "" {
		ext = ".mp3"
	}
	path := filepath.Join(p.audioDir, "audio_"+sanitizeID(msg.ID)+ext)
	if err := os.WriteFile(path, msg.Audio, 0o644); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	return path, nil
}

func (p *Poller) submitReceived(ctx context.Context) {
	items, err := p.store.ItemsByStatus(ctx, queue.StatusReceived)
	if err != nil {
		p.logger.Error("failed to list received items",
			logging.Error(err),
			logging.String(logging.FieldEventType, "item_list_failed"),
		)
		return
	}
	for _, item := range items {
		if item.AudioPath == "" {
			continue
		}
		if err := p.submitter.Submit(item); err != nil {
			if errors.Is(err, pipeline.ErrAlreadyInFlight) {
				continue
			}
			p.logger.Warn("failed to submit item",
				logging.String(logging.FieldItemID, item.ID),
				logging.Error(err),
			)
		}
	}
}

// sanitizeID makes a message identifier safe to embed in a filename.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_', r == '@':
			return r
		default:
			return '_'
		}
	}, id)
}
