package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"voicebox/internal/config"
	"voicebox/internal/extract"
	"voicebox/internal/pipeline"
	"voicebox/internal/queue"
	"voicebox/internal/testsupport"
	"voicebox/internal/transcribe"
)

type stubTranscriber struct {
	fn func(ctx context.Context, audioPath string) (transcribe.Result, error)
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audioPath string) (transcribe.Result, error) {
	return s.fn(ctx, audioPath)
}

type stubExtractor struct {
	fn func(ctx context.Context, transcript string) (queue.ExtractedFields, error)
}

func (s *stubExtractor) Extract(ctx context.Context, transcript string) (queue.ExtractedFields, error) {
	return s.fn(ctx, transcript)
}

func okTranscriber(text, model string) *stubTranscriber {
	return &stubTranscriber{fn: func(context.Context, string) (transcribe.Result, error) {
		return transcribe.Result{Transcript: text, ModelUsed: model, Duration: 2.1}, nil
	}}
}

func okExtractor(fields queue.ExtractedFields) *stubExtractor {
	return &stubExtractor{fn: func(context.Context, string) (queue.ExtractedFields, error) {
		return fields, nil
	}}
}

func startManager(t *testing.T, cfg *config.Config, store *queue.Store, tr pipeline.Transcriber, ex pipeline.Extractor) *pipeline.Manager {
	t.Helper()
	mgr := pipeline.NewManager(cfg, store, tr, ex, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

func waitForStatus(t *testing.T, store *queue.Store, id string, want queue.Status) *queue.Item {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		item, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if item != nil && item.Status == want {
			return item
		}
		time.Sleep(5 * time.Millisecond)
	}
	item, _ := store.GetByID(context.Background(), id)
	t.Fatalf("item %q never reached %q, last: %+v", id, want, item)
	return nil
}

func TestSubmitProcessesItemToDone(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	fields := queue.ExtractedFields{
		FirstName:   "Erika",
		LastName:    "Mustermann",
		RequestType: "Rezept",
		Medication:  "Ibuprofen",
		Dosage:      "400mg",
		Birthdate:   "12.03.1965",
	}
	mgr := startManager(t, cfg, store,
		okTranscriber("Guten Tag, ich brauche ein Rezept.", "tiny"),
		okExtractor(fields),
	)

	item := testsupport.SeedItem(t, store, "msg-42")
	if err := mgr.Submit(item); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := waitForStatus(t, store, "msg-42", queue.StatusDone)
	if got.Transcript != "Guten Tag, ich brauche ein Rezept." {
		t.Fatalf("transcript = %q", got.Transcript)
	}
	if got.ModelUsed != "tiny" || got.Duration != 2.1 {
		t.Fatalf("attempt metadata = %q/%v", got.ModelUsed, got.Duration)
	}
	if got.Fields != fields {
		t.Fatalf("fields = %+v", got.Fields)
	}
	if got.FailureReason != "" || got.ErrorMessage != "" {
		t.Fatalf("unexpected failure info: %q %q", got.FailureReason, got.ErrorMessage)
	}
}

func TestSubmitRejectsConcurrentAttempt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	release := make(chan struct{})
	started := make(chan struct{})
	blocking := &stubTranscriber{fn: func(ctx context.Context, _ string) (transcribe.Result, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return transcribe.Result{}, ctx.Err()
		}
		return transcribe.Result{Transcript: "hallo", ModelUsed: "small", Duration: 1}, nil
	}}
	mgr := startManager(t, cfg, store, blocking, okExtractor(queue.ExtractedFields{}))

	item := testsupport.SeedItem(t, store, "msg-1")
	if err := mgr.Submit(item); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	if err := mgr.Submit(item); !errors.Is(err, pipeline.ErrAlreadyInFlight) {
		t.Fatalf("expected ErrAlreadyInFlight, got %v", err)
	}
	if !mgr.InFlight("msg-1") {
		t.Fatal("expected item to be in flight")
	}

	close(release)
	waitForStatus(t, store, "msg-1", queue.StatusDone)

	// Guard must be released once the attempt finishes.
	got, err := store.GetByID(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	got.ResetForReprocess()
	if err := store.Update(context.Background(), got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := mgr.Submit(got); err != nil {
		t.Fatalf("resubmit after completion: %v", err)
	}
	waitForStatus(t, store, "msg-1", queue.StatusDone)
}

func TestTranscriptionFailureIsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	failing := &stubTranscriber{fn: func(context.Context, string) (transcribe.Result, error) {
		return transcribe.Result{}, errors.New("whisper exited 1")
	}}
	extractorCalled := false
	mgr := startManager(t, cfg, store, failing, &stubExtractor{fn: func(context.Context, string) (queue.ExtractedFields, error) {
		extractorCalled = true
		return queue.ExtractedFields{}, nil
	}})

	item := testsupport.SeedItem(t, store, "msg-1")
	if err := mgr.Submit(item); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := waitForStatus(t, store, "msg-1", queue.StatusFailed)
	if got.FailureReason != queue.ReasonTranscriptionFailed {
		t.Fatalf("failure reason = %q", got.FailureReason)
	}
	if got.ErrorMessage == "" {
		t.Fatal("expected error message")
	}
	if extractorCalled {
		t.Fatal("extractor must not run after transcription failure")
	}
}

func TestExtractionFailureIsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	mgr := startManager(t, cfg, store,
		okTranscriber("hallo", "small"),
		&stubExtractor{fn: func(context.Context, string) (queue.ExtractedFields, error) {
			return queue.ExtractedFields{}, errors.New("model returned garbage")
		}},
	)

	item := testsupport.SeedItem(t, store, "msg-1")
	if err := mgr.Submit(item); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := waitForStatus(t, store, "msg-1", queue.StatusFailed)
	if got.FailureReason != queue.ReasonExtractionFailed {
		t.Fatalf("failure reason = %q", got.FailureReason)
	}
	if got.Transcript != "hallo" {
		t.Fatalf("transcript should persist, got %q", got.Transcript)
	}
}

func TestExtractionTimeoutFailsItem(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithExtractionTimeout(1))
	store := testsupport.MustOpenStore(t, cfg)

	mgr := startManager(t, cfg, store,
		okTranscriber("hallo", "small"),
		&stubExtractor{fn: func(ctx context.Context, _ string) (queue.ExtractedFields, error) {
			<-ctx.Done()
			return queue.ExtractedFields{}, ctx.Err()
		}},
	)

	item := testsupport.SeedItem(t, store, "msg-1")
	if err := mgr.Submit(item); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := waitForStatus(t, store, "msg-1", queue.StatusFailed)
	if got.FailureReason != queue.ReasonExtractionFailed {
		t.Fatalf("failure reason = %q", got.FailureReason)
	}
}

func TestPanicBecomesInternalError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	mgr := startManager(t, cfg, store,
		okTranscriber("hallo", "small"),
		&stubExtractor{fn: func(context.Context, string) (queue.ExtractedFields, error) {
			panic("boom")
		}},
	)

	item := testsupport.SeedItem(t, store, "msg-1")
	if err := mgr.Submit(item); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := waitForStatus(t, store, "msg-1", queue.StatusFailed)
	if got.FailureReason != queue.ReasonInternalError {
		t.Fatalf("failure reason = %q", got.FailureReason)
	}
	if !mgr.Running() {
		t.Fatal("panic must not take the manager down")
	}
	if mgr.InFlight("msg-1") {
		t.Fatal("guard must be released after panic")
	}
}

func TestSubmitRequiresRunningManager(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	mgr := pipeline.NewManager(cfg, store, okTranscriber("x", "small"), okExtractor(queue.ExtractedFields{}), nil)
	item := testsupport.SeedItem(t, store, "msg-1")
	if err := mgr.Submit(item); !errors.Is(err, pipeline.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mgr.Stop()
	if err := mgr.Submit(item); !errors.Is(err, pipeline.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after Stop, got %v", err)
	}
}

func TestStopReturnsInFlightItemToReceived(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	started := make(chan struct{})
	blocking := &stubTranscriber{fn: func(ctx context.Context, _ string) (transcribe.Result, error) {
		close(started)
		<-ctx.Done()
		return transcribe.Result{}, ctx.Err()
	}}
	mgr := pipeline.NewManager(cfg, store, blocking, okExtractor(queue.ExtractedFields{}), nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	item := testsupport.SeedItem(t, store, "msg-1")
	if err := mgr.Submit(item); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	mgr.Stop()

	got, err := store.GetByID(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusReceived {
		t.Fatalf("status after shutdown = %q", got.Status)
	}
}

func TestReprocessResetsAndResubmits(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	mgr := startManager(t, cfg, store,
		okTranscriber("zweiter Versuch", "small"),
		okExtractor(queue.ExtractedFields{FirstName: "Max"}),
	)

	item := testsupport.SeedItem(t, store, "msg-1")
	item.SetFailed(queue.ReasonTranscriptionFailed, "whisper exited 1")
	item.Transcript = "alter Text"
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := mgr.Reprocess(ctx, "msg-1"); err != nil {
		t.Fatalf("Reprocess: %v", err)
	}

	got := waitForStatus(t, store, "msg-1", queue.StatusDone)
	if got.Transcript != "zweiter Versuch" {
		t.Fatalf("transcript = %q", got.Transcript)
	}
	if got.Fields.FirstName != "Max" {
		t.Fatalf("fields = %+v", got.Fields)
	}

	if _, err := mgr.Reprocess(ctx, "missing"); !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// A daemon with a misconfigured extraction backend must still transcribe and
// then fail the item terminally, keeping the transcript queryable.
func TestUnknownBackendFailsItemAfterTranscription(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	cfg.Extraction.Backend = "openai"
	extractor := extract.NewClient(cfg.Extraction)
	mgr := startManager(t, cfg, store, okTranscriber("Guten Tag.", "small"), extractor)

	item := testsupport.SeedItem(t, store, "msg-1")
	if err := mgr.Submit(item); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := waitForStatus(t, store, "msg-1", queue.StatusFailed)
	if got.FailureReason != queue.ReasonExtractionFailed {
		t.Fatalf("failure reason = %q", got.FailureReason)
	}
	if !strings.Contains(got.ErrorMessage, "openai") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
	if got.Transcript != "Guten Tag." {
		t.Fatalf("transcript should persist, got %q", got.Transcript)
	}
}

func TestReprocessGuardsItemBeforeResubmit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	blocking := &stubTranscriber{fn: func(tctx context.Context, _ string) (transcribe.Result, error) {
		close(started)
		select {
		case <-release:
		case <-tctx.Done():
			return transcribe.Result{}, tctx.Err()
		}
		return transcribe.Result{Transcript: "hallo", ModelUsed: "small", Duration: 1}, nil
	}}
	mgr := startManager(t, cfg, store, blocking, okExtractor(queue.ExtractedFields{}))

	item := testsupport.SeedItem(t, store, "msg-1")
	item.SetFailed(queue.ReasonExtractionFailed, "timeout")
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("Update: %v", err)
	}

	accepted, err := mgr.Reprocess(ctx, "msg-1")
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if accepted.Status != queue.StatusReceived {
		t.Fatalf("accepted status = %q", accepted.Status)
	}
	// The guard is held from the moment Reprocess returns, so a concurrent
	// poll cycle cannot start a second attempt for the same item.
	if !mgr.InFlight("msg-1") {
		t.Fatal("expected item to be in flight after Reprocess")
	}
	if err := mgr.Submit(accepted); !errors.Is(err, pipeline.ErrAlreadyInFlight) {
		t.Fatalf("expected ErrAlreadyInFlight, got %v", err)
	}
	if _, err := mgr.Reprocess(ctx, "msg-1"); !errors.Is(err, pipeline.ErrAlreadyInFlight) {
		t.Fatalf("expected ErrAlreadyInFlight from second Reprocess, got %v", err)
	}

	<-started
	close(release)
	waitForStatus(t, store, "msg-1", queue.StatusDone)
}
