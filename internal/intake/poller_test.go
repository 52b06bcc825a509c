package intake_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"voicebox/internal/intake"
	"voicebox/internal/pipeline"
	"voicebox/internal/queue"
	"voicebox/internal/testsupport"
)

type stubFetcher struct {
	mu       sync.Mutex
	calls    int
	messages []intake.Message
	err      error
}

func (s *stubFetcher) Fetch(context.Context) ([]intake.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.messages, nil
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubSubmitter struct {
	mu        sync.Mutex
	submitted []string
	err       error
}

func (s *stubSubmitter) Submit(item *queue.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.submitted = append(s.submitted, item.ID)
	return nil
}

func (s *stubSubmitter) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.submitted...)
}

func testMessage(id string) intake.Message {
	return intake.Message{
		ID:         id,
		Sender:     "caller@example.test",
		Subject:    "Voicemail",
		Phone:      "+49301234567",
		ReceivedAt: time.Now().UTC(),
		AudioName:  "+49301234567-heute.mp3",
		Audio:      []byte("fake mp3 bytes"),
	}
}

func TestPollOnceIngestsAndSubmits(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	fetcher := &stubFetcher{messages: []intake.Message{testMessage("msg-1")}}
	submitter := &stubSubmitter{}
	poller := intake.NewPoller(cfg, fetcher, store, submitter, nil)

	poller.PollOnce(context.Background())

	item, err := store.GetByID(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if item == nil {
		t.Fatal("expected item to be persisted")
	}
	if item.Status != queue.StatusReceived {
		t.Fatalf("status = %q", item.Status)
	}
	if item.Phone != "+49301234567" {
		t.Fatalf("phone = %q", item.Phone)
	}
	wantAudio := filepath.Join(cfg.Paths.AudioDir, "audio_msg-1.mp3")
	if item.AudioPath != wantAudio {
		t.Fatalf("audio path = %q, want %q", item.AudioPath, wantAudio)
	}
	data, err := os.ReadFile(wantAudio)
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if string(data) != "fake mp3 bytes" {
		t.Fatalf("audio content = %q", data)
	}

	if got := submitter.ids(); len(got) != 1 || got[0] != "msg-1" {
		t.Fatalf("submitted = %v", got)
	}
	if poller.LastRun().IsZero() {
		t.Fatal("expected LastRun to be recorded")
	}
}

func TestPollOnceSkipsKnownMessages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	msg := testMessage("msg-1")
	fetcher := &stubFetcher{messages: []intake.Message{msg}}
	submitter := &stubSubmitter{}
	poller := intake.NewPoller(cfg, fetcher, store, submitter, nil)

	poller.PollOnce(context.Background())

	// Mark done, then poll again with the same mailbox content.
	item, err := store.GetByID(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	item.SetDone(queue.ExtractedFields{})
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("Update: %v", err)
	}

	poller.PollOnce(context.Background())

	got, err := store.GetByID(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusDone {
		t.Fatalf("repeat delivery reset status to %q", got.Status)
	}
	if ids := submitter.ids(); len(ids) != 1 {
		t.Fatalf("done item resubmitted: %v", ids)
	}
}

func TestPollOnceSubmitsPendingDespiteFetchError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	item := testsupport.SeedItem(t, store, "msg-1")
	item.AudioPath = filepath.Join(cfg.Paths.AudioDir, "audio_msg-1.mp3")
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("Update: %v", err)
	}

	fetcher := &stubFetcher{err: errors.New("connection refused")}
	submitter := &stubSubmitter{}
	poller := intake.NewPoller(cfg, fetcher, store, submitter, nil)

	poller.PollOnce(context.Background())

	if ids := submitter.ids(); len(ids) != 1 || ids[0] != "msg-1" {
		t.Fatalf("submitted = %v", ids)
	}
	if fetcher.callCount() < 2 {
		t.Fatalf("expected fetch retries, got %d calls", fetcher.callCount())
	}
}

func TestPollOnceDoesNotRetryMissingCredentials(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutMailCredentials())
	store := testsupport.MustOpenStore(t, cfg)

	fetcher := &stubFetcher{err: intake.ErrNoCredentials}
	poller := intake.NewPoller(cfg, fetcher, store, &stubSubmitter{}, nil)

	poller.PollOnce(context.Background())

	if fetcher.callCount() != 1 {
		t.Fatalf("expected a single fetch attempt, got %d", fetcher.callCount())
	}
}

func TestPollOnceToleratesInFlightRejection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	item := testsupport.SeedItem(t, store, "msg-1")
	item.AudioPath = filepath.Join(cfg.Paths.AudioDir, "audio_msg-1.mp3")
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("Update: %v", err)
	}

	fetcher := &stubFetcher{}
	submitter := &stubSubmitter{err: pipeline.ErrAlreadyInFlight}
	poller := intake.NewPoller(cfg, fetcher, store, submitter, nil)

	poller.PollOnce(context.Background())

	got, err := store.GetByID(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusReceived {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestPollerStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	fetcher := &stubFetcher{}
	poller := intake.NewPoller(cfg, fetcher, store, &stubSubmitter{}, nil)

	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := poller.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fetcher.callCount() == 0 {
		t.Fatal("expected an immediate poll after Start")
	}

	poller.Stop()
	poller.Stop()
}
