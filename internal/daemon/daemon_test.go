package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"voicebox/internal/api"
	"voicebox/internal/config"
	"voicebox/internal/daemon"
	"voicebox/internal/intake"
	"voicebox/internal/pipeline"
	"voicebox/internal/queue"
	"voicebox/internal/testsupport"
	"voicebox/internal/transcribe"
)

type emptyFetcher struct{}

func (emptyFetcher) Fetch(context.Context) ([]intake.Message, error) { return nil, nil }

type stubExtractor struct {
	fields queue.ExtractedFields
}

func (s stubExtractor) Extract(context.Context, string) (queue.ExtractedFields, error) {
	return s.fields, nil
}

func writeWhisperOutput(t *testing.T, args []string, text string) {
	t.Helper()
	outputDir, audioPath := "", ""
	for i, arg := range args {
		if arg == "--output_dir" && i+1 < len(args) {
			outputDir = args[i+1]
		}
	}
	if len(args) > 0 {
		audioPath = args[0]
	}
	base := filepath.Base(audioPath)
	base = base[:len(base)-len(filepath.Ext(base))]
	payload := `{"text": "` + text + `"}`
	if err := os.WriteFile(filepath.Join(outputDir, base+".json"), []byte(payload), 0o644); err != nil {
		t.Fatalf("write whisper output: %v", err)
	}
}

func startDaemon(t *testing.T, cfg *config.Config, store *queue.Store) (*daemon.Daemon, *api.Client) {
	t.Helper()

	transcriber := transcribe.NewService(cfg.Transcription)
	transcriber.WithCommandRunner(func(_ context.Context, _ string, args ...string) error {
		writeWhisperOutput(t, args, "Guten Tag, ich brauche ein Rezept.")
		return nil
	})
	mgr := pipeline.NewManager(cfg, store, transcriber, stubExtractor{
		fields: queue.ExtractedFields{FirstName: "Erika", RequestType: "Rezept"},
	}, nil)
	poller := intake.NewPoller(cfg, emptyFetcher{}, store, mgr, nil)

	d, err := daemon.New(cfg, store, nil, mgr, poller, transcriber)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	return d, api.NewClient(d.APIAddr())
}

func seedDoneItem(t *testing.T, cfg *config.Config, store *queue.Store, id string) *queue.Item {
	t.Helper()
	item := testsupport.SeedItem(t, store, id)
	if err := os.MkdirAll(cfg.Paths.AudioDir, 0o755); err != nil {
		t.Fatalf("mkdir audio dir: %v", err)
	}
	item.AudioPath = filepath.Join(cfg.Paths.AudioDir, "audio_"+id+".mp3")
	if err := os.WriteFile(item.AudioPath, []byte("mp3 bytes"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	item.Transcript = "Guten Tag"
	item.SetDone(queue.ExtractedFields{FirstName: "Max"})
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return item
}

func TestDaemonStatusEndpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	_, client := startDaemon(t, cfg, store)

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected running daemon")
	}
	if status.PrimaryModel != cfg.Transcription.PrimaryModel {
		t.Fatalf("primary model = %q", status.PrimaryModel)
	}
	if status.PID != os.Getpid() {
		t.Fatalf("pid = %d", status.PID)
	}
}

func TestDaemonItemEndpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	_, client := startDaemon(t, cfg, store)
	ctx := context.Background()

	seedDoneItem(t, cfg, store, "msg-1")

	items, err := client.ListItems(ctx)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 || items[0].ID != "msg-1" {
		t.Fatalf("items = %+v", items)
	}

	if _, err := client.ListItems(ctx, "bogus"); err == nil {
		t.Fatal("expected error for unknown status filter")
	}

	item, err := client.GetItem(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item.Fields.FirstName != "Max" {
		t.Fatalf("fields = %+v", item.Fields)
	}

	if _, err := client.GetItem(ctx, "missing"); !api.IsNotFound(err) {
		t.Fatalf("expected 404, got %v", err)
	}

	transcript, err := client.Transcript(ctx, "msg-1")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if transcript != "Guten Tag" {
		t.Fatalf("transcript = %q", transcript)
	}

	audio, err := client.Audio(ctx, "msg-1")
	if err != nil {
		t.Fatalf("Audio: %v", err)
	}
	if string(audio) != "mp3 bytes" {
		t.Fatalf("audio = %q", audio)
	}

	updated, err := client.UpdateField(ctx, "msg-1", "vorname", "Erika")
	if err != nil {
		t.Fatalf("UpdateField: %v", err)
	}
	if updated.Fields.FirstName != "Erika" {
		t.Fatalf("updated fields = %+v", updated.Fields)
	}
	if _, err := client.UpdateField(ctx, "msg-1", "status", "done"); err == nil {
		t.Fatal("expected error for non-editable field")
	}

	if err := client.Remove(ctx, "msg-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := client.Remove(ctx, "msg-1"); !api.IsNotFound(err) {
		t.Fatalf("expected 404 on second remove, got %v", err)
	}
}

func TestDaemonReprocessEndpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	_, client := startDaemon(t, cfg, store)
	ctx := context.Background()

	item := seedDoneItem(t, cfg, store, "msg-1")
	item.SetFailed(queue.ReasonExtractionFailed, "timeout")
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("Update: %v", err)
	}

	accepted, err := client.Reprocess(ctx, "msg-1")
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if accepted.Status != string(queue.StatusReceived) {
		t.Fatalf("accepted status = %q", accepted.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetByID(ctx, "msg-1")
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Status == queue.StatusDone {
			if got.Fields.FirstName != "Erika" {
				t.Fatalf("fields = %+v", got.Fields)
			}
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := client.Reprocess(ctx, "missing"); !api.IsNotFound(err) {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestDaemonModelEndpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	_, client := startDaemon(t, cfg, store)
	ctx := context.Background()

	models, err := client.Models(ctx)
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if models.PrimaryModel != cfg.Transcription.PrimaryModel {
		t.Fatalf("primary = %q", models.PrimaryModel)
	}

	updated, err := client.SetModels(ctx, api.ModelsPayload{PrimaryModel: "medium", FallbackModel: "base"})
	if err != nil {
		t.Fatalf("SetModels: %v", err)
	}
	if updated.PrimaryModel != "medium" || updated.FallbackModel != "base" {
		t.Fatalf("updated = %+v", updated)
	}

	if _, err := client.SetModels(ctx, api.ModelsPayload{PrimaryModel: " "}); err == nil {
		t.Fatal("expected error for empty primary model")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d, _ := startDaemon(t, cfg, store)

	transcriber := transcribe.NewService(cfg.Transcription)
	mgr := pipeline.NewManager(cfg, store, transcriber, stubExtractor{}, nil)
	poller := intake.NewPoller(cfg, emptyFetcher{}, store, mgr, nil)
	second, err := daemon.New(cfg, store, nil, mgr, poller, transcriber)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second instance to fail on the lock")
	}

	d.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("restart after lock release: %v", err)
	}
	second.Stop()
}

func TestDaemonStartResetsStuckItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	stuck := testsupport.SeedItem(t, store, "msg-1")
	stuck.Status = queue.StatusTranscribing
	if err := store.Update(context.Background(), stuck); err != nil {
		t.Fatalf("Update: %v", err)
	}

	_, client := startDaemon(t, cfg, store)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		item, err := client.GetItem(context.Background(), "msg-1")
		if err != nil {
			t.Fatalf("GetItem: %v", err)
		}
		if item.Status != string(queue.StatusTranscribing) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("stuck item was not reset after start")
}
