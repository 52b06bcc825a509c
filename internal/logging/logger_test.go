package logging_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voicebox/internal/config"
	"voicebox/internal/logging"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Format = "json"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	logger.Info("hello", logging.String("key", "value"))

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "voicebox.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Fatalf("log file missing record: %s", data)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var records []slog.Record
	handler := &captureHandler{records: &records}
	logger := slog.New(handler)

	ctx := logging.WithItemID(context.Background(), "42")
	ctx = logging.WithStep(ctx, "transcribe")

	logging.WithContext(ctx, logger).Info("working")

	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	found := map[string]string{}
	records[0].Attrs(func(a slog.Attr) bool {
		found[a.Key] = a.Value.String()
		return true
	})
	if found[logging.FieldItemID] != "42" || found[logging.FieldStep] != "transcribe" {
		t.Fatalf("context fields missing: %v", found)
	}
}

type captureHandler struct {
	records *[]slog.Record
	attrs   []slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	clone := r.Clone()
	for _, a := range h.attrs {
		clone.AddAttrs(a)
	}
	*h.records = append(*h.records, clone)
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &captureHandler{records: h.records}
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return next
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }
