package testsupport

import (
	"path/filepath"
	"testing"

	"voicebox/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.AudioDir = filepath.Join(base, "audio")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Transcription.WorkDir = filepath.Join(base, "work")
	cfg.Mail.Server = "pop.example.test"
	cfg.Mail.Username = "voicebox@example.test"
	cfg.Mail.Password = "secret"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithExtractionTimeout overrides the extraction timeout on the test config.
func WithExtractionTimeout(seconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Extraction.TimeoutSeconds = seconds
	}
}

// WithoutMailCredentials clears the mailbox credentials on the test config.
func WithoutMailCredentials() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Mail.Server = ""
		cfg.Mail.Username = ""
		cfg.Mail.Password = ""
	}
}
