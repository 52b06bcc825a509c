package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voicebox/internal/config"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.AudioDir = filepath.Join(base, "audio")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed on defaults: %v", err)
	}
	if cfg.Extraction.TimeoutSeconds != 180 {
		t.Fatalf("unexpected extraction timeout: %d", cfg.Extraction.TimeoutSeconds)
	}
	if cfg.Transcription.PrimaryModel != "small" || cfg.Transcription.FallbackModel != "tiny" {
		t.Fatalf("unexpected model pair: %q/%q", cfg.Transcription.PrimaryModel, cfg.Transcription.FallbackModel)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	content := strings.Join([]string{
		"[paths]",
		`audio_dir = "` + filepath.Join(base, "audio") + `"`,
		`log_dir = "` + filepath.Join(base, "logs") + `"`,
		"[mail]",
		`server = "pop.example.org"`,
		"port = 995",
		"[extraction]",
		`base_url = "http://localhost:11434/"`,
		"timeout_seconds = 60",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Extraction.BaseURL != "http://localhost:11434" {
		t.Fatalf("base url not normalized: %q", cfg.Extraction.BaseURL)
	}
	if cfg.Extraction.TimeoutSeconds != 60 {
		t.Fatalf("timeout not applied: %d", cfg.Extraction.TimeoutSeconds)
	}
	if cfg.Mail.PollIntervalSeconds != 30 {
		t.Fatalf("poll interval default not applied: %d", cfg.Mail.PollIntervalSeconds)
	}
}

func TestLoadRejectsBadLogFormat(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	if err := os.WriteFile(path, []byte("[logging]\nformat = \"xml\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unsupported log format")
	}
}

func TestEnvOverridesMailCredentials(t *testing.T) {
	t.Setenv("VOICEBOX_MAIL_SERVER", "pop.override.example")
	t.Setenv("VOICEBOX_MAIL_PASSWORD", "secret")

	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	if err := os.WriteFile(path, []byte("[mail]\nserver = \"pop.file.example\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mail.Server != "pop.override.example" {
		t.Fatalf("env override not applied: %q", cfg.Mail.Server)
	}
	if cfg.Mail.Password != "secret" {
		t.Fatal("password override not applied")
	}
}
