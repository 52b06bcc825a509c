package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"voicebox/internal/config"
)

// WhisperCommand is the transcription binary invoked for each attempt.
const WhisperCommand = "whisper"

// Result contains the output of a successful transcription.
type Result struct {
	// Transcript is the plain text transcription.
	Transcript string
	// ModelUsed names the Whisper model that produced the transcript.
	ModelUsed string
	// Duration is the wall-clock transcription time in seconds.
	Duration float64
}

// Service runs the Whisper CLI against voicemail audio. A failed run with
// the primary model is retried once with the fallback model. The model pair
// can change at runtime, so access goes through the mutex.
type Service struct {
	cfg           config.Transcription
	binary        string
	commandRunner func(ctx context.Context, name string, args ...string) error

	mu       sync.RWMutex
	primary  string
	fallback string
}

// NewService creates a transcription service with the given configuration.
func NewService(cfg config.Transcription) *Service {
	return &Service{
		cfg:      cfg,
		binary:   WhisperCommand,
		primary:  cfg.PrimaryModel,
		fallback: cfg.FallbackModel,
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// PrimaryModel returns the active primary model name.
func (s *Service) PrimaryModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary
}

// FallbackModel returns the active fallback model name.
func (s *Service) FallbackModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback
}

// SetModels swaps the model pair at runtime.
func (s *Service) SetModels(primary, fallback string) error {
	primary = strings.TrimSpace(primary)
	if primary == "" {
		return errors.New("primary model required")
	}
	s.mu.Lock()
	s.primary = primary
	s.fallback = strings.TrimSpace(fallback)
	s.mu.Unlock()
	return nil
}

// Transcribe produces a transcript for the given audio file. The primary
// model is tried first; on failure the fallback model gets one attempt. When
// both fail the returned error carries both causes.
func (s *Service) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	if strings.TrimSpace(audioPath) == "" {
		return Result{}, errors.New("transcribe: audio path required")
	}

	s.mu.RLock()
	primary, fallback := s.primary, s.fallback
	s.mu.RUnlock()

	models := []string{primary}
	if fallback != "" && fallback != primary {
		models = append(models, fallback)
	}

	var attemptErrs []error
	for _, model := range models {
		result, err := s.transcribeWith(ctx, model, audioPath)
		if err == nil {
			return result, nil
		}
		attemptErrs = append(attemptErrs, fmt.Errorf("model %q: %w", model, err))
		if ctx.Err() != nil {
			break
		}
	}
	return Result{}, errors.Join(attemptErrs...)
}

func (s *Service) transcribeWith(ctx context.Context, model, audioPath string) (Result, error) {
	if err := os.MkdirAll(s.cfg.WorkDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("ensure work dir: %w", err)
	}
	outputDir, err := os.MkdirTemp(s.cfg.WorkDir, "whisper-")
	if err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}
	defer os.RemoveAll(outputDir)

	args := []string{
		audioPath,
		"--model", model,
		"--language", s.cfg.Language,
		"--output_format", "json",
		"--output_dir", outputDir,
		"--fp16", "False",
	}

	started := time.Now()
	if err := s.run(ctx, s.binary, args...); err != nil {
		return Result{}, err
	}
	elapsed := time.Since(started).Seconds()

	baseName := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	transcript, err := loadTranscriptText(filepath.Join(outputDir, baseName+".json"))
	if err != nil {
		return Result{}, fmt.Errorf("read transcript: %w", err)
	}
	if strings.TrimSpace(transcript) == "" {
		return Result{}, errors.New("empty transcript")
	}

	return Result{
		Transcript: strings.TrimSpace(transcript),
		ModelUsed:  model,
		Duration:   elapsed,
	}, nil
}

func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

type segment struct {
	Text string `json:"text"`
}

// whisperPayload is the JSON structure the Whisper CLI writes.
type whisperPayload struct {
	Text     string    `json:"text"`
	Segments []segment `json:"segments"`
}

func loadTranscriptText(jsonPath string) (string, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return "", err
	}
	var payload whisperPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("parse whisper json: %w", err)
	}
	if text := strings.TrimSpace(payload.Text); text != "" {
		return text, nil
	}
	var parts []string
	for _, seg := range payload.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
