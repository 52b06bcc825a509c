package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateMail(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateExtraction(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.AudioDir == "" {
		return errors.New("paths.audio_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateMail() error {
	// Mail settings are optional at load time so the CLI and tests can run
	// without a mailbox; the intake poller refuses to start without them.
	if c.Mail.Port < 0 || c.Mail.Port > 65535 {
		return fmt.Errorf("mail.port %d out of range", c.Mail.Port)
	}
	if c.Mail.PollIntervalSeconds < 1 {
		return errors.New("mail.poll_interval_seconds must be at least 1")
	}
	return nil
}

func (c *Config) validateTranscription() error {
	if c.Transcription.PrimaryModel == "" {
		return errors.New("transcription.primary_model must be set")
	}
	if c.Transcription.Language == "" {
		return errors.New("transcription.language must be set")
	}
	return nil
}

func (c *Config) validateExtraction() error {
	// An unknown backend is reported at extraction time, not here, so a
	// misconfigured daemon still ingests and transcribes mail.
	if c.Extraction.TimeoutSeconds < 1 {
		return errors.New("extraction.timeout_seconds must be at least 1")
	}
	if c.Extraction.Model == "" {
		return errors.New("extraction.model must be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
