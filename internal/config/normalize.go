package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeMail()
	c.normalizeTranscription()
	c.normalizeExtraction()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.AudioDir, err = expandPath(c.Paths.AudioDir); err != nil {
		return fmt.Errorf("paths.audio_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeMail() {
	c.Mail.Server = strings.TrimSpace(c.Mail.Server)
	c.Mail.Username = strings.TrimSpace(c.Mail.Username)
	if c.Mail.Port <= 0 {
		c.Mail.Port = defaultMailPort
	}
	if c.Mail.PollIntervalSeconds <= 0 {
		c.Mail.PollIntervalSeconds = defaultPollIntervalSeconds
	}
}

func (c *Config) normalizeTranscription() {
	c.Transcription.PrimaryModel = strings.TrimSpace(c.Transcription.PrimaryModel)
	c.Transcription.FallbackModel = strings.TrimSpace(c.Transcription.FallbackModel)
	if c.Transcription.PrimaryModel == "" {
		c.Transcription.PrimaryModel = defaultPrimaryModel
	}
	if c.Transcription.Language == "" {
		c.Transcription.Language = defaultLanguage
	}
	if expanded, err := expandPath(c.Transcription.WorkDir); err == nil {
		c.Transcription.WorkDir = expanded
	}
}

func (c *Config) normalizeExtraction() {
	c.Extraction.Backend = strings.ToLower(strings.TrimSpace(c.Extraction.Backend))
	c.Extraction.Model = strings.TrimSpace(c.Extraction.Model)
	c.Extraction.BaseURL = strings.TrimRight(strings.TrimSpace(c.Extraction.BaseURL), "/")
	if c.Extraction.BaseURL == "" {
		c.Extraction.BaseURL = defaultExtractionBaseURL
	}
	if c.Extraction.TimeoutSeconds <= 0 {
		c.Extraction.TimeoutSeconds = defaultExtractionTimeout
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
