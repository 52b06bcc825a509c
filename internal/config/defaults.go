package config

const (
	defaultAudioDir            = "~/.local/share/voicebox/audio"
	defaultLogDir              = "~/.local/share/voicebox/logs"
	defaultTranscribeWorkDir   = "~/.local/share/voicebox/work"
	defaultAPIBind             = "127.0.0.1:7512"
	defaultMailPort            = 995
	defaultPollIntervalSeconds = 30
	defaultPrimaryModel        = "small"
	defaultFallbackModel       = "tiny"
	defaultLanguage            = "de"
	defaultExtractionBackend   = "ollama"
	defaultExtractionModel     = "mistral"
	defaultExtractionBaseURL   = "http://127.0.0.1:11434"
	defaultExtractionTimeout   = 180
	defaultErrorRetryInterval  = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			AudioDir: defaultAudioDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Mail: Mail{
			Port:                defaultMailPort,
			TLSEnabled:          true,
			PollIntervalSeconds: defaultPollIntervalSeconds,
		},
		Transcription: Transcription{
			PrimaryModel:  defaultPrimaryModel,
			FallbackModel: defaultFallbackModel,
			Language:      defaultLanguage,
			WorkDir:       defaultTranscribeWorkDir,
		},
		Extraction: Extraction{
			Backend:        defaultExtractionBackend,
			Model:          defaultExtractionModel,
			BaseURL:        defaultExtractionBaseURL,
			TimeoutSeconds: defaultExtractionTimeout,
		},
		Workflow: Workflow{
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
