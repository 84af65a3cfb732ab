package config

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: "~/.local/share/lighthouse",
			LogDir:  "~/.local/share/lighthouse/logs",
		},
		AWS: AWS{
			Region: "us-east-1",
		},
		Storage: Storage{
			UploadPrefix:      "uploads/meeting_recordings/",
			AgendaPrefix:      "uploads/agenda_documents/",
			AudioPrefix:       "audio/",
			TranscriptPrefix:  "transcripts/",
			AnalysisPrefix:    "analysis/",
			PresignExpirySecs: 86400,
			ProbeExpirySecs:   300,
		},
		Meetings: Meetings{
			Table: "lighthouse-meetings",
		},
		MediaConvert: MediaConvert{
			ChunkHours: 4,
		},
		Transcribe: Transcribe{
			LanguageCode: "en-US",
			MaxSpeakers:  10,
		},
		Notifications: Notifications{
			Enabled:      true,
			FailureFatal: false,
		},
		Workflow: Workflow{
			QueuePollInterval:      5,
			MaxConcurrentRuns:      4,
			ErrorRetryInterval:     10,
			HeartbeatInterval:      15,
			HeartbeatTimeout:       120,
			UploadScanInterval:     30,
			MaxRunHours:            4,
			ConversionWaitSecs:     120,
			ConversionRecheckSecs:  180,
			TranscriptionPollSecs:  60,
			DocumentJobPollSecs:    15,
			FanoutConcurrencyLimit: 5,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
