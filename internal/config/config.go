package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// AWS contains shared AWS client configuration.
type AWS struct {
	Region   string `toml:"region"`
	Profile  string `toml:"profile"`
	Endpoint string `toml:"endpoint"`
}

// Storage contains S3 bucket layout configuration.
type Storage struct {
	Bucket            string `toml:"bucket"`
	UploadPrefix      string `toml:"upload_prefix"`
	AgendaPrefix      string `toml:"agenda_prefix"`
	AudioPrefix       string `toml:"audio_prefix"`
	TranscriptPrefix  string `toml:"transcript_prefix"`
	AnalysisPrefix    string `toml:"analysis_prefix"`
	PresignExpirySecs int    `toml:"presign_expiry_seconds"`
	ProbeExpirySecs   int    `toml:"probe_expiry_seconds"`
}

// Meetings contains configuration for the meeting metadata store.
type Meetings struct {
	Table string `toml:"table"`
}

// MediaConvert contains configuration for video-to-audio conversion jobs.
type MediaConvert struct {
	RoleARN    string `toml:"role_arn"`
	Queue      string `toml:"queue"`
	ChunkHours int    `toml:"chunk_hours"`
}

// Transcribe contains configuration for speech-to-text jobs.
type Transcribe struct {
	LanguageCode string `toml:"language_code"`
	MaxSpeakers  int    `toml:"max_speakers"`
}

// Analysis contains configuration for the minutes-generation worker.
type Analysis struct {
	FunctionName string `toml:"function_name"`
}

// Rendering contains configuration for the HTML-to-PDF worker.
type Rendering struct {
	FunctionName string `toml:"function_name"`
}

// Notifications contains configuration for delivery notifications.
type Notifications struct {
	TopicARN       string `toml:"topic_arn"`
	RecipientEmail string `toml:"recipient_email"`
	Enabled        bool   `toml:"enabled"`
	FailureFatal   bool   `toml:"failure_fatal"`
}

// Workflow contains daemon timing and pipeline interval configuration.
type Workflow struct {
	QueuePollInterval      int `toml:"queue_poll_interval"`
	MaxConcurrentRuns      int `toml:"max_concurrent_runs"`
	ErrorRetryInterval     int `toml:"error_retry_interval"`
	HeartbeatInterval      int `toml:"heartbeat_interval"`
	HeartbeatTimeout       int `toml:"heartbeat_timeout"`
	UploadScanInterval     int `toml:"upload_scan_interval"`
	MaxRunHours            int `toml:"max_run_hours"`
	ConversionWaitSecs     int `toml:"conversion_wait_seconds"`
	ConversionRecheckSecs  int `toml:"conversion_recheck_seconds"`
	TranscriptionPollSecs  int `toml:"transcription_poll_seconds"`
	DocumentJobPollSecs    int `toml:"document_job_poll_seconds"`
	FanoutConcurrencyLimit int `toml:"fanout_concurrency_limit"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Lighthouse.
//
// Configuration sections by subsystem:
//   - Paths: local data and log directories
//   - AWS: region/profile/endpoint for all AWS clients
//   - Storage: S3 bucket and object key layout
//   - Meetings: DynamoDB meeting record table
//   - MediaConvert: conversion job role, queue, and chunking
//   - Transcribe: transcription language and speaker settings
//   - Analysis / Rendering: worker function names
//   - Notifications: SNS topic and delivery policy
//   - Workflow: daemon polling intervals, deadlines, and fan-out limits
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	AWS           AWS           `toml:"aws"`
	Storage       Storage       `toml:"storage"`
	Meetings      Meetings      `toml:"meetings"`
	MediaConvert  MediaConvert  `toml:"mediaconvert"`
	Transcribe    Transcribe    `toml:"transcribe"`
	Analysis      Analysis      `toml:"analysis"`
	Rendering     Rendering     `toml:"rendering"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/lighthouse/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lighthouse.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFprobeBinary returns the ffprobe executable name used for media probing.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
