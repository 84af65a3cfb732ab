package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for invalid or inconsistent values.
// Errors are collected so one pass reports every problem.
func (c *Config) Validate() error {
	var problems []string

	appendProblem := func(err error) {
		if err != nil {
			problems = append(problems, err.Error())
		}
	}

	appendProblem(c.Paths.validate())
	appendProblem(c.AWS.validate())
	appendProblem(c.Storage.validate())
	appendProblem(c.Meetings.validate())
	appendProblem(c.MediaConvert.validate())
	appendProblem(c.Transcribe.validate())
	appendProblem(c.Notifications.validate())
	appendProblem(c.Workflow.validate())
	appendProblem(c.Logging.validate())

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (p *Paths) validate() error {
	if p.DataDir == "" {
		return fmt.Errorf("paths.data_dir must be set")
	}
	if p.LogDir == "" {
		return fmt.Errorf("paths.log_dir must be set")
	}
	return nil
}

func (a *AWS) validate() error {
	if a.Region == "" {
		return fmt.Errorf("aws.region must be set (or AWS_REGION exported)")
	}
	return nil
}

func (s *Storage) validate() error {
	if s.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set (or LIGHTHOUSE_BUCKET exported)")
	}
	if s.PresignExpirySecs <= 0 {
		return fmt.Errorf("storage.presign_expiry_seconds must be positive")
	}
	if s.ProbeExpirySecs <= 0 {
		return fmt.Errorf("storage.probe_expiry_seconds must be positive")
	}
	return nil
}

func (m *Meetings) validate() error {
	if m.Table == "" {
		return fmt.Errorf("meetings.table must be set")
	}
	return nil
}

func (m *MediaConvert) validate() error {
	if m.RoleARN == "" {
		return fmt.Errorf("mediaconvert.role_arn must be set")
	}
	if m.ChunkHours <= 0 {
		return fmt.Errorf("mediaconvert.chunk_hours must be positive")
	}
	return nil
}

func (t *Transcribe) validate() error {
	if t.LanguageCode == "" {
		return fmt.Errorf("transcribe.language_code must be set")
	}
	if t.MaxSpeakers < 2 || t.MaxSpeakers > 30 {
		return fmt.Errorf("transcribe.max_speakers must be between 2 and 30")
	}
	return nil
}

func (n *Notifications) validate() error {
	if !n.Enabled {
		return nil
	}
	if n.TopicARN == "" {
		return fmt.Errorf("notifications.topic_arn must be set when notifications are enabled")
	}
	return nil
}

func (w *Workflow) validate() error {
	positive := map[string]int{
		"workflow.queue_poll_interval":         w.QueuePollInterval,
		"workflow.max_concurrent_runs":         w.MaxConcurrentRuns,
		"workflow.error_retry_interval":        w.ErrorRetryInterval,
		"workflow.heartbeat_interval":          w.HeartbeatInterval,
		"workflow.heartbeat_timeout":           w.HeartbeatTimeout,
		"workflow.upload_scan_interval":        w.UploadScanInterval,
		"workflow.max_run_hours":               w.MaxRunHours,
		"workflow.conversion_wait_seconds":     w.ConversionWaitSecs,
		"workflow.conversion_recheck_seconds":  w.ConversionRecheckSecs,
		"workflow.transcription_poll_seconds":  w.TranscriptionPollSecs,
		"workflow.document_job_poll_seconds":   w.DocumentJobPollSecs,
		"workflow.fanout_concurrency_limit":    w.FanoutConcurrencyLimit,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if w.HeartbeatTimeout <= w.HeartbeatInterval {
		return fmt.Errorf("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	return nil
}

func (l *Logging) validate() error {
	switch l.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json")
	}
	switch l.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}
