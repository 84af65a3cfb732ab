package config

import (
	"os"
	"strings"
)

// normalize expands paths, applies environment fallbacks, and fills
// derived values after the raw TOML decode.
func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}

	if c.AWS.Region == "" {
		if region := os.Getenv("AWS_REGION"); region != "" {
			c.AWS.Region = region
		}
	}
	if c.AWS.Profile == "" {
		if profile := os.Getenv("AWS_PROFILE"); profile != "" {
			c.AWS.Profile = profile
		}
	}
	if c.Storage.Bucket == "" {
		if bucket := os.Getenv("LIGHTHOUSE_BUCKET"); bucket != "" {
			c.Storage.Bucket = bucket
		}
	}
	if c.Meetings.Table == "" {
		if table := os.Getenv("LIGHTHOUSE_MEETINGS_TABLE"); table != "" {
			c.Meetings.Table = table
		}
	}

	c.Storage.UploadPrefix = normalizePrefix(c.Storage.UploadPrefix)
	c.Storage.AgendaPrefix = normalizePrefix(c.Storage.AgendaPrefix)
	c.Storage.AudioPrefix = normalizePrefix(c.Storage.AudioPrefix)
	c.Storage.TranscriptPrefix = normalizePrefix(c.Storage.TranscriptPrefix)
	c.Storage.AnalysisPrefix = normalizePrefix(c.Storage.AnalysisPrefix)

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	return nil
}

// normalizePrefix ensures object key prefixes carry a trailing slash and no
// leading slash, so key construction is simple concatenation.
func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return prefix
	}
	prefix = strings.TrimPrefix(prefix, "/")
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}
