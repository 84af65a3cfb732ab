// Package testsupport provides shared fixtures for package tests: fully
// valid configurations rooted in per-test temp directories and run store
// helpers.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"lighthouse/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a validating config seeded with unique temp
// directories per test. AWS resource identifiers are filled with
// placeholders so validation passes without real infrastructure.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Storage.Bucket = "minutes-bucket"
	cfg.MediaConvert.RoleARN = "arn:aws:iam::123456789012:role/mediaconvert"
	cfg.Analysis.FunctionName = "minutes-analysis"
	cfg.Rendering.FunctionName = "minutes-render"
	cfg.Notifications.TopicARN = "arn:aws:sns:us-east-1:123456789012:minutes"
	cfg.Notifications.RecipientEmail = "clerk@example.org"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithBucket overrides the storage bucket on the test config.
func WithBucket(bucket string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Storage.Bucket = bucket
	}
}

// WriteConfig serializes the config to a TOML file under a temp
// directory and returns its path. CLI tests load it through the normal
// config resolution path.
func WriteConfig(t testing.TB, cfg *config.Config) string {
	t.Helper()

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
