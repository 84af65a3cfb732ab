package logging

import (
	"log/slog"
	"path/filepath"

	"lighthouse/internal/config"
)

// NewFromConfig builds the daemon logger from configuration. Output goes
// to stdout and to lighthouse.log under the configured log directory.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	outputs := []string{"stdout"}
	if cfg.Paths.LogDir != "" {
		outputs = append(outputs, filepath.Join(cfg.Paths.LogDir, "lighthouse.log"))
	}
	return New(Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
	})
}
