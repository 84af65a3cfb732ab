// Package ingest discovers newly uploaded meeting recordings in the
// bucket and enqueues a pipeline run for each. Discovery is a periodic
// prefix scan; the queue's unique source-key constraint makes the scan
// idempotent.
package ingest

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"time"

	"lighthouse/internal/config"
	"lighthouse/internal/logging"
	"lighthouse/internal/queue"
	"lighthouse/internal/stage"
	"lighthouse/internal/storage"
)

// videoExtensions lists the upload types the pipeline accepts. Other
// objects under the prefix are ignored.
var videoExtensions = map[string]struct{}{
	".mp4": {},
	".mov": {},
	".m4v": {},
	".avi": {},
	".mkv": {},
	".webm": {},
}

// ObjectStore is the bucket surface the scanner needs.
type ObjectStore interface {
	ListPrefix(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

// RunStore is the queue surface the scanner needs.
type RunStore interface {
	FindBySourceKey(ctx context.Context, sourceKey string) (*queue.Run, error)
	NewRun(ctx context.Context, meetingID, sourceKey string) (*queue.Run, error)
}

// Scanner enqueues runs for uploaded recordings.
type Scanner struct {
	objects  ObjectStore
	store    RunStore
	prefix   string
	interval time.Duration
	logger   *slog.Logger
}

// New constructs a scanner from configuration.
func New(cfg *config.Config, objects ObjectStore, store RunStore, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scanner{
		objects:  objects,
		store:    store,
		prefix:   cfg.Storage.UploadPrefix,
		interval: time.Duration(cfg.Workflow.UploadScanInterval) * time.Second,
		logger:   logger,
	}
}

// Run scans on the configured interval until the context ends. The first
// scan happens immediately.
func (s *Scanner) Run(ctx context.Context) {
	for {
		if _, err := s.ScanOnce(ctx); err != nil {
			s.logger.Warn("upload scan failed", logging.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}
	}
}

// ScanOnce lists the upload prefix and enqueues a run for every
// recording that does not have one yet. It returns the number of new
// runs.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	objects, err := s.objects.ListPrefix(ctx, s.prefix)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, object := range objects {
		if !s.eligible(object) {
			continue
		}
		existing, err := s.store.FindBySourceKey(ctx, object.Key)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}

		run, err := s.store.NewRun(ctx, stage.BaseName(object.Key), object.Key)
		if err != nil {
			// A concurrent enqueue of the same key loses the unique
			// constraint race; skip and let the winner proceed.
			s.logger.Warn("enqueue upload failed",
				logging.String("source_key", object.Key),
				logging.Error(err))
			continue
		}
		created++
		s.logger.Info("upload enqueued",
			logging.Int64("run_id", run.ID),
			logging.String("source_key", object.Key),
			logging.Int64("size_bytes", object.Size))
	}
	return created, nil
}

func (s *Scanner) eligible(object storage.ObjectInfo) bool {
	if object.Key == s.prefix || strings.HasSuffix(object.Key, "/") {
		return false
	}
	if object.Size == 0 {
		return false
	}
	ext := strings.ToLower(path.Ext(object.Key))
	_, ok := videoExtensions[ext]
	return ok
}
