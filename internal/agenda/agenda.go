// Package agenda implements the pipeline stage that looks for a
// processed agenda document matching the meeting. The agenda is
// best-effort context for minutes generation; a missing or unreadable
// agenda never fails the run.
package agenda

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"lighthouse/internal/config"
	"lighthouse/internal/execution"
	"lighthouse/internal/logging"
	"lighthouse/internal/queue"
	"lighthouse/internal/retry"
	"lighthouse/internal/services"
	"lighthouse/internal/stage"
	"lighthouse/internal/storage"
)

const stageName = "agenda"

// Record is the persisted result of the agenda stage.
type Record struct {
	Found bool `json:"found"`
	// Key is the agenda analysis object that was used, when found.
	Key string `json:"key,omitempty"`
	// Payload is the agenda analysis JSON, passed to the minutes worker.
	Payload string `json:"payload,omitempty"`
}

// ObjectStore is the bucket surface the stage needs.
type ObjectStore interface {
	GetText(ctx context.Context, key string) (string, error)
	ListPrefix(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

// Stage attaches agenda context to the run.
type Stage struct {
	store  ObjectStore
	cfg    *config.Config
	logger *slog.Logger

	lookupPolicy retry.Policy
}

// New constructs the agenda stage.
func New(cfg *config.Config, store ObjectStore, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		store:  store,
		cfg:    cfg,
		logger: logger,
		lookupPolicy: retry.Policy{
			Interval:    10 * time.Second,
			MaxAttempts: 2,
			Multiplier:  2,
		},
	}
}

// Prepare marks progress before the lookup.
func (s *Stage) Prepare(ctx context.Context, run *queue.Run) error {
	run.SetProgress("Checking agenda", "Looking for a matching agenda document")
	return nil
}

// Execute looks for the agenda analysis object matching the meeting base
// name. Lookup errors are logged and recorded as not-found; this stage
// cannot fail the run.
func (s *Stage) Execute(ctx context.Context, run *queue.Run) error {
	ec, err := stage.LoadContext(run)
	if err != nil {
		return err
	}
	if ec.Has(execution.SlotAgenda) {
		s.logger.Info("agenda already resolved", logging.Int64("run_id", run.ID))
		return nil
	}

	rec := s.lookup(ctx, stage.BaseName(run.SourceKey))
	if rec.Found {
		run.SetProgress("Checking agenda", "Agenda found: "+rec.Key)
		s.logger.Info("agenda attached",
			logging.Int64("run_id", run.ID),
			logging.String("agenda_key", rec.Key))
	} else {
		run.SetProgress("Checking agenda", "No agenda found, continuing without one")
		s.logger.Info("no agenda found", logging.Int64("run_id", run.ID))
	}

	if err := ec.Set(execution.SlotAgenda, rec); err != nil {
		return err
	}
	return stage.SaveContext(run, ec)
}

func (s *Stage) lookup(ctx context.Context, baseName string) Record {
	// Direct hit: the agenda processor writes its analysis under the
	// meeting base name.
	directKey := s.cfg.Storage.AnalysisPrefix + "agenda/" + baseName + ".json"
	payload, err := s.fetch(ctx, directKey)
	if err == nil {
		return Record{Found: true, Key: directKey, Payload: payload}
	}
	if !errors.Is(err, services.ErrNotFound) {
		s.logger.Warn("agenda lookup failed, continuing without agenda",
			logging.String("agenda_key", directKey),
			logging.Error(err))
		return Record{}
	}

	// Fall back to scanning the processed-agenda prefix for an object
	// whose base name matches the recording.
	prefix := s.cfg.Storage.AnalysisPrefix + "agenda/"
	objects, err := s.store.ListPrefix(ctx, prefix)
	if err != nil {
		s.logger.Warn("agenda scan failed, continuing without agenda",
			logging.String("prefix", prefix),
			logging.Error(err))
		return Record{}
	}
	for _, object := range objects {
		if !strings.EqualFold(stage.BaseName(object.Key), baseName) {
			continue
		}
		payload, err := s.fetch(ctx, object.Key)
		if err != nil {
			s.logger.Warn("agenda read failed, continuing without agenda",
				logging.String("agenda_key", object.Key),
				logging.Error(err))
			return Record{}
		}
		return Record{Found: true, Key: object.Key, Payload: payload}
	}
	return Record{}
}

func (s *Stage) fetch(ctx context.Context, key string) (string, error) {
	var payload string
	err := retry.Do(ctx, s.logger, s.lookupPolicy, "fetch agenda analysis", func(ctx context.Context) error {
		var fetchErr error
		payload, fetchErr = s.store.GetText(ctx, key)
		return fetchErr
	})
	return payload, err
}

// FailureCause exists for interface completeness; agenda errors are
// internal faults (context serialization), never lookup failures.
func (s *Stage) FailureCause(error) queue.FailureCause {
	return queue.CauseInternal
}

// HealthCheck reports readiness.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy(stageName)
}
