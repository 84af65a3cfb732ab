// Package verification implements the pipeline stage that confirms every
// converted audio object actually landed in the bucket before
// transcription begins. MediaConvert reports completion slightly before
// the output is readable, so each check retries on absence.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lighthouse/internal/config"
	"lighthouse/internal/conversion"
	"lighthouse/internal/execution"
	"lighthouse/internal/fanout"
	"lighthouse/internal/logging"
	"lighthouse/internal/queue"
	"lighthouse/internal/retry"
	"lighthouse/internal/services"
	"lighthouse/internal/stage"
	"lighthouse/internal/storage"
)

const stageName = "verification"

// Record is the persisted result of the verification stage.
type Record struct {
	AudioSizes []int64 `json:"audio_sizes"`
}

// ObjectStore is the bucket surface the stage needs.
type ObjectStore interface {
	Head(ctx context.Context, key string) (storage.ObjectInfo, error)
}

// Stage verifies converted audio objects exist.
type Stage struct {
	store  ObjectStore
	cfg    *config.Config
	logger *slog.Logger

	checkPolicy retry.Policy
}

// New constructs the verification stage.
func New(cfg *config.Config, store ObjectStore, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		store:  store,
		cfg:    cfg,
		logger: logger,
		checkPolicy: retry.Policy{
			Interval:    15 * time.Second,
			MaxAttempts: 8,
			Multiplier:  2,
		},
	}
}

// Prepare marks progress before the checks start.
func (s *Stage) Prepare(ctx context.Context, run *queue.Run) error {
	run.SetProgress("Verifying", "Checking converted audio files")
	return nil
}

// Execute checks every audio key recorded by conversion, in parallel with
// per-key retries. A key still missing after the retry budget fails the
// run.
func (s *Stage) Execute(ctx context.Context, run *queue.Run) error {
	ec, err := stage.LoadContext(run)
	if err != nil {
		return err
	}

	var conv conversion.Record
	ok, err := ec.Get(execution.SlotConversion, &conv)
	if err != nil {
		return err
	}
	if !ok || len(conv.AudioKeys) == 0 {
		return services.Wrap(services.ErrValidation, stageName, "load conversion result",
			"run has no recorded audio keys", nil)
	}

	if ec.Has(execution.SlotVerification) {
		s.logger.Info("audio already verified", logging.Int64("run_id", run.ID))
		return nil
	}

	run.SetProgress("Verifying", fmt.Sprintf("Checking %d audio file(s)", len(conv.AudioKeys)))

	limit := s.cfg.Workflow.FanoutConcurrencyLimit
	sizes, err := fanout.Collect(ctx, limit, len(conv.AudioKeys), func(ctx context.Context, index int) (int64, error) {
		return s.verifyObject(ctx, conv.AudioKeys[index])
	})
	if err != nil {
		return err
	}

	if err := ec.Set(execution.SlotVerification, Record{AudioSizes: sizes}); err != nil {
		return err
	}
	if err := stage.SaveContext(run, ec); err != nil {
		return err
	}

	s.logger.Info("audio verified",
		logging.Int64("run_id", run.ID),
		logging.Int("files", len(sizes)))
	return nil
}

func (s *Stage) verifyObject(ctx context.Context, key string) (int64, error) {
	var size int64
	err := retry.Do(ctx, s.logger, s.checkPolicy, "verify audio object", func(ctx context.Context) error {
		info, err := s.store.Head(ctx, key)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				// Not there yet; treat as transient so the policy keeps
				// checking.
				return services.Wrap(services.ErrTransient, stageName, "head audio object", key, err)
			}
			return err
		}
		if info.Size == 0 {
			return services.Wrap(services.ErrTransient, stageName, "head audio object",
				key+" exists but is empty", nil)
		}
		size = info.Size
		return nil
	})
	if err != nil {
		return 0, services.Wrap(services.ErrExternalService, stageName, "verify audio object",
			key+" not found after conversion", err)
	}
	return size, nil
}

// FailureCause maps any verification failure onto the missing-audio
// cause.
func (s *Stage) FailureCause(error) queue.FailureCause {
	return queue.CauseAudioFileNotFound
}

// HealthCheck reports readiness.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.cfg.Storage.Bucket == "" {
		return stage.Unhealthy(stageName, "storage bucket not configured")
	}
	return stage.Healthy(stageName)
}
