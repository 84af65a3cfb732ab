// Package conversion implements the pipeline stage that turns an
// uploaded meeting recording into one or more MP3 audio objects via
// MediaConvert jobs.
package conversion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lighthouse/internal/config"
	"lighthouse/internal/execution"
	"lighthouse/internal/fanout"
	"lighthouse/internal/jobs"
	"lighthouse/internal/jobs/mediaconvert"
	"lighthouse/internal/logging"
	"lighthouse/internal/media/ffprobe"
	"lighthouse/internal/poll"
	"lighthouse/internal/queue"
	"lighthouse/internal/retry"
	"lighthouse/internal/services"
	"lighthouse/internal/stage"
)

const stageName = "conversion"

// Record is the persisted result of the conversion stage. AudioKeys are
// in part order and drive the downstream verification and transcription
// stages.
type Record struct {
	JobIDs          []string `json:"job_ids"`
	AudioKeys       []string `json:"audio_keys"`
	Chunked         bool     `json:"chunked"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// ObjectStore is the bucket surface the stage needs.
type ObjectStore interface {
	URI(key string) string
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Prober measures source media duration. *ffprobe.Prober satisfies it.
type Prober interface {
	Probe(ctx context.Context, url string) (ffprobe.Info, error)
}

// JobClient submits and polls conversion jobs.
type JobClient interface {
	Submit(ctx context.Context, input mediaconvert.SubmitInput) (string, error)
	Poll(ctx context.Context, jobID string) (jobs.Result, error)
}

// Stage converts recordings to audio.
type Stage struct {
	store  ObjectStore
	prober Prober
	client JobClient
	saver  stage.Saver
	cfg    *config.Config
	logger *slog.Logger

	submitPolicy retry.Policy
	pollOpts     poll.Options
	// planFn computes the job layout; tests substitute degenerate plans.
	planFn func(baseName string, durationSeconds float64, chunkHours int, audioPrefix string) mediaconvert.Plan
}

// New constructs the conversion stage.
func New(cfg *config.Config, store ObjectStore, prober Prober, client JobClient, saver stage.Saver, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		store:  store,
		prober: prober,
		client: client,
		saver:  saver,
		cfg:    cfg,
		logger: logger,
		submitPolicy: retry.Policy{
			Interval:    30 * time.Second,
			MaxAttempts: 3,
			Multiplier:  2,
		},
		pollOpts: poll.Options{
			InitialDelay: time.Duration(cfg.Workflow.ConversionWaitSecs) * time.Second,
			Interval:     time.Duration(cfg.Workflow.ConversionRecheckSecs) * time.Second,
		},
		planFn: mediaconvert.PlanConversion,
	}
}

// Prepare marks where the run is in the pipeline before submission work
// begins.
func (s *Stage) Prepare(ctx context.Context, run *queue.Run) error {
	run.SetProgress("Converting", "Submitting audio conversion")
	return nil
}

// Execute submits one MediaConvert job per planned segment and waits for
// all of them to finish. A resumed run that already recorded its job ids
// skips straight to polling.
func (s *Stage) Execute(ctx context.Context, run *queue.Run) error {
	ec, err := stage.LoadContext(run)
	if err != nil {
		return err
	}

	var rec Record
	ok, err := ec.Get(execution.SlotConversion, &rec)
	if err != nil {
		return err
	}
	if !ok {
		rec, err = s.submitJobs(ctx, run)
		if err != nil {
			return err
		}
		if err := ec.Set(execution.SlotConversion, rec); err != nil {
			return err
		}
		if err := stage.SaveContext(run, ec); err != nil {
			return err
		}
		// Persist the job handles before polling so a restart resumes
		// these jobs instead of submitting duplicates.
		if err := s.saver.Update(ctx, run); err != nil {
			return err
		}
	} else {
		s.logger.Info("resuming conversion polling",
			logging.Int64("run_id", run.ID),
			logging.Int("jobs", len(rec.JobIDs)))
	}

	run.SetProgress("Converting", fmt.Sprintf("Waiting on %d conversion job(s)", len(rec.JobIDs)))

	limit := s.cfg.Workflow.FanoutConcurrencyLimit
	err = fanout.Each(ctx, limit, len(rec.JobIDs), func(ctx context.Context, index int) error {
		return s.waitForJob(ctx, rec.JobIDs[index], rec.AudioKeys[index])
	})
	if err != nil {
		return err
	}

	s.logger.Info("conversion complete",
		logging.Int64("run_id", run.ID),
		logging.Int("parts", len(rec.AudioKeys)),
		logging.Bool("chunked", rec.Chunked))
	return nil
}

func (s *Stage) submitJobs(ctx context.Context, run *queue.Run) (Record, error) {
	duration := s.probeDuration(ctx, run.SourceKey)

	plan := s.planFn(
		stage.BaseName(run.SourceKey),
		duration,
		s.cfg.MediaConvert.ChunkHours,
		s.cfg.Storage.AudioPrefix,
	)

	inputURI := s.store.URI(run.SourceKey)
	destinationURI := s.store.URI(s.cfg.Storage.AudioPrefix)

	jobIDs := make([]string, 0, len(plan.Segments))
	for index, segment := range plan.Segments {
		input := mediaconvert.SubmitInput{
			InputURI:       inputURI,
			DestinationURI: destinationURI,
			SourceKey:      run.SourceKey,
			NameModifier:   plan.NameModifier(index),
		}
		if plan.Chunked() {
			clip := segment
			input.Clip = &clip
		}

		var jobID string
		err := retry.Do(ctx, s.logger, s.submitPolicy, "submit conversion job", func(ctx context.Context) error {
			var submitErr error
			jobID, submitErr = s.client.Submit(ctx, input)
			return submitErr
		})
		if err != nil {
			return Record{}, markSubmitFailure(services.Wrap(
				services.ErrExternalService, stageName, "submit conversion job",
				fmt.Sprintf("part %d of %d", segment.Part, segment.TotalParts), err))
		}
		jobIDs = append(jobIDs, jobID)

		s.logger.Info("conversion job submitted",
			logging.Int64("run_id", run.ID),
			logging.String("job_id", jobID),
			logging.Int("part", segment.Part),
			logging.Int("total_parts", segment.TotalParts))
	}

	if len(jobIDs) == 0 {
		return Record{}, services.Wrap(
			services.ErrExternalService, stageName, "submit conversion job",
			"no conversion jobs were created", nil)
	}

	return Record{
		JobIDs:          jobIDs,
		AudioKeys:       plan.OutputKeys,
		Chunked:         plan.Chunked(),
		DurationSeconds: duration,
	}, nil
}

// probeDuration measures the recording via a short-lived presigned URL.
// Probe failures are not fatal; an unknown duration converts as a single
// job.
func (s *Stage) probeDuration(ctx context.Context, sourceKey string) float64 {
	expiry := time.Duration(s.cfg.Storage.ProbeExpirySecs) * time.Second
	url, err := s.store.PresignGet(ctx, sourceKey, expiry)
	if err != nil {
		s.logger.Warn("duration probe skipped, presign failed",
			logging.String("source_key", sourceKey),
			logging.Error(err))
		return 0
	}

	info, err := s.prober.Probe(ctx, url)
	if err != nil {
		s.logger.Warn("duration probe failed, converting as single job",
			logging.String("source_key", sourceKey),
			logging.Error(err))
		return 0
	}
	return info.DurationSeconds
}

func (s *Stage) waitForJob(ctx context.Context, jobID, audioKey string) error {
	return poll.Wait(ctx, s.logger, s.pollOpts, "conversion job "+jobID, func(ctx context.Context) (bool, error) {
		result, err := s.client.Poll(ctx, jobID)
		if err != nil {
			return false, err
		}
		switch result.State {
		case jobs.StateSucceeded:
			return true, nil
		case jobs.StateFailed:
			return false, services.Wrap(
				services.ErrExternalService, stageName, "conversion job",
				fmt.Sprintf("job %s for %s failed: %s", jobID, audioKey, result.Detail), nil)
		default:
			return false, nil
		}
	})
}

// FailureCause distinguishes submission failures from jobs that ran and
// failed.
func (s *Stage) FailureCause(err error) queue.FailureCause {
	if isSubmitFailure(err) {
		return queue.CauseConversionSubmitFailed
	}
	return queue.CauseConversionFailed
}

// HealthCheck verifies the stage has the configuration it needs.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.cfg.MediaConvert.RoleARN == "" {
		return stage.Unhealthy(stageName, "mediaconvert role_arn not configured")
	}
	return stage.Healthy(stageName)
}
