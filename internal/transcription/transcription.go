// Package transcription implements the pipeline stage that turns
// verified audio segments into transcript JSON objects via Transcribe
// jobs, one per segment.
package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lighthouse/internal/config"
	"lighthouse/internal/conversion"
	"lighthouse/internal/execution"
	"lighthouse/internal/fanout"
	"lighthouse/internal/jobs"
	"lighthouse/internal/jobs/transcribe"
	"lighthouse/internal/logging"
	"lighthouse/internal/poll"
	"lighthouse/internal/queue"
	"lighthouse/internal/retry"
	"lighthouse/internal/services"
	"lighthouse/internal/stage"
)

const stageName = "transcription"

// Job ties one audio segment to its transcription job and output object.
type Job struct {
	Name          string `json:"name"`
	AudioKey      string `json:"audio_key"`
	TranscriptKey string `json:"transcript_key"`
}

// Record is the persisted result of the transcription stage. Jobs are in
// part order, matching the conversion record's audio keys.
type Record struct {
	Jobs []Job `json:"jobs"`
}

// TranscriptKeys returns the output object keys in part order.
func (r Record) TranscriptKeys() []string {
	keys := make([]string, len(r.Jobs))
	for i, job := range r.Jobs {
		keys[i] = job.TranscriptKey
	}
	return keys
}

// ObjectStore is the bucket surface the stage needs.
type ObjectStore interface {
	Bucket() string
	URI(key string) string
}

// JobClient submits and polls transcription jobs.
type JobClient interface {
	Submit(ctx context.Context, input transcribe.SubmitInput) (string, error)
	Poll(ctx context.Context, jobName string) (jobs.Result, error)
}

// Stage transcribes converted audio.
type Stage struct {
	store  ObjectStore
	client JobClient
	saver  stage.Saver
	cfg    *config.Config
	logger *slog.Logger

	submitPolicy retry.Policy
	pollOpts     poll.Options
}

// New constructs the transcription stage.
func New(cfg *config.Config, store ObjectStore, client JobClient, saver stage.Saver, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		store:  store,
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
			Interval: time.Duration(cfg.Workflow.TranscriptionPollSecs) * time.Second,
		},
	}
}

// Prepare marks progress before jobs are submitted.
func (s *Stage) Prepare(ctx context.Context, run *queue.Run) error {
	run.SetProgress("Transcribing", "Submitting transcription jobs")
	return nil
}

// Execute submits one Transcribe job per audio segment and waits for all
// of them. A resumed run that already recorded its job names skips
// straight to polling. Job names are unique per submission; Transcribe
// rejects reused names, so at-least-once submission relies on fresh
// names rather than idempotent retries.
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

	var rec Record
	ok, err = ec.Get(execution.SlotTranscription, &rec)
	if err != nil {
		return err
	}
	if !ok {
		rec, err = s.submitJobs(ctx, run, conv.AudioKeys)
		if err != nil {
			return err
		}
		if err := ec.Set(execution.SlotTranscription, rec); err != nil {
			return err
		}
		if err := stage.SaveContext(run, ec); err != nil {
			return err
		}
		if err := s.saver.Update(ctx, run); err != nil {
			return err
		}
	} else {
		s.logger.Info("resuming transcription polling",
			logging.Int64("run_id", run.ID),
			logging.Int("jobs", len(rec.Jobs)))
	}

	run.SetProgress("Transcribing", fmt.Sprintf("Waiting on %d transcription job(s)", len(rec.Jobs)))

	limit := s.cfg.Workflow.FanoutConcurrencyLimit
	err = fanout.Each(ctx, limit, len(rec.Jobs), func(ctx context.Context, index int) error {
		return s.waitForJob(ctx, rec.Jobs[index])
	})
	if err != nil {
		return err
	}

	s.logger.Info("transcription complete",
		logging.Int64("run_id", run.ID),
		logging.Int("transcripts", len(rec.Jobs)))
	return nil
}

func (s *Stage) submitJobs(ctx context.Context, run *queue.Run, audioKeys []string) (Record, error) {
	rec := Record{Jobs: make([]Job, 0, len(audioKeys))}
	for _, audioKey := range audioKeys {
		job := Job{
			Name:          jobName(run.ID, audioKey),
			AudioKey:      audioKey,
			TranscriptKey: s.transcriptKey(audioKey),
		}
		input := transcribe.SubmitInput{
			JobName:      job.Name,
			MediaURI:     s.store.URI(audioKey),
			OutputBucket: s.store.Bucket(),
			OutputKey:    job.TranscriptKey,
		}

		err := retry.Do(ctx, s.logger, s.submitPolicy, "submit transcription job", func(ctx context.Context) error {
			_, submitErr := s.client.Submit(ctx, input)
			return submitErr
		})
		if err != nil {
			return Record{}, services.Wrap(
				services.ErrExternalService, stageName, "submit transcription job", audioKey, err)
		}
		rec.Jobs = append(rec.Jobs, job)

		s.logger.Info("transcription job submitted",
			logging.Int64("run_id", run.ID),
			logging.String("job_name", job.Name),
			logging.String("audio_key", audioKey))
	}
	return rec, nil
}

func (s *Stage) transcriptKey(audioKey string) string {
	return s.cfg.Storage.TranscriptPrefix + stage.BaseName(audioKey) + ".json"
}

// jobName builds a Transcribe job name that is unique per submission and
// traceable back to the run and segment.
func jobName(runID int64, audioKey string) string {
	return fmt.Sprintf("lighthouse-%d-%s-%s", runID, stage.BaseName(audioKey), uuid.NewString()[:8])
}

func (s *Stage) waitForJob(ctx context.Context, job Job) error {
	return poll.Wait(ctx, s.logger, s.pollOpts, "transcription job "+job.Name, func(ctx context.Context) (bool, error) {
		result, err := s.client.Poll(ctx, job.Name)
		if err != nil {
			return false, err
		}
		switch result.State {
		case jobs.StateSucceeded:
			return true, nil
		case jobs.StateFailed:
			return false, services.Wrap(
				services.ErrExternalService, stageName, "transcription job",
				fmt.Sprintf("job %s for %s failed: %s", job.Name, job.AudioKey, result.Detail), nil)
		default:
			return false, nil
		}
	})
}

// FailureCause maps any transcription failure onto the transcription
// cause.
func (s *Stage) FailureCause(error) queue.FailureCause {
	return queue.CauseTranscriptionFailed
}

// HealthCheck reports readiness.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.cfg.Transcribe.LanguageCode == "" {
		return stage.Unhealthy(stageName, "transcribe language_code not configured")
	}
	return stage.Healthy(stageName)
}
