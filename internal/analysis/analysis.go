// Package analysis implements the pipeline stage that asks the minutes
// worker to turn transcripts (plus optional agenda context) into an HTML
// minutes document. The worker runs asynchronously; completion is
// detected when the output object appears.
package analysis

import (
	"context"
	"log/slog"
	"time"

	"lighthouse/internal/agenda"
	"lighthouse/internal/config"
	"lighthouse/internal/execution"
	"lighthouse/internal/jobs"
	"lighthouse/internal/logging"
	"lighthouse/internal/poll"
	"lighthouse/internal/queue"
	"lighthouse/internal/retry"
	"lighthouse/internal/services"
	"lighthouse/internal/stage"
	"lighthouse/internal/transcription"
)

const stageName = "analysis"

// Record is the persisted result of the analysis stage.
type Record struct {
	HTMLKey string `json:"html_key"`
}

// Request is the payload sent to the minutes worker.
type Request struct {
	MeetingID      string   `json:"meeting_id"`
	Bucket         string   `json:"bucket"`
	TranscriptKeys []string `json:"transcript_keys"`
	Chunked        bool     `json:"chunked"`
	AgendaJSON     string   `json:"agenda_json,omitempty"`
	OutputKey      string   `json:"output_key"`
}

// JobClient submits the worker invocation and polls for its output.
// *invoke.Client satisfies it.
type JobClient interface {
	Submit(ctx context.Context, payload any, outputKey string) (string, error)
	Poll(ctx context.Context, outputKey string) (jobs.Result, error)
}

// Bucketer names the bucket the worker reads from and writes to.
type Bucketer interface {
	Bucket() string
}

// Stage generates the HTML minutes document.
type Stage struct {
	store  Bucketer
	client JobClient
	saver  stage.Saver
	cfg    *config.Config
	logger *slog.Logger

	submitPolicy retry.Policy
	pollOpts     poll.Options
}

// New constructs the analysis stage.
func New(cfg *config.Config, store Bucketer, client JobClient, saver stage.Saver, logger *slog.Logger) *Stage {
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
			Interval: time.Duration(cfg.Workflow.DocumentJobPollSecs) * time.Second,
		},
	}
}

// Prepare marks progress before the worker is invoked.
func (s *Stage) Prepare(ctx context.Context, run *queue.Run) error {
	run.SetProgress("Analyzing", "Generating meeting minutes")
	return nil
}

// Execute invokes the minutes worker and waits for the HTML output to
// appear. A resumed run that already recorded its output key skips
// straight to polling.
func (s *Stage) Execute(ctx context.Context, run *queue.Run) error {
	ec, err := stage.LoadContext(run)
	if err != nil {
		return err
	}

	var transcripts transcription.Record
	ok, err := ec.Get(execution.SlotTranscription, &transcripts)
	if err != nil {
		return err
	}
	if !ok || len(transcripts.Jobs) == 0 {
		return services.Wrap(services.ErrValidation, stageName, "load transcription result",
			"run has no recorded transcripts", nil)
	}

	var rec Record
	ok, err = ec.Get(execution.SlotAnalysis, &rec)
	if err != nil {
		return err
	}
	if !ok {
		rec = Record{HTMLKey: s.cfg.Storage.AnalysisPrefix + stage.BaseName(run.SourceKey) + ".html"}

		request := Request{
			MeetingID:      run.MeetingID,
			Bucket:         s.store.Bucket(),
			TranscriptKeys: transcripts.TranscriptKeys(),
			Chunked:        len(transcripts.Jobs) > 1,
			OutputKey:      rec.HTMLKey,
		}
		var agendaRec agenda.Record
		if ok, err := ec.Get(execution.SlotAgenda, &agendaRec); err == nil && ok && agendaRec.Found {
			request.AgendaJSON = agendaRec.Payload
		}

		err := retry.Do(ctx, s.logger, s.submitPolicy, "invoke minutes worker", func(ctx context.Context) error {
			_, submitErr := s.client.Submit(ctx, request, rec.HTMLKey)
			return submitErr
		})
		if err != nil {
			return services.Wrap(services.ErrExternalService, stageName, "invoke minutes worker",
				run.SourceKey, err)
		}

		if err := ec.Set(execution.SlotAnalysis, rec); err != nil {
			return err
		}
		if err := stage.SaveContext(run, ec); err != nil {
			return err
		}
		if err := s.saver.Update(ctx, run); err != nil {
			return err
		}

		s.logger.Info("minutes worker invoked",
			logging.Int64("run_id", run.ID),
			logging.String("output_key", rec.HTMLKey),
			logging.Int("transcripts", len(transcripts.Jobs)))
	} else {
		s.logger.Info("resuming minutes polling",
			logging.Int64("run_id", run.ID),
			logging.String("output_key", rec.HTMLKey))
	}

	run.SetProgress("Analyzing", "Waiting for meeting minutes")
	return s.waitForOutput(ctx, rec.HTMLKey)
}

func (s *Stage) waitForOutput(ctx context.Context, outputKey string) error {
	return poll.Wait(ctx, s.logger, s.pollOpts, "minutes output "+outputKey, func(ctx context.Context) (bool, error) {
		result, err := s.client.Poll(ctx, outputKey)
		if err != nil {
			return false, err
		}
		switch result.State {
		case jobs.StateSucceeded:
			return true, nil
		case jobs.StateFailed:
			return false, services.Wrap(services.ErrExternalService, stageName, "minutes worker",
				result.Detail, nil)
		default:
			return false, nil
		}
	})
}

// FailureCause maps analysis failures onto the transcript-processing
// cause.
func (s *Stage) FailureCause(error) queue.FailureCause {
	return queue.CauseTranscriptionProcessing
}

// HealthCheck reports readiness.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.cfg.Analysis.FunctionName == "" {
		return stage.Unhealthy(stageName, "analysis function_name not configured")
	}
	return stage.Healthy(stageName)
}
