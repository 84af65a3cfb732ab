// Package rendering implements the pipeline stage that asks the PDF
// worker to render the HTML minutes document into a PDF. Like analysis,
// the worker runs asynchronously and completion is detected when the
// output object appears.
package rendering

import (
	"context"
	"log/slog"
	"time"

	"lighthouse/internal/analysis"
	"lighthouse/internal/config"
	"lighthouse/internal/execution"
	"lighthouse/internal/jobs"
	"lighthouse/internal/logging"
	"lighthouse/internal/poll"
	"lighthouse/internal/queue"
	"lighthouse/internal/retry"
	"lighthouse/internal/services"
	"lighthouse/internal/stage"
)

const stageName = "rendering"

// Record is the persisted result of the rendering stage.
type Record struct {
	PDFKey string `json:"pdf_key"`
}

// Request is the payload sent to the PDF worker.
type Request struct {
	MeetingID string `json:"meeting_id"`
	Bucket    string `json:"bucket"`
	HTMLKey   string `json:"html_key"`
	OutputKey string `json:"output_key"`
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

// Stage renders the minutes PDF.
type Stage struct {
	store  Bucketer
	client JobClient
	saver  stage.Saver
	cfg    *config.Config
	logger *slog.Logger

	submitPolicy retry.Policy
	pollOpts     poll.Options
}

// New constructs the rendering stage.
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
	run.SetProgress("Rendering", "Rendering minutes PDF")
	return nil
}

// Execute invokes the PDF worker and waits for the output to appear. A
// resumed run that already recorded its output key skips straight to
// polling.
func (s *Stage) Execute(ctx context.Context, run *queue.Run) error {
	ec, err := stage.LoadContext(run)
	if err != nil {
		return err
	}

	var minutes analysis.Record
	ok, err := ec.Get(execution.SlotAnalysis, &minutes)
	if err != nil {
		return err
	}
	if !ok || minutes.HTMLKey == "" {
		return services.Wrap(services.ErrValidation, stageName, "load analysis result",
			"run has no minutes document", nil)
	}

	var rec Record
	ok, err = ec.Get(execution.SlotRendering, &rec)
	if err != nil {
		return err
	}
	if !ok {
		rec = Record{PDFKey: s.cfg.Storage.AnalysisPrefix + stage.BaseName(run.SourceKey) + ".pdf"}

		request := Request{
			MeetingID: run.MeetingID,
			Bucket:    s.store.Bucket(),
			HTMLKey:   minutes.HTMLKey,
			OutputKey: rec.PDFKey,
		}
		err := retry.Do(ctx, s.logger, s.submitPolicy, "invoke pdf worker", func(ctx context.Context) error {
			_, submitErr := s.client.Submit(ctx, request, rec.PDFKey)
			return submitErr
		})
		if err != nil {
			return services.Wrap(services.ErrExternalService, stageName, "invoke pdf worker",
				minutes.HTMLKey, err)
		}

		if err := ec.Set(execution.SlotRendering, rec); err != nil {
			return err
		}
		if err := stage.SaveContext(run, ec); err != nil {
			return err
		}
		if err := s.saver.Update(ctx, run); err != nil {
			return err
		}

		s.logger.Info("pdf worker invoked",
			logging.Int64("run_id", run.ID),
			logging.String("output_key", rec.PDFKey))
	} else {
		s.logger.Info("resuming pdf polling",
			logging.Int64("run_id", run.ID),
			logging.String("output_key", rec.PDFKey))
	}

	run.SetProgress("Rendering", "Waiting for minutes PDF")
	return poll.Wait(ctx, s.logger, s.pollOpts, "pdf output "+rec.PDFKey, func(ctx context.Context) (bool, error) {
		result, err := s.client.Poll(ctx, rec.PDFKey)
		if err != nil {
			return false, err
		}
		switch result.State {
		case jobs.StateSucceeded:
			return true, nil
		case jobs.StateFailed:
			return false, services.Wrap(services.ErrExternalService, stageName, "pdf worker",
				result.Detail, nil)
		default:
			return false, nil
		}
	})
}

// FailureCause maps rendering failures onto the transcript-processing
// cause.
func (s *Stage) FailureCause(error) queue.FailureCause {
	return queue.CauseTranscriptionProcessing
}

// HealthCheck reports readiness.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.cfg.Rendering.FunctionName == "" {
		return stage.Unhealthy(stageName, "rendering function_name not configured")
	}
	return stage.Healthy(stageName)
}
