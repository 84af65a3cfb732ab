package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"lighthouse/internal/logging"
	"lighthouse/internal/notifications"
	"lighthouse/internal/queue"
	"lighthouse/internal/services"
	"lighthouse/internal/stage"
)

// persistTimeout bounds failure bookkeeping once the stage context has
// already expired.
const persistTimeout = 10 * time.Second

func (m *Manager) handleStageFailure(ctx context.Context, runLogger *slog.Logger, stg pipelineStage, run *queue.Run, stageErr error) {
	cause := m.failureCause(stg, stageErr)
	m.failRun(ctx, runLogger, stg, run, cause, stageErr)
	m.setLastError(stageErr)
}

// failureCause maps a stage error onto its terminal cause. Deadline
// expiry always wins; otherwise stages that classify their own failures
// get the first say.
func (m *Manager) failureCause(stg pipelineStage, err error) queue.FailureCause {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, services.ErrTimeout) {
		return queue.CauseTimeout
	}
	if classifier, ok := stg.handler.(stage.FailureClassifier); ok {
		return classifier.FailureCause(err)
	}
	if stg.defaultCause != "" {
		return stg.defaultCause
	}
	return queue.CauseInternal
}

func (m *Manager) failRun(ctx context.Context, runLogger *slog.Logger, stg pipelineStage, run *queue.Run, cause queue.FailureCause, stageErr error) {
	message := failureMessage(stg.name, stageErr)
	run.SetFailed(cause, message)

	details := services.Details(stageErr)
	runLogger.Error("stage failed",
		logging.String("failure_cause", string(cause)),
		logging.String("error_kind", string(details.Kind)),
		logging.String("error_message", message),
		logging.Error(stageErr))

	// Failure persistence runs on the parent context; the stage context
	// may already be past its deadline.
	persistCtx := ctx
	if persistCtx.Err() != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
	}

	if err := m.store.Update(persistCtx, run); err != nil {
		if errors.Is(err, context.Canceled) {
			runLogger.Debug("daemon shutting down, could not persist failure")
		} else {
			runLogger.Error("failed to persist run failure", logging.Error(err))
		}
	}

	if err := m.meetings.MarkFailed(persistCtx, run.MeetingID, string(cause), message); err != nil {
		runLogger.Warn("failed to mark meeting failed", logging.Error(err))
	}
	if m.notifier != nil {
		if err := m.notifier.NotifyRunFailed(persistCtx, notifications.RunFailed{
			MeetingID: run.MeetingID,
			Cause:     string(cause),
			Message:   message,
		}); err != nil {
			runLogger.Warn("failure notification not sent", logging.Error(err))
		}
	}
	m.setLastRun(run)
}

func failureMessage(stageName string, stageErr error) string {
	if stageErr == nil {
		return stageName + " failed without error detail"
	}
	details := services.Details(stageErr)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = strings.TrimSpace(stageErr.Error())
	}
	if message == "" {
		message = stageName + " failed"
	}
	return message
}
