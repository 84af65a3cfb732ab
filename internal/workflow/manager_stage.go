package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lighthouse/internal/analysis"
	"lighthouse/internal/execution"
	"lighthouse/internal/logging"
	"lighthouse/internal/meetings"
	"lighthouse/internal/queue"
	"lighthouse/internal/rendering"
	"lighthouse/internal/stage"
	"lighthouse/internal/transcription"
)

func (m *Manager) processRun(ctx context.Context, run *queue.Run) error {
	stg, ok := m.stageForStatus(run.Status)
	if !ok {
		m.logger.Warn("no stage configured for status",
			logging.Int64("run_id", run.ID),
			logging.String("status", string(run.Status)))
		m.waitForRunOrShutdown(ctx)
		return nil
	}

	// A run fetched in a processing status was interrupted mid-stage;
	// the stage resumes from its persisted job handles.
	resumed := run.Status == stg.processingStatus

	runLogger := m.logger.With(
		logging.Int64("run_id", run.ID),
		logging.String("meeting_id", run.MeetingID),
		logging.String("stage", stg.name))

	if run.StartedAt == nil {
		now := time.Now().UTC()
		run.StartedAt = &now
	}
	deadline, _ := run.Deadline(m.runBudget)
	if !time.Now().Before(deadline) {
		err := fmt.Errorf("run exceeded the %s processing budget", m.runBudget)
		m.failRun(ctx, runLogger, stg, run, queue.CauseTimeout, err)
		return err
	}
	stageCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if !resumed && stg.startStatus == queue.StatusPending {
		if _, err := m.meetings.Ensure(stageCtx, run.MeetingID, run.SourceKey); err != nil {
			runLogger.Warn("ensure meeting record failed", logging.Error(err))
		}
	}

	if err := m.transitionToProcessing(stageCtx, stg, run); err != nil {
		runLogger.Error("failed to transition run to processing", logging.Error(err))
		m.setLastError(err)
		return err
	}
	if !resumed {
		m.checkpointMeeting(stageCtx, runLogger, stg, run)
	}

	return m.executeStage(stageCtx, runLogger, stg, run, resumed)
}

func (m *Manager) executeStage(ctx context.Context, runLogger *slog.Logger, stg pipelineStage, run *queue.Run, resumed bool) error {
	stageStart := time.Now()
	runLogger.Info("stage started",
		logging.String("source_key", run.SourceKey),
		logging.Bool("resumed", resumed))

	if stg.handler == nil {
		err := errors.New("stage handler unavailable")
		m.failRun(ctx, runLogger, stg, run, queue.CauseInternal, err)
		m.setLastError(err)
		return err
	}

	if err := stg.handler.Prepare(ctx, run); err != nil {
		m.handleStageFailure(ctx, runLogger, stg, run, err)
		return err
	}
	if err := m.store.Update(ctx, run); err != nil {
		wrapped := fmt.Errorf("persist stage preparation: %w", err)
		runLogger.Error("failed to persist stage preparation", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}

	execErr := m.executeWithHeartbeat(ctx, stg.handler, run)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			runLogger.Debug("stage interrupted by shutdown")
			return context.Canceled
		}
		m.handleStageFailure(ctx, runLogger, stg, run, execErr)
		return execErr
	}

	run.Status = stg.doneStatus
	run.LastHeartbeat = nil
	if run.Status == queue.StatusCompleted {
		m.completeRun(ctx, runLogger, run)
	}
	if err := m.store.Update(ctx, run); err != nil {
		wrapped := fmt.Errorf("persist stage result: %w", err)
		runLogger.Error("failed to persist stage result", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}

	runLogger.Info("stage completed",
		logging.String("next_status", string(run.Status)),
		logging.Duration("stage_duration", time.Since(stageStart)))
	m.setLastRun(run)
	return nil
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, handler stage.Handler, run *queue.Run) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, run.ID)

	execErr := handler.Execute(ctx, run)
	hbCancel()
	hbWG.Wait()
	return execErr
}

func (m *Manager) transitionToProcessing(ctx context.Context, stg pipelineStage, run *queue.Run) error {
	now := time.Now().UTC()
	run.Status = stg.processingStatus
	run.ErrorMessage = ""
	run.LastHeartbeat = &now
	if err := m.store.Update(ctx, run); err != nil {
		return fmt.Errorf("persist processing transition: %w", err)
	}
	m.setLastRun(run)
	return nil
}

// checkpointMeeting advances the coarse meeting record when the stage
// has an externally visible milestone. Checkpoint failures never block
// the pipeline.
func (m *Manager) checkpointMeeting(ctx context.Context, runLogger *slog.Logger, stg pipelineStage, run *queue.Run) {
	if stg.meetingStatus == "" {
		return
	}
	if _, err := m.meetings.Advance(ctx, run.MeetingID, stg.meetingStatus, nil); err != nil {
		runLogger.Warn("meeting checkpoint failed",
			logging.String("meeting_status", string(stg.meetingStatus)),
			logging.Error(err))
	}
}

// completeRun finalizes progress fields and moves the meeting record to
// processing-complete with the generated document keys.
func (m *Manager) completeRun(ctx context.Context, runLogger *slog.Logger, run *queue.Run) {
	run.SetProgress("Completed", "Minutes generated and delivered")

	ec, err := stage.LoadContext(run)
	if err != nil {
		runLogger.Warn("completed run has unreadable state", logging.Error(err))
		return
	}

	var transcripts transcription.Record
	var minutes analysis.Record
	var pdf rendering.Record
	_, _ = ec.Get(execution.SlotTranscription, &transcripts)
	_, _ = ec.Get(execution.SlotAnalysis, &minutes)
	_, _ = ec.Get(execution.SlotRendering, &pdf)

	_, err = m.meetings.Advance(ctx, run.MeetingID, meetings.StatusComplete, func(record *meetings.Record) {
		if keys := transcripts.TranscriptKeys(); len(keys) > 0 {
			record.TranscriptKey = keys[0]
		}
		record.MinutesHTMLKey = minutes.HTMLKey
		record.MinutesPDFKey = pdf.PDFKey
	})
	if err != nil {
		runLogger.Warn("meeting completion checkpoint failed", logging.Error(err))
	}
}
