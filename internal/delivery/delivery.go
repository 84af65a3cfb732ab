// Package delivery implements the final pipeline stage: presigning
// download links for the generated minutes and sending the completion
// notification. Notification failures only fail the run when the
// operator configured them as fatal.
package delivery

import (
	"context"
	"log/slog"
	"path"
	"time"

	"lighthouse/internal/analysis"
	"lighthouse/internal/config"
	"lighthouse/internal/execution"
	"lighthouse/internal/logging"
	"lighthouse/internal/notifications"
	"lighthouse/internal/queue"
	"lighthouse/internal/rendering"
	"lighthouse/internal/retry"
	"lighthouse/internal/services"
	"lighthouse/internal/stage"
)

const stageName = "delivery"

// Record is the persisted result of the delivery stage.
type Record struct {
	Notified bool `json:"notified"`
	// NotifyError holds the delivery failure when notifications are
	// non-fatal and the send did not succeed.
	NotifyError string `json:"notify_error,omitempty"`
}

// ObjectStore is the bucket surface the stage needs.
type ObjectStore interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Stage delivers the finished minutes.
type Stage struct {
	store    ObjectStore
	notifier notifications.Service
	cfg      *config.Config
	logger   *slog.Logger

	sendPolicy retry.Policy
}

// New constructs the delivery stage.
func New(cfg *config.Config, store ObjectStore, notifier notifications.Service, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		sendPolicy: retry.Policy{
			Interval:    30 * time.Second,
			MaxAttempts: 3,
			Multiplier:  2,
		},
	}
}

// Prepare marks progress before the notification goes out.
func (s *Stage) Prepare(ctx context.Context, run *queue.Run) error {
	run.SetProgress("Notifying", "Sending completion notification")
	return nil
}

// Execute presigns download links for the minutes documents and sends
// the ready notification. With notifications configured as non-fatal the
// failure is recorded on the run and the stage still succeeds.
func (s *Stage) Execute(ctx context.Context, run *queue.Run) error {
	ec, err := stage.LoadContext(run)
	if err != nil {
		return err
	}
	if ec.Has(execution.SlotDelivery) {
		s.logger.Info("notification already sent", logging.Int64("run_id", run.ID))
		return nil
	}

	var minutes analysis.Record
	if ok, err := ec.Get(execution.SlotAnalysis, &minutes); err != nil || !ok {
		return services.Wrap(services.ErrValidation, stageName, "load analysis result",
			"run has no minutes document", err)
	}
	var pdf rendering.Record
	if ok, err := ec.Get(execution.SlotRendering, &pdf); err != nil || !ok {
		return services.Wrap(services.ErrValidation, stageName, "load rendering result",
			"run has no minutes PDF", err)
	}

	rec := Record{Notified: true}
	if err := s.notify(ctx, run, minutes.HTMLKey, pdf.PDFKey); err != nil {
		if s.cfg.Notifications.FailureFatal {
			return services.Wrap(services.ErrExternalService, stageName, "send notification",
				run.MeetingID, err)
		}
		s.logger.Warn("notification failed, completing run anyway",
			logging.Int64("run_id", run.ID),
			logging.Error(err))
		rec = Record{Notified: false, NotifyError: err.Error()}
	}

	if err := ec.Set(execution.SlotDelivery, rec); err != nil {
		return err
	}
	return stage.SaveContext(run, ec)
}

func (s *Stage) notify(ctx context.Context, run *queue.Run, htmlKey, pdfKey string) error {
	expiry := time.Duration(s.cfg.Storage.PresignExpirySecs) * time.Second

	htmlLink, err := s.store.PresignGet(ctx, htmlKey, expiry)
	if err != nil {
		return err
	}
	pdfLink, err := s.store.PresignGet(ctx, pdfKey, expiry)
	if err != nil {
		// The HTML link alone is still worth sending.
		s.logger.Warn("pdf link unavailable",
			logging.Int64("run_id", run.ID),
			logging.Error(err))
		pdfLink = ""
	}

	event := notifications.MinutesReady{
		MeetingID:   run.MeetingID,
		SourceName:  path.Base(run.SourceKey),
		HTMLLink:    htmlLink,
		PDFLink:     pdfLink,
		ExpiryHours: int(expiry / time.Hour),
	}
	return retry.Do(ctx, s.logger, s.sendPolicy, "send ready notification", func(ctx context.Context) error {
		return s.notifier.NotifyMinutesReady(ctx, event)
	})
}

// FailureCause maps delivery failures onto the notification cause.
func (s *Stage) FailureCause(error) queue.FailureCause {
	return queue.CauseEmailNotificationFailed
}

// HealthCheck reports readiness.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.cfg.Notifications.Enabled && s.cfg.Notifications.TopicARN == "" {
		return stage.Unhealthy(stageName, "notifications enabled without topic_arn")
	}
	return stage.Healthy(stageName)
}
