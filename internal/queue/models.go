package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a pipeline run.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConverting     Status = "converting"
	StatusConverted      Status = "converted"
	StatusVerifying      Status = "verifying"
	StatusVerified       Status = "verified"
	StatusTranscribing   Status = "transcribing"
	StatusTranscribed    Status = "transcribed"
	StatusAgendaChecking Status = "agenda_checking"
	StatusAgendaChecked  Status = "agenda_checked"
	StatusAnalyzing      Status = "analyzing"
	StatusAnalyzed       Status = "analyzed"
	StatusRendering      Status = "rendering"
	StatusRendered       Status = "rendered"
	StatusNotifying      Status = "notifying"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// DaemonStopReason is the error message recorded when runs are interrupted by
// daemon shutdown.
const DaemonStopReason = "Daemon stopped"

// FailureCause is the terminal classification recorded when a run fails. The
// cause determines what the notification email and status record report.
type FailureCause string

const (
	CauseConversionSubmitFailed  FailureCause = "ConversionSubmitFailed"
	CauseConversionFailed        FailureCause = "ConversionFailed"
	CauseAudioFileNotFound       FailureCause = "AudioFileNotFound"
	CauseTranscriptionFailed     FailureCause = "TranscriptionFailed"
	CauseTranscriptionProcessing FailureCause = "TranscriptionProcessingFailed"
	CauseEmailNotificationFailed FailureCause = "EmailNotificationFailed"
	CauseTimeout                 FailureCause = "Timeout"
	CauseInternal                FailureCause = "InternalError"
)

var allStatuses = []Status{
	StatusPending,
	StatusConverting,
	StatusConverted,
	StatusVerifying,
	StatusVerified,
	StatusTranscribing,
	StatusTranscribed,
	StatusAgendaChecking,
	StatusAgendaChecked,
	StatusAnalyzing,
	StatusAnalyzed,
	StatusRendering,
	StatusRendered,
	StatusNotifying,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusConverting:     {},
	StatusVerifying:      {},
	StatusTranscribing:   {},
	StatusAgendaChecking: {},
	StatusAnalyzing:      {},
	StatusRendering:      {},
	StatusNotifying:      {},
}

// HealthSummary describes aggregated run counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}

// Run represents a pipeline run persisted in SQLite. One run covers a
// single uploaded recording from discovery to delivered minutes.
type Run struct {
	ID              int64
	MeetingID       string
	SourceKey       string
	Status          Status
	ContextJSON     string
	ProgressStage   string
	ProgressMessage string
	ErrorMessage    string
	FailureCause    FailureCause
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	LastHeartbeat   *time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight stage.
func (r Run) IsProcessing() bool {
	return IsProcessingStatus(r.Status)
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminal reports whether a status ends the run.
func IsTerminal(status Status) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Deadline returns the instant the run must finish by, or false when the
// run has not started processing yet.
func (r Run) Deadline(budget time.Duration) (time.Time, bool) {
	if r.StartedAt == nil {
		return time.Time{}, false
	}
	return r.StartedAt.Add(budget), true
}

// SetProgress updates the stage and message shown in status output.
func (r *Run) SetProgress(stage, message string) {
	r.ProgressStage = stage
	r.ProgressMessage = message
}

// SetFailed marks the run as failed with a cause and message, and clears
// the heartbeat so the monitor stops tracking it.
func (r *Run) SetFailed(cause FailureCause, message string) {
	r.Status = StatusFailed
	r.FailureCause = cause
	r.ErrorMessage = message
	r.ProgressStage = "Failed"
	r.ProgressMessage = message
	r.LastHeartbeat = nil
}
