package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"lighthouse/internal/config"
	"lighthouse/internal/logging"
	"lighthouse/internal/meetings"
	"lighthouse/internal/notifications"
	"lighthouse/internal/queue"
	"lighthouse/internal/stage"
)

// MeetingStore is the meeting-record surface the manager needs. Tests
// substitute a fake; *meetings.Store satisfies it.
type MeetingStore interface {
	Ensure(ctx context.Context, meetingID, videoKey string) (*meetings.Record, error)
	Advance(ctx context.Context, meetingID string, status meetings.Status, mutate func(*meetings.Record)) (bool, error)
	MarkFailed(ctx context.Context, meetingID, cause, message string) error
}

// StageSet bundles the concrete pipeline handlers the manager
// orchestrates, in pipeline order.
type StageSet struct {
	Conversion    stage.Handler
	Verification  stage.Handler
	Transcription stage.Handler
	Agenda        stage.Handler
	Analysis      stage.Handler
	Rendering     stage.Handler
	Delivery      stage.Handler
}

type pipelineStage struct {
	name             string
	handler          stage.Handler
	startStatus      queue.Status
	processingStatus queue.Status
	doneStatus       queue.Status
	// defaultCause applies when the handler does not classify its own
	// failures.
	defaultCause queue.FailureCause
	// meetingStatus is the coarse checkpoint written to the meeting
	// record when the stage starts. Empty means no checkpoint.
	meetingStatus meetings.Status
}

// Manager coordinates queue processing using the registered stages.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	meetings MeetingStore
	notifier notifications.Service
	logger   *slog.Logger

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	runBudget          time.Duration
	maxConcurrentRuns  int
	heartbeat          *HeartbeatMonitor

	stages        []pipelineStage
	stageByStatus map[queue.Status]pipelineStage
	fetchOrder    []queue.Status

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastRun  *queue.Run
	inFlight map[int64]struct{}
}

// NewManager constructs a workflow manager. Configure must be called
// with the stage handlers before Start.
func NewManager(cfg *config.Config, store *queue.Store, meetingStore MeetingStore, notifier notifications.Service, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	maxConcurrent := cfg.Workflow.MaxConcurrentRuns
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Manager{
		cfg:                cfg,
		store:              store,
		meetings:           meetingStore,
		notifier:           notifier,
		logger:             logger,
		pollInterval:       time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		runBudget:          time.Duration(cfg.Workflow.MaxRunHours) * time.Hour,
		maxConcurrentRuns:  maxConcurrent,
		inFlight:           make(map[int64]struct{}),
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
	}
}

// Configure registers the pipeline stages. Both the start status and the
// processing status of every stage are dispatchable, so a reclaimed run
// re-enters the stage it was interrupted in.
func (m *Manager) Configure(set StageSet) {
	m.stages = []pipelineStage{
		{
			name:             "conversion",
			handler:          set.Conversion,
			startStatus:      queue.StatusPending,
			processingStatus: queue.StatusConverting,
			doneStatus:       queue.StatusConverted,
			defaultCause:     queue.CauseConversionFailed,
			meetingStatus:    meetings.StatusConverting,
		},
		{
			name:             "verification",
			handler:          set.Verification,
			startStatus:      queue.StatusConverted,
			processingStatus: queue.StatusVerifying,
			doneStatus:       queue.StatusVerified,
			defaultCause:     queue.CauseAudioFileNotFound,
		},
		{
			name:             "transcription",
			handler:          set.Transcription,
			startStatus:      queue.StatusVerified,
			processingStatus: queue.StatusTranscribing,
			doneStatus:       queue.StatusTranscribed,
			defaultCause:     queue.CauseTranscriptionFailed,
			meetingStatus:    meetings.StatusTranscribing,
		},
		{
			name:             "agenda",
			handler:          set.Agenda,
			startStatus:      queue.StatusTranscribed,
			processingStatus: queue.StatusAgendaChecking,
			doneStatus:       queue.StatusAgendaChecked,
			defaultCause:     queue.CauseInternal,
		},
		{
			name:             "analysis",
			handler:          set.Analysis,
			startStatus:      queue.StatusAgendaChecked,
			processingStatus: queue.StatusAnalyzing,
			doneStatus:       queue.StatusAnalyzed,
			defaultCause:     queue.CauseTranscriptionProcessing,
			meetingStatus:    meetings.StatusAnalyzing,
		},
		{
			name:             "rendering",
			handler:          set.Rendering,
			startStatus:      queue.StatusAnalyzed,
			processingStatus: queue.StatusRendering,
			doneStatus:       queue.StatusRendered,
			defaultCause:     queue.CauseTranscriptionProcessing,
		},
		{
			name:             "delivery",
			handler:          set.Delivery,
			startStatus:      queue.StatusRendered,
			processingStatus: queue.StatusNotifying,
			doneStatus:       queue.StatusCompleted,
			defaultCause:     queue.CauseEmailNotificationFailed,
		},
	}

	m.stageByStatus = make(map[queue.Status]pipelineStage, len(m.stages)*2)
	m.fetchOrder = m.fetchOrder[:0]
	for _, stg := range m.stages {
		m.stageByStatus[stg.startStatus] = stg
		m.stageByStatus[stg.processingStatus] = stg
		m.fetchOrder = append(m.fetchOrder, stg.startStatus, stg.processingStatus)
	}
}

func (m *Manager) stageForStatus(status queue.Status) (pipelineStage, bool) {
	stg, ok := m.stageByStatus[status]
	return stg, ok
}

func (m *Manager) markInFlight(id int64) {
	m.mu.Lock()
	m.inFlight[id] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) releaseInFlight(id int64) {
	m.mu.Lock()
	delete(m.inFlight, id)
	m.mu.Unlock()
}

// inFlightIDs snapshots the runs currently held by workers, for
// exclusion from the next fetch.
func (m *Manager) inFlightIDs() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.inFlight) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(m.inFlight))
	for id := range m.inFlight {
		ids = append(ids, id)
	}
	return ids
}
