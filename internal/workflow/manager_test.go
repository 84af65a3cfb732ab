package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lighthouse/internal/logging"
	"lighthouse/internal/meetings"
	"lighthouse/internal/notifications"
	"lighthouse/internal/queue"
	"lighthouse/internal/retry"
	"lighthouse/internal/services"
	"lighthouse/internal/stage"
	"lighthouse/internal/testsupport"
)

type fakeHandler struct {
	name string

	mu       sync.Mutex
	prepares int
	executes int
	execErr  error
}

func (f *fakeHandler) Prepare(_ context.Context, run *queue.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepares++
	run.SetProgress(f.name, f.name+" started")
	return nil
}

func (f *fakeHandler) Execute(context.Context, *queue.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executes++
	return f.execErr
}

func (f *fakeHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(f.name)
}

func (f *fakeHandler) executeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.executes
}

type classifiedHandler struct {
	fakeHandler
	cause queue.FailureCause
}

func (c *classifiedHandler) FailureCause(error) queue.FailureCause { return c.cause }

// rendezvousHandler blocks each execution until two runs have entered
// the stage, so it only completes when the manager works on both runs
// at the same time.
type rendezvousHandler struct {
	fakeHandler
	gateMu  sync.Mutex
	entered int
	both    chan struct{}
}

func (h *rendezvousHandler) Execute(ctx context.Context, _ *queue.Run) error {
	h.gateMu.Lock()
	h.entered++
	if h.entered == 2 {
		close(h.both)
	}
	h.gateMu.Unlock()

	select {
	case <-h.both:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *rendezvousHandler) enteredCount() int {
	h.gateMu.Lock()
	defer h.gateMu.Unlock()
	return h.entered
}

// retryingHandler sits in a long transient-retry wait, the shape of a
// verification stage whose audio object has not appeared yet.
type retryingHandler struct {
	fakeHandler
	entered chan struct{}
	once    sync.Once
}

func (h *retryingHandler) Execute(ctx context.Context, _ *queue.Run) error {
	policy := retry.Policy{Interval: time.Hour, MaxAttempts: 8, Multiplier: 2}
	return retry.Do(ctx, nil, policy, "verify audio object", func(context.Context) error {
		h.once.Do(func() { close(h.entered) })
		return services.Wrap(services.ErrTransient, "verification", "head audio object", "not yet", nil)
	})
}

type fakeMeetings struct {
	mu       sync.Mutex
	ensured  []string
	advanced []meetings.Status
	failed   []string
	records  map[string]*meetings.Record
}

func newFakeMeetings() *fakeMeetings {
	return &fakeMeetings{records: make(map[string]*meetings.Record)}
}

func (f *fakeMeetings) Ensure(_ context.Context, meetingID, videoKey string) (*meetings.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, meetingID)
	record, ok := f.records[meetingID]
	if !ok {
		record = &meetings.Record{MeetingID: meetingID, Status: meetings.StatusUploading, VideoKey: videoKey}
		f.records[meetingID] = record
	}
	return record, nil
}

func (f *fakeMeetings) Advance(_ context.Context, meetingID string, status meetings.Status, mutate func(*meetings.Record)) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanced = append(f.advanced, status)
	record, ok := f.records[meetingID]
	if !ok {
		record = &meetings.Record{MeetingID: meetingID}
		f.records[meetingID] = record
	}
	record.Status = status
	if mutate != nil {
		mutate(record)
	}
	return true, nil
}

func (f *fakeMeetings) MarkFailed(_ context.Context, meetingID, cause, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, cause)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	ready  int
	failed []notifications.RunFailed
}

func (f *fakeNotifier) NotifyMinutesReady(context.Context, notifications.MinutesReady) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready++
	return nil
}

func (f *fakeNotifier) NotifyRunFailed(_ context.Context, event notifications.RunFailed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, event)
	return nil
}

func (f *fakeNotifier) TestNotification(context.Context) error { return nil }

type managerFixture struct {
	manager  *Manager
	store    *queue.Store
	meetings *fakeMeetings
	notifier *fakeNotifier
	handlers map[string]*fakeHandler
}

func newFixture(t *testing.T, mutate func(*StageSet)) *managerFixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 1
	store := testsupport.MustOpenStore(t, cfg)

	handlers := map[string]*fakeHandler{
		"conversion":    {name: "conversion"},
		"verification":  {name: "verification"},
		"transcription": {name: "transcription"},
		"agenda":        {name: "agenda"},
		"analysis":      {name: "analysis"},
		"rendering":     {name: "rendering"},
		"delivery":      {name: "delivery"},
	}
	set := StageSet{
		Conversion:    handlers["conversion"],
		Verification:  handlers["verification"],
		Transcription: handlers["transcription"],
		Agenda:        handlers["agenda"],
		Analysis:      handlers["analysis"],
		Rendering:     handlers["rendering"],
		Delivery:      handlers["delivery"],
	}
	if mutate != nil {
		mutate(&set)
	}

	meetingStore := newFakeMeetings()
	notifier := &fakeNotifier{}
	manager := NewManager(cfg, store, meetingStore, notifier, logging.NewNop())
	manager.Configure(set)

	return &managerFixture{
		manager:  manager,
		store:    store,
		meetings: meetingStore,
		notifier: notifier,
		handlers: handlers,
	}
}

func waitForStatus(t *testing.T, store *queue.Store, id int64, want queue.Status) *queue.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if run != nil && run.Status == want {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	run, _ := store.GetByID(context.Background(), id)
	t.Fatalf("run never reached %s, last state: %+v", want, run)
	return nil
}

func TestManagerProcessesRunToCompletion(t *testing.T) {
	fx := newFixture(t, nil)

	run, err := fx.store.NewRun(context.Background(), "board", "uploads/meeting_recordings/board.mp4")
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}

	if err := fx.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer fx.manager.Stop()

	final := waitForStatus(t, fx.store, run.ID, queue.StatusCompleted)
	if final.StartedAt == nil {
		t.Fatal("completed run missing start timestamp")
	}
	if final.FailureCause != "" {
		t.Fatalf("failure cause = %q", final.FailureCause)
	}

	for name, handler := range fx.handlers {
		if handler.executeCount() != 1 {
			t.Fatalf("handler %s executed %d times", name, handler.executeCount())
		}
	}

	fx.meetings.mu.Lock()
	advanced := append([]meetings.Status(nil), fx.meetings.advanced...)
	fx.meetings.mu.Unlock()
	want := []meetings.Status{
		meetings.StatusConverting,
		meetings.StatusTranscribing,
		meetings.StatusAnalyzing,
		meetings.StatusComplete,
	}
	if len(advanced) != len(want) {
		t.Fatalf("meeting checkpoints = %v, want %v", advanced, want)
	}
	for i := range want {
		if advanced[i] != want[i] {
			t.Fatalf("meeting checkpoints = %v, want %v", advanced, want)
		}
	}
}

func TestManagerFailsRunWithClassifiedCause(t *testing.T) {
	failing := &classifiedHandler{
		fakeHandler: fakeHandler{name: "conversion", execErr: errors.New("submit rejected")},
		cause:       queue.CauseConversionSubmitFailed,
	}
	fx := newFixture(t, func(set *StageSet) {
		set.Conversion = failing
	})

	run, err := fx.store.NewRun(context.Background(), "board", "uploads/meeting_recordings/board.mp4")
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}

	if err := fx.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer fx.manager.Stop()

	final := waitForStatus(t, fx.store, run.ID, queue.StatusFailed)
	if final.FailureCause != queue.CauseConversionSubmitFailed {
		t.Fatalf("failure cause = %q", final.FailureCause)
	}

	fx.meetings.mu.Lock()
	failedCauses := append([]string(nil), fx.meetings.failed...)
	fx.meetings.mu.Unlock()
	if len(failedCauses) != 1 || failedCauses[0] != string(queue.CauseConversionSubmitFailed) {
		t.Fatalf("meeting failures = %v", failedCauses)
	}

	fx.notifier.mu.Lock()
	notified := append([]notifications.RunFailed(nil), fx.notifier.failed...)
	fx.notifier.mu.Unlock()
	if len(notified) != 1 || notified[0].Cause != string(queue.CauseConversionSubmitFailed) {
		t.Fatalf("failure notifications = %v", notified)
	}
}

func TestManagerExpiredBudgetFailsWithTimeout(t *testing.T) {
	fx := newFixture(t, nil)

	run, err := fx.store.NewRun(context.Background(), "board", "uploads/meeting_recordings/board.mp4")
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	started := time.Now().UTC().Add(-5 * time.Hour)
	run.StartedAt = &started
	if err := fx.store.Update(context.Background(), run); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := fx.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer fx.manager.Stop()

	final := waitForStatus(t, fx.store, run.ID, queue.StatusFailed)
	if final.FailureCause != queue.CauseTimeout {
		t.Fatalf("failure cause = %q", final.FailureCause)
	}
	if fx.handlers["conversion"].executeCount() != 0 {
		t.Fatal("expired run should not execute its stage")
	}
}

func TestManagerResumesProcessingRun(t *testing.T) {
	fx := newFixture(t, nil)

	run, err := fx.store.NewRun(context.Background(), "board", "uploads/meeting_recordings/board.mp4")
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	started := time.Now().UTC()
	run.StartedAt = &started
	run.Status = queue.StatusTranscribing
	if err := fx.store.Update(context.Background(), run); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := fx.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer fx.manager.Stop()

	waitForStatus(t, fx.store, run.ID, queue.StatusCompleted)

	if fx.handlers["conversion"].executeCount() != 0 {
		t.Fatal("resumed run re-ran earlier stages")
	}
	if fx.handlers["verification"].executeCount() != 0 {
		t.Fatal("resumed run re-ran earlier stages")
	}
	if fx.handlers["transcription"].executeCount() != 1 {
		t.Fatalf("transcription executed %d times", fx.handlers["transcription"].executeCount())
	}
}

func TestManagerRunsMeetingsConcurrently(t *testing.T) {
	gate := &rendezvousHandler{
		fakeHandler: fakeHandler{name: "conversion"},
		both:        make(chan struct{}),
	}
	fx := newFixture(t, func(set *StageSet) {
		set.Conversion = gate
	})

	runA, err := fx.store.NewRun(context.Background(), "board", "uploads/meeting_recordings/board.mp4")
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	runB, err := fx.store.NewRun(context.Background(), "council", "uploads/meeting_recordings/council.mp4")
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}

	if err := fx.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer fx.manager.Stop()

	select {
	case <-gate.both:
	case <-time.After(3 * time.Second):
		t.Fatal("second meeting never started while the first was converting")
	}

	waitForStatus(t, fx.store, runA.ID, queue.StatusCompleted)
	waitForStatus(t, fx.store, runB.ID, queue.StatusCompleted)

	if entered := gate.enteredCount(); entered != 2 {
		t.Fatalf("conversion entered %d times, want one dispatch per run", entered)
	}
}

func TestManagerStopDuringRetryLeavesRunResumable(t *testing.T) {
	waiting := &retryingHandler{
		fakeHandler: fakeHandler{name: "verification"},
		entered:     make(chan struct{}),
	}
	fx := newFixture(t, func(set *StageSet) {
		set.Verification = waiting
	})

	run, err := fx.store.NewRun(context.Background(), "board", "uploads/meeting_recordings/board.mp4")
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	started := time.Now().UTC()
	run.StartedAt = &started
	run.Status = queue.StatusConverted
	if err := fx.store.Update(context.Background(), run); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := fx.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-waiting.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("verification never started")
	}
	fx.manager.Stop()

	final, err := fx.store.GetByID(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != queue.StatusVerifying {
		t.Fatalf("status = %s, want %s so a restart resumes the stage", final.Status, queue.StatusVerifying)
	}
	if final.FailureCause != "" {
		t.Fatalf("failure cause = %q, want none after graceful stop", final.FailureCause)
	}
}

func TestManagerBacksOffAfterRunError(t *testing.T) {
	fx := newFixture(t, func(set *StageSet) {
		set.Conversion = nil
	})
	fx.manager.maxConcurrentRuns = 1
	fx.manager.errorRetryInterval = 150 * time.Millisecond

	runA, err := fx.store.NewRun(context.Background(), "first", "uploads/meeting_recordings/first.mp4")
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	runB, err := fx.store.NewRun(context.Background(), "second", "uploads/meeting_recordings/second.mp4")
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}

	if err := fx.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer fx.manager.Stop()

	finalA := waitForStatus(t, fx.store, runA.ID, queue.StatusFailed)
	finalB := waitForStatus(t, fx.store, runB.ID, queue.StatusFailed)

	if gap := finalB.UpdatedAt.Sub(finalA.UpdatedAt); gap < 100*time.Millisecond {
		t.Fatalf("second run dispatched %s after the first failed, want the error backoff between dispatches", gap)
	}
}
