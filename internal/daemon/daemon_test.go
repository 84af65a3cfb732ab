package daemon

import (
	"context"
	"testing"

	"lighthouse/internal/ingest"
	"lighthouse/internal/logging"
	"lighthouse/internal/meetings"
	"lighthouse/internal/notifications"
	"lighthouse/internal/queue"
	"lighthouse/internal/stage"
	"lighthouse/internal/storage"
	"lighthouse/internal/testsupport"
	"lighthouse/internal/workflow"
)

type noopHandler struct{}

func (noopHandler) Prepare(context.Context, *queue.Run) error { return nil }
func (noopHandler) Execute(context.Context, *queue.Run) error { return nil }
func (noopHandler) HealthCheck(context.Context) stage.Health  { return stage.Healthy("noop") }

type noopMeetings struct{}

func (noopMeetings) Ensure(context.Context, string, string) (*meetings.Record, error) {
	return &meetings.Record{}, nil
}

func (noopMeetings) Advance(context.Context, string, meetings.Status, func(*meetings.Record)) (bool, error) {
	return true, nil
}

func (noopMeetings) MarkFailed(context.Context, string, string, string) error { return nil }

type noopObjects struct{}

func (noopObjects) ListPrefix(context.Context, string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func newTestDaemon(t *testing.T, dir string) *Daemon {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Paths.DataDir = dir
	cfg.Paths.LogDir = dir

	store := testsupport.MustOpenStore(t, cfg)

	handler := noopHandler{}
	wf := workflow.NewManager(cfg, store, noopMeetings{}, notifications.NewNoop(), logging.NewNop())
	wf.Configure(workflow.StageSet{
		Conversion:    handler,
		Verification:  handler,
		Transcription: handler,
		Agenda:        handler,
		Analysis:      handler,
		Rendering:     handler,
		Delivery:      handler,
	})

	scanner := ingest.New(cfg, noopObjects{}, store, nil)

	d, err := New(cfg, store, wf, scanner, notifications.NewNoop(), logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestDaemonEnforcesSingleInstance(t *testing.T) {
	dir := t.TempDir()
	first := newTestDaemon(t, dir)
	second := newTestDaemon(t, dir)

	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()

	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second daemon acquired the lock while the first was running")
	}

	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
	second.Stop()
}

func TestDaemonStatus(t *testing.T) {
	d := newTestDaemon(t, t.TempDir())

	status := d.Status(context.Background())
	if status.Running {
		t.Fatal("daemon should not report running before Start")
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	status = d.Status(context.Background())
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("status = %+v", status)
	}
	if status.QueueDBPath == "" || status.LockFilePath == "" {
		t.Fatalf("status paths missing: %+v", status)
	}
}

func TestTestNotificationRequiresTopic(t *testing.T) {
	d := newTestDaemon(t, t.TempDir())

	sent, detail, err := d.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if sent {
		t.Fatalf("notification reported sent without a topic: %s", detail)
	}
}
