package agenda

import (
	"context"
	"testing"
	"time"

	"lighthouse/internal/config"
	"lighthouse/internal/execution"
	"lighthouse/internal/queue"
	"lighthouse/internal/retry"
	"lighthouse/internal/services"
	"lighthouse/internal/stage"
	"lighthouse/internal/storage"
)

type fakeObjects struct {
	texts   map[string]string
	listErr error
	getErr  error
}

func (f *fakeObjects) GetText(_ context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	text, ok := f.texts[key]
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "storage", "get object", key, nil)
	}
	return text, nil
}

func (f *fakeObjects) ListPrefix(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var objects []storage.ObjectInfo
	for key := range f.texts {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			objects = append(objects, storage.ObjectInfo{Key: key})
		}
	}
	return objects, nil
}

func newTestStage(objects *fakeObjects) *Stage {
	cfg := config.Default()
	s := New(&cfg, objects, nil)
	s.lookupPolicy = retry.Policy{Interval: time.Millisecond, MaxAttempts: 2, Multiplier: 1}
	return s
}

func agendaRecord(t *testing.T, run *queue.Run) Record {
	t.Helper()
	ec, err := stage.LoadContext(run)
	if err != nil {
		t.Fatalf("LoadContext: %v", err)
	}
	var rec Record
	if ok, err := ec.Get(execution.SlotAgenda, &rec); err != nil || !ok {
		t.Fatalf("agenda slot: ok=%v err=%v", ok, err)
	}
	return rec
}

func TestExecuteFindsDirectMatch(t *testing.T) {
	objects := &fakeObjects{texts: map[string]string{
		"analysis/agenda/board.json": `{"items":["budget"]}`,
	}}
	s := newTestStage(objects)
	run := &queue.Run{ID: 1, SourceKey: "uploads/meeting_recordings/board.mp4"}

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	rec := agendaRecord(t, run)
	if !rec.Found || rec.Key != "analysis/agenda/board.json" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Payload != `{"items":["budget"]}` {
		t.Fatalf("payload = %q", rec.Payload)
	}
}

func TestExecuteFallsBackToPrefixScan(t *testing.T) {
	objects := &fakeObjects{texts: map[string]string{
		"analysis/agenda/BOARD.json": `{"items":[]}`,
	}}
	s := newTestStage(objects)
	run := &queue.Run{ID: 2, SourceKey: "uploads/meeting_recordings/board.mp4"}

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	rec := agendaRecord(t, run)
	if !rec.Found || rec.Key != "analysis/agenda/BOARD.json" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestExecuteRecordsNotFound(t *testing.T) {
	s := newTestStage(&fakeObjects{})
	run := &queue.Run{ID: 3, SourceKey: "uploads/meeting_recordings/board.mp4"}

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec := agendaRecord(t, run); rec.Found {
		t.Fatalf("record = %+v, want not found", rec)
	}
}

func TestExecuteNeverFailsOnLookupErrors(t *testing.T) {
	objects := &fakeObjects{
		getErr:  services.Wrap(services.ErrExternalService, "storage", "get object", "denied", nil),
		listErr: services.Wrap(services.ErrExternalService, "storage", "list objects", "denied", nil),
	}
	s := newTestStage(objects)
	run := &queue.Run{ID: 4, SourceKey: "uploads/meeting_recordings/board.mp4"}

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec := agendaRecord(t, run); rec.Found {
		t.Fatalf("record = %+v, want not found", rec)
	}
}

func TestExecuteSkipsWhenAlreadyResolved(t *testing.T) {
	objects := &fakeObjects{texts: map[string]string{
		"analysis/agenda/board.json": `{"items":[]}`,
	}}
	s := newTestStage(objects)
	run := &queue.Run{ID: 5, SourceKey: "uploads/meeting_recordings/board.mp4"}

	ec := execution.New()
	if err := ec.Set(execution.SlotAgenda, Record{Found: false}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := stage.SaveContext(run, ec); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec := agendaRecord(t, run); rec.Found {
		t.Fatal("resolved slot should not be overwritten")
	}
}
