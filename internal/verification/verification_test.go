package verification

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"lighthouse/internal/config"
	"lighthouse/internal/conversion"
	"lighthouse/internal/execution"
	"lighthouse/internal/queue"
	"lighthouse/internal/retry"
	"lighthouse/internal/services"
	"lighthouse/internal/stage"
	"lighthouse/internal/storage"
)

type fakeObjects struct {
	mu    sync.Mutex
	sizes map[string]int64
	// appearAfter delays object visibility by a number of Head calls.
	appearAfter map[string]int
	calls       map[string]int
}

func (f *fakeObjects) Head(_ context.Context, key string) (storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[key]++
	if remaining, ok := f.appearAfter[key]; ok && f.calls[key] <= remaining {
		return storage.ObjectInfo{}, services.Wrap(services.ErrNotFound, "storage", "head object", key, nil)
	}
	size, ok := f.sizes[key]
	if !ok {
		return storage.ObjectInfo{}, services.Wrap(services.ErrNotFound, "storage", "head object", key, nil)
	}
	return storage.ObjectInfo{Key: key, Size: size}, nil
}

func newTestStage(objects *fakeObjects) *Stage {
	cfg := config.Default()
	cfg.Storage.Bucket = "recordings"
	s := New(&cfg, objects, nil)
	s.checkPolicy = retry.Policy{Interval: time.Millisecond, MaxAttempts: 3, Multiplier: 1}
	return s
}

func runWithConversion(t *testing.T, keys []string) *queue.Run {
	t.Helper()
	run := &queue.Run{ID: 1, SourceKey: "uploads/meeting_recordings/board.mp4"}
	ec := execution.New()
	if err := ec.Set(execution.SlotConversion, conversion.Record{AudioKeys: keys, JobIDs: make([]string, len(keys))}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := stage.SaveContext(run, ec); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}
	return run
}

func TestExecuteRecordsSizes(t *testing.T) {
	objects := &fakeObjects{sizes: map[string]int64{
		"audio/board_part01.mp3": 2048,
		"audio/board_part02.mp3": 1024,
	}}
	s := newTestStage(objects)
	run := runWithConversion(t, []string{"audio/board_part01.mp3", "audio/board_part02.mp3"})

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	ec, err := stage.LoadContext(run)
	if err != nil {
		t.Fatalf("LoadContext: %v", err)
	}
	var rec Record
	if ok, err := ec.Get(execution.SlotVerification, &rec); err != nil || !ok {
		t.Fatalf("verification slot: ok=%v err=%v", ok, err)
	}
	if len(rec.AudioSizes) != 2 || rec.AudioSizes[0] != 2048 || rec.AudioSizes[1] != 1024 {
		t.Fatalf("sizes = %v", rec.AudioSizes)
	}
}

func TestExecuteRetriesUntilObjectAppears(t *testing.T) {
	objects := &fakeObjects{
		sizes:       map[string]int64{"audio/board_converted.mp3": 512},
		appearAfter: map[string]int{"audio/board_converted.mp3": 2},
	}
	s := newTestStage(objects)
	run := runWithConversion(t, []string{"audio/board_converted.mp3"})

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if objects.calls["audio/board_converted.mp3"] != 3 {
		t.Fatalf("head calls = %d, want 3", objects.calls["audio/board_converted.mp3"])
	}
}

func TestExecuteFailsWhenObjectNeverAppears(t *testing.T) {
	s := newTestStage(&fakeObjects{})
	run := runWithConversion(t, []string{"audio/board_converted.mp3"})

	err := s.Execute(context.Background(), run)
	if err == nil {
		t.Fatal("expected missing object error")
	}
	if cause := s.FailureCause(err); cause != queue.CauseAudioFileNotFound {
		t.Fatalf("cause = %q, want %q", cause, queue.CauseAudioFileNotFound)
	}
}

func TestExecuteFailsWhenMiddleSegmentMissing(t *testing.T) {
	objects := &fakeObjects{sizes: map[string]int64{
		"audio/board_part01.mp3": 2048,
		"audio/board_part03.mp3": 4096,
	}}
	s := newTestStage(objects)
	keys := []string{"audio/board_part01.mp3", "audio/board_part02.mp3", "audio/board_part03.mp3"}
	run := runWithConversion(t, keys)

	err := s.Execute(context.Background(), run)
	if err == nil {
		t.Fatal("expected failure for the missing middle segment")
	}
	if cause := s.FailureCause(err); cause != queue.CauseAudioFileNotFound {
		t.Fatalf("cause = %q, want %q", cause, queue.CauseAudioFileNotFound)
	}
	if !strings.Contains(err.Error(), "audio/board_part02.mp3") {
		t.Fatalf("err = %v, want the missing key named", err)
	}

	objects.mu.Lock()
	missingCalls := objects.calls["audio/board_part02.mp3"]
	objects.mu.Unlock()
	if missingCalls != 3 {
		t.Fatalf("missing segment checked %d times, want the full retry budget", missingCalls)
	}

	ec, loadErr := stage.LoadContext(run)
	if loadErr != nil {
		t.Fatalf("LoadContext: %v", loadErr)
	}
	if ec.Has(execution.SlotVerification) {
		t.Fatal("failed verification must not record sizes")
	}
}

func TestExecuteRequiresConversionRecord(t *testing.T) {
	s := newTestStage(&fakeObjects{})
	run := &queue.Run{ID: 2, SourceKey: "uploads/meeting_recordings/board.mp4"}

	if err := s.Execute(context.Background(), run); err == nil {
		t.Fatal("expected error for run without conversion record")
	}
}

func TestExecuteSkipsWhenAlreadyVerified(t *testing.T) {
	objects := &fakeObjects{}
	s := newTestStage(objects)
	run := runWithConversion(t, []string{"audio/board_converted.mp3"})

	ec, err := stage.LoadContext(run)
	if err != nil {
		t.Fatalf("LoadContext: %v", err)
	}
	if err := ec.Set(execution.SlotVerification, Record{AudioSizes: []int64{512}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := stage.SaveContext(run, ec); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(objects.calls) != 0 {
		t.Fatal("verified run should not re-check objects")
	}
}
