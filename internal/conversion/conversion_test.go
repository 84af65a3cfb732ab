package conversion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"lighthouse/internal/config"
	"lighthouse/internal/execution"
	"lighthouse/internal/jobs"
	"lighthouse/internal/jobs/mediaconvert"
	"lighthouse/internal/media/ffprobe"
	"lighthouse/internal/poll"
	"lighthouse/internal/queue"
	"lighthouse/internal/retry"
	"lighthouse/internal/services"
	"lighthouse/internal/stage"
)

type fakeStore struct {
	presignErr error
}

func (f *fakeStore) URI(key string) string {
	return "s3://recordings/" + key
}

func (f *fakeStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return "https://signed.example/" + key, nil
}

type fakeProber struct {
	info ffprobe.Info
	err  error
}

func (f *fakeProber) Probe(context.Context, string) (ffprobe.Info, error) {
	return f.info, f.err
}

type fakeJobClient struct {
	mu        sync.Mutex
	submitted []mediaconvert.SubmitInput
	submitErr error
	results   map[string]jobs.Result
	polls     int
}

func (f *fakeJobClient) Submit(_ context.Context, input mediaconvert.SubmitInput) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, input)
	return fmt.Sprintf("job-%d", len(f.submitted)), nil
}

func (f *fakeJobClient) Poll(_ context.Context, jobID string) (jobs.Result, error) {
	f.mu.Lock()
	f.polls++
	f.mu.Unlock()
	if result, ok := f.results[jobID]; ok {
		return result, nil
	}
	return jobs.Result{State: jobs.StateSucceeded}, nil
}

func (f *fakeJobClient) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

type fakeSaver struct {
	updates int
}

func (f *fakeSaver) Update(context.Context, *queue.Run) error {
	f.updates++
	return nil
}

func newTestStage(t *testing.T, client *fakeJobClient, prober *fakeProber) (*Stage, *fakeSaver) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Bucket = "recordings"
	saver := &fakeSaver{}
	s := New(&cfg, &fakeStore{}, prober, client, saver, nil)
	s.submitPolicy = retry.Policy{Interval: time.Millisecond, MaxAttempts: 2, Multiplier: 1}
	s.pollOpts = poll.Options{Interval: time.Millisecond}
	return s, saver
}

func TestExecuteSingleJob(t *testing.T) {
	client := &fakeJobClient{}
	s, saver := newTestStage(t, client, &fakeProber{info: ffprobe.Info{DurationSeconds: 1800}})
	run := &queue.Run{ID: 1, SourceKey: "uploads/meeting_recordings/board.mp4"}

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(client.submitted) != 1 {
		t.Fatalf("submitted %d jobs, want 1", len(client.submitted))
	}
	if client.submitted[0].Clip != nil {
		t.Fatal("short recording should not be clipped")
	}
	if client.submitted[0].NameModifier != "_converted" {
		t.Fatalf("name modifier = %q", client.submitted[0].NameModifier)
	}
	if saver.updates != 1 {
		t.Fatalf("saver updates = %d, want 1", saver.updates)
	}

	ec, err := stage.LoadContext(run)
	if err != nil {
		t.Fatalf("LoadContext: %v", err)
	}
	var rec Record
	if ok, err := ec.Get(execution.SlotConversion, &rec); err != nil || !ok {
		t.Fatalf("conversion slot: ok=%v err=%v", ok, err)
	}
	if rec.Chunked {
		t.Fatal("record should not be chunked")
	}
	if len(rec.AudioKeys) != 1 || rec.AudioKeys[0] != "audio/board_converted.mp3" {
		t.Fatalf("audio keys = %v", rec.AudioKeys)
	}
}

func TestExecuteChunkedRecording(t *testing.T) {
	client := &fakeJobClient{}
	s, _ := newTestStage(t, client, &fakeProber{info: ffprobe.Info{DurationSeconds: 9 * 3600}})
	run := &queue.Run{ID: 2, SourceKey: "uploads/meeting_recordings/marathon.mp4"}

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(client.submitted) != 3 {
		t.Fatalf("submitted %d jobs, want 3", len(client.submitted))
	}
	for i, input := range client.submitted {
		if input.Clip == nil {
			t.Fatalf("job %d missing clip", i)
		}
		if input.Clip.Part != i+1 || input.Clip.TotalParts != 3 {
			t.Fatalf("job %d clip = %+v", i, input.Clip)
		}
	}
	if client.submitted[1].NameModifier != "_part02" {
		t.Fatalf("second name modifier = %q", client.submitted[1].NameModifier)
	}
}

func TestExecuteResumesWithoutResubmitting(t *testing.T) {
	client := &fakeJobClient{}
	s, saver := newTestStage(t, client, &fakeProber{})
	run := &queue.Run{ID: 3, SourceKey: "uploads/meeting_recordings/board.mp4"}

	ec := execution.New()
	if err := ec.Set(execution.SlotConversion, Record{
		JobIDs:    []string{"job-earlier"},
		AudioKeys: []string{"audio/board_converted.mp3"},
	}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := stage.SaveContext(run, ec); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(client.submitted) != 0 {
		t.Fatalf("resumed run resubmitted %d jobs", len(client.submitted))
	}
	if saver.updates != 0 {
		t.Fatal("resumed run should not rewrite job handles")
	}
}

func TestSubmitFailureCause(t *testing.T) {
	client := &fakeJobClient{
		submitErr: services.Wrap(services.ErrExternalService, "conversion", "create job", "denied", errors.New("AccessDenied")),
	}
	s, _ := newTestStage(t, client, &fakeProber{info: ffprobe.Info{DurationSeconds: 600}})
	run := &queue.Run{ID: 4, SourceKey: "uploads/meeting_recordings/board.mp4"}

	err := s.Execute(context.Background(), run)
	if err == nil {
		t.Fatal("expected submit error")
	}
	if cause := s.FailureCause(err); cause != queue.CauseConversionSubmitFailed {
		t.Fatalf("cause = %q, want %q", cause, queue.CauseConversionSubmitFailed)
	}
}

func TestJobFailureCause(t *testing.T) {
	client := &fakeJobClient{
		results: map[string]jobs.Result{
			"job-1": {State: jobs.StateFailed, Detail: "decoder error"},
		},
	}
	s, _ := newTestStage(t, client, &fakeProber{info: ffprobe.Info{DurationSeconds: 600}})
	run := &queue.Run{ID: 5, SourceKey: "uploads/meeting_recordings/board.mp4"}

	err := s.Execute(context.Background(), run)
	if err == nil {
		t.Fatal("expected job failure")
	}
	if cause := s.FailureCause(err); cause != queue.CauseConversionFailed {
		t.Fatalf("cause = %q, want %q", cause, queue.CauseConversionFailed)
	}
}

func TestExecuteFailsWhenPlanYieldsNoJobs(t *testing.T) {
	client := &fakeJobClient{}
	s, saver := newTestStage(t, client, &fakeProber{info: ffprobe.Info{DurationSeconds: 600}})
	s.planFn = func(string, float64, int, string) mediaconvert.Plan {
		return mediaconvert.Plan{}
	}
	run := &queue.Run{ID: 7, SourceKey: "uploads/meeting_recordings/board.mp4"}

	err := s.Execute(context.Background(), run)
	if err == nil {
		t.Fatal("expected error when no jobs are created")
	}
	if cause := s.FailureCause(err); cause != queue.CauseConversionFailed {
		t.Fatalf("cause = %q, want %q", cause, queue.CauseConversionFailed)
	}
	if client.pollCount() != 0 {
		t.Fatalf("polled %d times, want no polling without jobs", client.pollCount())
	}
	if saver.updates != 0 {
		t.Fatal("failed submission must not persist job handles")
	}
	ec, loadErr := stage.LoadContext(run)
	if loadErr != nil {
		t.Fatalf("LoadContext: %v", loadErr)
	}
	if ec.Has(execution.SlotConversion) {
		t.Fatal("failed submission must not record a conversion result")
	}
}

func TestProbeFailureFallsBackToSingleJob(t *testing.T) {
	client := &fakeJobClient{}
	s, _ := newTestStage(t, client, &fakeProber{err: errors.New("ffprobe missing")})
	run := &queue.Run{ID: 6, SourceKey: "uploads/meeting_recordings/board.mp4"}

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(client.submitted) != 1 {
		t.Fatalf("submitted %d jobs, want 1", len(client.submitted))
	}
}
