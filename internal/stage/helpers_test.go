package stage_test

import (
	"testing"

	"lighthouse/internal/execution"
	"lighthouse/internal/queue"
	"lighthouse/internal/stage"
)

func TestBaseName(t *testing.T) {
	cases := map[string]string{
		"uploads/meeting_recordings/board_2026_08_25.mp4": "board_2026_08_25",
		"uploads/meeting_recordings/council.MOV":          "council",
		"board.mp4":                                       "board",
	}
	for key, want := range cases {
		if got := stage.BaseName(key); got != want {
			t.Fatalf("BaseName(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestContextRoundTripThroughRun(t *testing.T) {
	run := &queue.Run{}

	ec, err := stage.LoadContext(run)
	if err != nil {
		t.Fatalf("LoadContext on empty run: %v", err)
	}
	if err := ec.Set(execution.SlotAnalysis, map[string]string{"html_key": "analysis/board.html"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := stage.SaveContext(run, ec); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}

	restored, err := stage.LoadContext(run)
	if err != nil {
		t.Fatalf("LoadContext: %v", err)
	}
	var value map[string]string
	if ok, err := restored.Get(execution.SlotAnalysis, &value); err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if value["html_key"] != "analysis/board.html" {
		t.Fatalf("value = %v", value)
	}
}

func TestLoadContextRejectsMalformedState(t *testing.T) {
	run := &queue.Run{ContextJSON: "{broken"}
	if _, err := stage.LoadContext(run); err == nil {
		t.Fatal("expected error for malformed stored state")
	}
}
