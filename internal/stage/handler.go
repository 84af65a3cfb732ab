package stage

import (
	"context"

	"lighthouse/internal/queue"
)

// Handler describes the contract the workflow manager needs from each
// pipeline stage. Prepare runs quick validations and cheap lookups before
// the run enters its processing status; Execute performs the work,
// including any external job submission and polling. Execute must be
// resumable: when the run already carries a persisted job handle for the
// stage, it re-enters the poll loop instead of resubmitting.
type Handler interface {
	Prepare(context.Context, *queue.Run) error
	Execute(context.Context, *queue.Run) error
	HealthCheck(context.Context) Health
}

// Saver persists mid-stage run mutations. Stages use it to store external
// job handles before entering a poll loop, so a restart resumes polling
// instead of resubmitting. *queue.Store satisfies it.
type Saver interface {
	Update(ctx context.Context, run *queue.Run) error
}

// FailureClassifier optionally maps a stage error onto the terminal
// failure cause recorded on the run. Stages that can fail in more than
// one way (submit versus job failure) implement it; the manager falls
// back to a per-stage default otherwise.
type FailureClassifier interface {
	FailureCause(error) queue.FailureCause
}
