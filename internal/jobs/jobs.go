// Package jobs defines the shared contract for asynchronous external
// jobs: a submit returns an opaque identifier, and a poll reports one of
// three states until the job terminates.
package jobs

// State is the observed status of an external job.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Result is one poll observation.
type Result struct {
	State  State
	Detail string
}

// Running reports whether the job is still in flight.
func (r Result) Running() bool { return r.State == StateRunning }

// Succeeded reports whether the job finished successfully.
func (r Result) Succeeded() bool { return r.State == StateSucceeded }

// Failed reports whether the job terminated with an error.
func (r Result) Failed() bool { return r.State == StateFailed }
