package stage

import (
	"path"
	"strings"

	"lighthouse/internal/execution"
	"lighthouse/internal/queue"
	"lighthouse/internal/services"
)

// LoadContext restores the run's execution context from its persisted
// JSON. On failure it returns a services.ErrValidation suitable for stage
// Execute methods.
func LoadContext(run *queue.Run) (*execution.Context, error) {
	ec, err := execution.Parse([]byte(run.ContextJSON))
	if err != nil {
		return nil, services.Wrap(
			services.ErrValidation, "stage", "load execution context",
			"stored run state missing or invalid", err)
	}
	return ec, nil
}

// SaveContext serializes the execution context back onto the run. The
// caller persists the run afterwards.
func SaveContext(run *queue.Run, ec *execution.Context) error {
	data, err := ec.Marshal()
	if err != nil {
		return services.Wrap(
			services.ErrValidation, "stage", "save execution context",
			"run state not serializable", err)
	}
	run.ContextJSON = string(data)
	return nil
}

// BaseName returns the meeting base name derived from an uploaded object
// key: the file name without its extension.
func BaseName(sourceKey string) string {
	base := path.Base(strings.TrimSpace(sourceKey))
	ext := path.Ext(base)
	return strings.TrimSuffix(base, ext)
}
