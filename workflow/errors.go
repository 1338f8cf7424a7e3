package workflow

import "errors"

var (
	// ErrUnknownWorker is returned when the supervisor names a worker
	// that isn't present in the run's team roster.
	ErrUnknownWorker = errors.New("workflow: unknown worker")

	// ErrInvalidPlan is returned when the planner's concatenated output
	// does not parse as a Plan object.
	ErrInvalidPlan = errors.New("workflow: invalid plan")
)
