package jobs

// JobState is the lifecycle position of a job. It is always derived from the
// status counters and never stored on its own.
type JobState string

const (
	// JobStatePending indicates the job exists but its total item count has
	// not been written yet (fan-out still in flight).
	JobStatePending JobState = "PENDING"

	// JobStateInProgress indicates total is known and completed < total.
	JobStateInProgress JobState = "IN_PROGRESS"

	// JobStateCompleted indicates every expected item has completed.
	JobStateCompleted JobState = "COMPLETED"

	// JobStateNotFound is reported by status queries for unknown jobs. It is
	// never the state of a stored document.
	JobStateNotFound JobState = "NOT_FOUND"
)

func (s JobState) String() string { return string(s) }

// IsTerminal reports whether no further transitions can happen.
func (s JobState) IsTerminal() bool { return s == JobStateCompleted }

// DeriveState computes the job state from its counters.
func DeriveState(total int, hasTotal bool, completed int) JobState {
	switch {
	case !hasTotal:
		return JobStatePending
	case completed >= total:
		return JobStateCompleted
	default:
		return JobStateInProgress
	}
}
