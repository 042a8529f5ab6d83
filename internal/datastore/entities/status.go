package entities

// JobStatus is the lifecycle state shared by all job entities.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusPending    JobStatus = "pending"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ActiveStatuses are the states from which a job can still be cancelled.
var ActiveStatuses = []JobStatus{StatusQueued, StatusPending, StatusInProgress}
