package mutation

// Status is the state of a transaction.
type Status int

const (
	Uncommitted Status = iota
	Committing
	CommitQueued
	CommitFailed
	CollisionCommitFailed
	// Committed transactions succeeded and are detached from the queue.
	Committed
)

func (s Status) String() string {
	switch s {
	case Uncommitted:
		return "UNCOMMITTED"
	case Committing:
		return "COMMITTING"
	case CommitQueued:
		return "COMMIT_QUEUED"
	case CommitFailed:
		return "COMMIT_FAILED"
	case CollisionCommitFailed:
		return "COLLISION_COMMIT_FAILED"
	case Committed:
		return "COMMITTED"
	default:
		return "UNKNOWN"
	}
}

// Failed reports whether s is a failure that allows Recommit.
func (s Status) Failed() bool { return s == CommitFailed || s == CollisionCommitFailed }
