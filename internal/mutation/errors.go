package mutation

import "errors"

var (
	// ErrAlreadyApplied is returned by a second ApplyOptimistic.
	ErrAlreadyApplied = errors.New("mutation: optimistic update already applied")
	// ErrAlreadyCommitted is returned by Commit on a transaction that left
	// the uncommitted state.
	ErrAlreadyCommitted = errors.New("mutation: transaction already committed")
	// ErrNotRecommittable is returned by Recommit unless the transaction failed.
	ErrNotRecommittable = errors.New("mutation: transaction cannot be recommitted")
	// ErrDetached is returned when a rolled back or completed transaction is
	// used again.
	ErrDetached = errors.New("mutation: transaction detached")
	// ErrCollision is the failure of a transaction queued behind a failed
	// transaction with the same collision key.
	ErrCollision = errors.New("mutation: predecessor with the same collision key failed")
	// ErrNoOperation is returned when a transaction has no mutation to send.
	ErrNoOperation = errors.New("mutation: no operation")
)
