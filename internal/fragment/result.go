package fragment

import (
	"github.com/hanpama/graphcache/internal/pending"
	"github.com/hanpama/graphcache/internal/reader"
	"github.com/hanpama/graphcache/internal/selector"
)

// Status tells the view layer whether a result can be rendered.
type Status int

const (
	// StatusReady results can be rendered, possibly with missing fields.
	StatusReady Status = iota
	// StatusPending results wait for an in-flight request; see Result.Pending.
	StatusPending
	// StatusSuspended results wait for a live resolver to become ready.
	StatusSuspended
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusPending:
		return "pending"
	case StatusSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Ref is a reference to fragment data: the owner record, the variables in
// scope where the fragment was spread, and the request that fetched it.
type Ref struct {
	ID        string
	Variables map[string]any
	// Request is the id of the request expected to supply the data. Reads
	// missing data while it is in flight return StatusPending.
	Request string
}

// Result is a resolved fragment. Results are shared between callers and
// must not be modified.
type Result struct {
	Key string
	// Data is map[string]any for singular fragments and []any for plural
	// ones.
	Data          any
	Snapshots     []*reader.Snapshot
	Plural        bool
	IsMissingData bool
	Status        Status
	// Pending is set with StatusPending and settles with the request.
	Pending *pending.Pending
	// Err aggregates resolver failures.
	Err error

	src *source
}

// source is what an entry needs to recompute its result.
type source struct {
	fragment *selector.Fragment
	label    string
	request  string
	plural   bool
	sels     []selector.Selector
}

// Disposable releases a subscription.
type Disposable interface {
	Dispose()
}

type noopDisposable struct{}

func (noopDisposable) Dispose() {}
