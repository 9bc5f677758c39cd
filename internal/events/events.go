// Package events declares the observability events published by the cache
// through the event bus.
package events

import (
	"net/http"
	"time"

	"google.golang.org/grpc/codes"
)

// Publish is emitted after a batch of records has been written to the store.
type Publish struct {
	Generation uint64
	Records    int
	Changed    int
	// Layer is the optimistic layer written, empty for base writes.
	Layer    string
	Reverted bool
}

// Notify is emitted after the store has delivered a batch to subscribers.
type Notify struct {
	Generation uint64
	IDs        int
	Notified   int
}

// MissingData is emitted when a fragment read is missing required fields and
// no request that could supply them is in flight.
type MissingData struct {
	Fragment string
	Owner    string
	Label    string
	Fields   []string
}

// RequestStart is emitted before a network request is sent.
type RequestStart struct {
	RequestID string
	Name      string
	Kind      string
}

// RequestFinish is emitted after a network request settles.
type RequestFinish struct {
	RequestID string
	Name      string
	Kind      string
	Err       error
	Duration  time.Duration
}

// CommitStart is emitted when a mutation transaction is sent.
type CommitStart struct {
	Transaction  string
	CollisionKey string
}

// CommitFinish is emitted when a mutation transaction reaches a terminal
// outcome. Status is the transaction status name.
type CommitFinish struct {
	Transaction  string
	CollisionKey string
	Status       string
	Err          error
	Duration     time.Duration
}

// GRPCClientStart is emitted before a gRPC client call.
type GRPCClientStart struct {
	Method string
	Target string
}

// GRPCClientFinish is emitted after a gRPC client call completes.
type GRPCClientFinish struct {
	Method   string
	Target   string
	Code     codes.Code
	Err      error
	Duration time.Duration
}

// HTTPStart is emitted when the inspector receives a request.
// Context carries the request context.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted after an inspector handler completes.
type HTTPFinish struct {
	Request  *http.Request
	Status   int
	Duration time.Duration
}
