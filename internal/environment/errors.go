package environment

import "errors"

var (
	// ErrDisposed is returned by every operation on a disposed environment.
	ErrDisposed = errors.New("environment: disposed")
	// ErrNoNetwork is the failure of requests sent without a configured network.
	ErrNoNetwork = errors.New("environment: no network configured")
	// ErrNotQuery is returned when Execute is given a mutation.
	ErrNotQuery = errors.New("environment: mutations must be committed through the mutation queue")
)
