package grpctransport

import "errors"

var (
	// ErrNoEndpoints is returned when the provider lists no endpoints.
	ErrNoEndpoints = errors.New("grpctransport: no endpoints")
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("grpctransport: closed")
	// ErrNoProvider is returned when no EndpointProvider is configured.
	ErrNoProvider = errors.New("grpctransport: provider not configured")
)
