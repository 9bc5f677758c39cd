package reader

import "fmt"

// ResolverError attributes a resolver failure to the field that ran it.
type ResolverError struct {
	// Path is the response path of the field, e.g. "me.friends.0.greeting".
	Path  string
	Field string
	Err   error
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("reader: resolver for %s at %s: %v", e.Field, e.Path, e.Err)
}

func (e *ResolverError) Unwrap() error { return e.Err }
