package fragment

import "errors"

var (
	// ErrNilFragment is returned when a read is given no fragment.
	ErrNilFragment = errors.New("fragment: nil fragment")
	// ErrPluralMismatch is returned when a plural fragment is read as singular
	// or the other way around.
	ErrPluralMismatch = errors.New("fragment: plural mismatch")
)
