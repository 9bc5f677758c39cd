package selector

import (
	"bytes"
	"fmt"

	"github.com/hanpama/graphcache/internal/cachekey"
)

// Selector is a fragment bound to concrete variables and an owner record.
type Selector struct {
	Fragment  *Fragment
	Variables map[string]any
	Owner     string
}

// New returns a selector of frag on owner.
func New(frag *Fragment, owner string, vars map[string]any) Selector {
	return Selector{Fragment: frag, Variables: vars, Owner: owner}
}

// Equal reports whether s and o have the same fragment identity, owner and
// deep-equal variables.
func (s Selector) Equal(o Selector) bool {
	if s.Fragment != o.Fragment || s.Owner != o.Owner {
		return false
	}
	a, errA := cachekey.Marshal(normVars(s.Variables))
	b, errB := cachekey.Marshal(normVars(o.Variables))
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// Key is a content hash of the fragment identity, variables and owner.
func (s Selector) Key() string {
	name := ""
	if s.Fragment != nil {
		name = s.Fragment.Identity()
	}
	k, err := cachekey.Hash(cachekey.DomainSelector, map[string]any{
		"fragment":  name,
		"owner":     s.Owner,
		"variables": normVars(s.Variables),
	})
	if err != nil {
		return fmt.Sprintf("unhashable:%s:%s:%v", name, s.Owner, s.Variables)
	}
	return k
}

func normVars(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}
