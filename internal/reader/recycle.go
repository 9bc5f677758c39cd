package reader

import "reflect"

// Recycle returns next with every subtree that is deep-equal to the matching
// subtree of prev replaced by prev's. unchanged reports that the whole value
// equals prev, in which case prev itself is returned. next is modified in
// place.
func Recycle(prev, next any) (out any, unchanged bool) {
	switch n := next.(type) {
	case map[string]any:
		p, ok := prev.(map[string]any)
		if !ok || p == nil || n == nil {
			return next, reflect.DeepEqual(prev, next)
		}
		same := len(p) == len(n)
		for k, nv := range n {
			pv, has := p[k]
			if !has {
				same = false
				continue
			}
			rv, eq := Recycle(pv, nv)
			n[k] = rv
			same = same && eq
		}
		if same {
			return prev, true
		}
		return n, false
	case []any:
		p, ok := prev.([]any)
		if !ok || p == nil || n == nil {
			return next, reflect.DeepEqual(prev, next)
		}
		same := len(p) == len(n)
		for i, nv := range n {
			if i >= len(p) {
				break
			}
			rv, eq := Recycle(p[i], nv)
			n[i] = rv
			same = same && eq
		}
		if same {
			return prev, true
		}
		return n, false
	default:
		if reflect.DeepEqual(prev, next) {
			return prev, true
		}
		return next, false
	}
}
