package reader

import (
	"reflect"
	"sync"

	"github.com/hanpama/graphcache/internal/cachekey"
	"github.com/hanpama/graphcache/internal/resolver"
)

// LiveKeyPrefix marks seen-set entries that stand for live resolver fields
// rather than records.
const LiveKeyPrefix = "live:"

// LiveKey identifies a live resolver field read by a selector on a record at
// a response path.
func LiveKey(selectorKey, recordID, path string) string {
	h, err := cachekey.Hash(cachekey.DomainLive, []any{selectorKey, recordID, path})
	if err != nil {
		return LiveKeyPrefix + selectorKey + ":" + recordID + ":" + path
	}
	return LiveKeyPrefix + h
}

type liveEntry struct {
	selKey      string
	model       any
	args        map[string]any
	state       resolver.LiveState
	unsubscribe func()
}

// liveStates holds live resolver states for retained selector keys. A read
// of a selector nobody retains gets a fresh state that is read once and
// never subscribed to.
type liveStates struct {
	mu      sync.Mutex
	refs    map[string]int // key: selector key
	entries map[string]*liveEntry
}

func newLiveStates() *liveStates {
	return &liveStates{refs: make(map[string]int), entries: make(map[string]*liveEntry)}
}

// get returns the live state for key. For a retained selector it is created
// on first use and recreated when the model or arguments changed.
func (ls *liveStates) get(key, selKey string, factory resolver.LiveFunc, model any, args map[string]any, onChange func(string)) (resolver.LiveState, error) {
	ls.mu.Lock()
	retained := ls.refs[selKey] > 0
	e, ok := ls.entries[key]
	if ok && reflect.DeepEqual(e.model, model) && reflect.DeepEqual(e.args, args) {
		ls.mu.Unlock()
		return e.state, nil
	}
	ls.mu.Unlock()

	state, err := factory(model, args)
	if err != nil || !retained {
		return state, err
	}
	unsubscribe := state.Subscribe(func() { onChange(key) })

	ls.mu.Lock()
	if ls.refs[selKey] == 0 {
		ls.mu.Unlock()
		unsubscribe()
		return state, nil
	}
	old := ls.entries[key]
	ls.entries[key] = &liveEntry{
		selKey:      selKey,
		model:       model,
		args:        args,
		state:       state,
		unsubscribe: unsubscribe,
	}
	ls.mu.Unlock()
	if old != nil {
		old.unsubscribe()
	}
	return state, nil
}

func (ls *liveStates) retain(selKey string) {
	ls.mu.Lock()
	ls.refs[selKey]++
	ls.mu.Unlock()
}

// release drops one reference to selKey and disposes its states with the
// last one.
func (ls *liveStates) release(selKey string) {
	ls.mu.Lock()
	if ls.refs[selKey] > 1 {
		ls.refs[selKey]--
		ls.mu.Unlock()
		return
	}
	delete(ls.refs, selKey)
	var drop []*liveEntry
	for k, e := range ls.entries {
		if e.selKey == selKey {
			drop = append(drop, e)
			delete(ls.entries, k)
		}
	}
	ls.mu.Unlock()
	for _, e := range drop {
		e.unsubscribe()
	}
}

func (ls *liveStates) releaseAll() {
	ls.mu.Lock()
	drop := ls.entries
	ls.entries = make(map[string]*liveEntry)
	ls.refs = make(map[string]int)
	ls.mu.Unlock()
	for _, e := range drop {
		e.unsubscribe()
	}
}

func (ls *liveStates) len() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.entries)
}
