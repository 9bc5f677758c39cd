package taskqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueue_InlineRunsNestedTasksAfterCurrent(t *testing.T) {
	q := New(nil)
	var log []string
	q.Enqueue(func() {
		log = append(log, "a:start")
		q.Enqueue(func() { log = append(log, "b") })
		log = append(log, "a:end")
	})
	require.Equal(t, []string{"a:start", "a:end", "b"}, log)
	require.Equal(t, 0, q.Len())
}

func TestQueue_InjectedScheduler(t *testing.T) {
	var pending []func()
	q := New(func(run func()) { pending = append(pending, run) })
	var log []int
	q.Enqueue(func() { log = append(log, 1) })
	q.Enqueue(func() { log = append(log, 2) })

	require.Empty(t, log)
	require.Len(t, pending, 1, "one drain is scheduled for a burst of tasks")
	require.Equal(t, 2, q.Len())

	pending[0]()
	require.Equal(t, []int{1, 2}, log)

	q.Enqueue(func() { log = append(log, 3) })
	require.Len(t, pending, 2)
	pending[1]()
	require.Equal(t, []int{1, 2, 3}, log)
}
