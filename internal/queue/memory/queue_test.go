package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/impact-crawler/internal/impact"
)

func scoreItem(key string) impact.WorkItem {
	return impact.WorkItem{Key: key, Kind: impact.WorkScore}
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	require.Equal(t, []bool{true, true, true}, q.Enqueue(scoreItem("a"), scoreItem("b"), scoreItem("c")))

	for _, want := range []string{"a", "b", "c"} {
		item, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, want, item.Key)
	}
	_, ok := q.Dequeue()
	require.False(t, ok)
}

func TestQueueDedupWhilePending(t *testing.T) {
	t.Parallel()

	q := NewQueue(10)
	first := q.Enqueue(scoreItem("octocat"))
	second := q.Enqueue(scoreItem("octocat"))
	require.Equal(t, []bool{true, false}, append(first, second...))
	require.Equal(t, 1, q.Len())
	require.ErrorIs(t, q.Push(scoreItem("octocat")), impact.ErrDuplicate)

	_, ok := q.Dequeue()
	require.True(t, ok)
	require.False(t, q.Pending(impact.WorkScore, "octocat"))
	require.Equal(t, []bool{true}, q.Enqueue(scoreItem("octocat")), "dequeued key must be admitted again")
}

func TestQueueScoreAdmittedWhileExpansionPending(t *testing.T) {
	t.Parallel()

	q := NewQueue(10)
	require.NoError(t, q.Push(impact.WorkItem{Key: "octocat", Kind: impact.WorkExpandRelations}))
	require.NoError(t, q.Push(scoreItem("octocat")))
	require.Equal(t, 2, q.Len())
	require.True(t, q.Pending(impact.WorkExpandRelations, "octocat"))
	require.True(t, q.Pending(impact.WorkScore, "octocat"))
}

func TestQueueCapacity(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	results := q.Enqueue(scoreItem("a"), scoreItem("b"), scoreItem("c"), scoreItem("d"), scoreItem("e"))
	require.Equal(t, []bool{true, true, true, false, false}, results)
	require.Equal(t, 3, q.Len())
	require.ErrorIs(t, q.Push(scoreItem("f")), impact.ErrQueueFull)
	require.False(t, q.Pending(impact.WorkScore, "d"), "dropped items must not be marked pending")

	// wrap the ring buffer
	_, _ = q.Dequeue()
	require.NoError(t, q.Push(scoreItem("d")))
	var got []string
	for {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		got = append(got, item.Key)
	}
	require.Equal(t, []string{"b", "c", "d"}, got)
}

func TestQueueDefaultCapacity(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultCapacity, NewQueue(0).Cap())
}

func TestQueueConcurrentNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	q := NewQueue(50)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(scoreItem(fmt.Sprintf("%d-%d", w, i)))
				if i%3 == 0 {
					q.Dequeue()
				}
				if q.Len() > q.Cap() {
					t.Errorf("queue length %d exceeds capacity %d", q.Len(), q.Cap())
				}
			}
		}(w)
	}
	wg.Wait()
	require.LessOrEqual(t, q.Len(), q.Cap())
}
