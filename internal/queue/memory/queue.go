// Package memory provides the in-process crawl queue.
package memory

import (
	"sync"

	"github.com/JakeFAU/impact-crawler/internal/impact"
)

// DefaultCapacity bounds a queue constructed with a non-positive capacity.
const DefaultCapacity = 1000

type pendingKey struct {
	kind impact.WorkKind
	key  string
}

// Queue is a bounded FIFO of work items with a companion pending set. An item
// is rejected while an item of the same kind and key is still queued, so a
// Score item is admitted even if the same key waits for relation expansion.
// Dequeue clears the pending entry, so a key being processed can be queued again.
type Queue struct {
	mu      sync.Mutex
	buf     []impact.WorkItem
	head    int
	size    int
	pending map[pendingKey]struct{}
}

// NewQueue constructs a queue holding at most capacity items.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		buf:     make([]impact.WorkItem, capacity),
		pending: make(map[pendingKey]struct{}, capacity),
	}
}

// Push appends one item. It returns impact.ErrDuplicate when the item is
// already pending and impact.ErrQueueFull when the queue is at capacity.
func (q *Queue) Push(item impact.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushLocked(item)
}

func (q *Queue) pushLocked(item impact.WorkItem) error {
	pk := pendingKey{kind: item.Kind, key: item.Key}
	if _, ok := q.pending[pk]; ok {
		return impact.ErrDuplicate
	}
	if q.size == len(q.buf) {
		return impact.ErrQueueFull
	}
	q.buf[(q.head+q.size)%len(q.buf)] = item
	q.size++
	q.pending[pk] = struct{}{}
	return nil
}

// Enqueue pushes each item in order and reports which were admitted.
func (q *Queue) Enqueue(items ...impact.WorkItem) []bool {
	out := make([]bool, len(items))
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range items {
		out[i] = q.pushLocked(item) == nil
	}
	return out
}

// Dequeue pops the oldest item. The boolean is false when the queue is empty.
func (q *Queue) Dequeue() (impact.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return impact.WorkItem{}, false
	}
	item := q.buf[q.head]
	q.buf[q.head] = impact.WorkItem{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	delete(q.pending, pendingKey{kind: item.Kind, key: item.Key})
	return item, true
}

// Pending reports whether an item of the given kind and key is queued.
func (q *Queue) Pending(kind impact.WorkKind, key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[pendingKey{kind: kind, key: key}]
	return ok
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}
