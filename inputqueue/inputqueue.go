// Package inputqueue is the FIFO handoff between the Data Interface Manager
// (which enqueues dump metadata as plugins discover it) and the Reader
// Manager (which drains it in batches to open new Readers). It provides no
// ordering guarantee beyond FIFO within a single enqueue call; global
// record ordering is the Reader Manager's job.
package inputqueue

import (
	"sync"

	"github.com/bgpstream-go/bgpstream/dumpmeta"
)

// Sink is the narrow interface a Data Interface plugin enqueues discovered
// metadata through, independent of the concrete Queue implementation.
type Sink interface {
	Enqueue(items ...dumpmeta.Metadata)
}

// Queue is a FIFO of dumpmeta.Metadata, safe for concurrent use: a plugin
// may enqueue from its own goroutine (live mode) while the Reader Manager
// drains from another.
type Queue struct {
	mu    sync.Mutex
	items []dumpmeta.Metadata
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends items to the back of the queue.
func (q *Queue) Enqueue(items ...dumpmeta.Metadata) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
}

// IsEmpty reports whether the queue currently holds no items.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// TakeBatch hands off every currently-held item and empties the queue.
func (q *Queue) TakeBatch() []dumpmeta.Metadata {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	batch := q.items
	q.items = nil
	return batch
}

// Len reports the number of items currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
