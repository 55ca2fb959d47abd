package collector

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/netatmo-collector/internal/netatmo"
)

const DefaultQueueSize = 16

// Record is one published poll result.
type Record struct {
	ID   uuid.UUID
	Time time.Time // capture time, UTC
	Data netatmo.FlatRecord
}

// Queue hands records from the poll worker to a single consumer.
type Queue struct {
	ch chan Record
}

// NewQueue returns a queue holding at most size records.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Record, size)}
}

// Put enqueues rec, blocking while the queue is full until ctx is done.
func (q *Queue) Put(ctx context.Context, rec Record) error {
	select {
	case q.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get waits up to timeout for a record, returning early when ctx is done.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (Record, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rec := <-q.ch:
		return rec, true
	case <-timer.C:
		return Record{}, false
	case <-ctx.Done():
		return Record{}, false
	}
}

// Len returns the number of records waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}
