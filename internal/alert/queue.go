// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package alert

import (
	"context"
	"sync"

	"github.com/tomtom215/netsentinel/internal/metrics"
)

// queueItem is one queued event. Items are ordered by severity rank
// descending, then by admission sequence ascending, so consumers always
// dequeue the most severe pending event and FIFO order holds within a
// severity level.
type queueItem struct {
	event *Event
	rank  int
	seq   uint64
	index int // position in the heap array
}

// before reports whether i should be dequeued ahead of j.
func (i *queueItem) before(j *queueItem) bool {
	if i.rank != j.rank {
		return i.rank > j.rank
	}
	return i.seq < j.seq
}

// Queue is the bounded, severity-aware ingest queue between producers
// and the correlation workers.
//
// Admission at capacity drops the lowest-severity pending work first:
// an arriving event displaces the oldest queued event ranked strictly
// below its own severity estimate. When nothing ranks below it, the
// arrival itself is dropped, except high and critical events, which are
// always admitted and momentarily grow the queue instead. Drops and
// displacements are counted, never silently ignored beyond that.
type Queue struct {
	mu       sync.Mutex
	heap     []*queueItem
	capacity int
	nextSeq  uint64
	closed   bool

	// notify is a one-slot wakeup signal. Every push signals it; a
	// consumer that pops while more items remain re-signals, so blocked
	// consumers chain-wake until the queue drains.
	notify chan struct{}
}

// NewQueue creates a queue holding at most capacity events.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		heap:     make([]*queueItem, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push admits an event.
//
// Returns (true, nil) when the event was queued, (false, nil) when it
// was dropped by the overflow policy, and (false, ErrShuttingDown) after
// Close. A displaced event is counted and discarded; its producer has
// already been acknowledged and is never notified.
func (q *Queue) Push(ev *Event) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrShuttingDown
	}

	if len(q.heap) >= q.capacity {
		victim := q.lowestOldest()
		switch {
		case victim != nil && victim.rank < ev.Estimate.Rank():
			// The oldest queued event ranked strictly below the arrival
			// makes room for it.
			q.removeAt(victim.index)
			metrics.EventsDropped.WithLabelValues("displaced").Inc()
		case ev.Estimate.AtLeast(SeverityHigh):
			// High and critical events are always admitted: with no
			// strictly lower victim the queue grows past nominal
			// capacity momentarily rather than lose the event.
		default:
			// The arrival is itself the lowest severity present.
			metrics.EventsDropped.WithLabelValues("overflow").Inc()
			return false, nil
		}
	}

	q.append(ev)
	metrics.QueueDepth.Set(float64(len(q.heap)))
	q.signal()
	return true, nil
}

// Pop blocks until an event is available or ctx is done. After Close it
// drains remaining events before returning ErrShuttingDown.
func (q *Queue) Pop(ctx context.Context) (*Event, error) {
	for {
		q.mu.Lock()
		if len(q.heap) > 0 {
			item := q.removeAt(0)
			metrics.QueueDepth.Set(float64(len(q.heap)))
			if len(q.heap) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return item.event, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			// Chain the shutdown wakeup to the next blocked consumer.
			q.signal()
			return nil, ErrShuttingDown
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Close stops admission. Queued events remain poppable until drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// signal performs a non-blocking wakeup send.
func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Internal heap operations (must be called with the lock held)

// append inserts a new item and restores the heap property.
func (q *Queue) append(ev *Event) {
	item := &queueItem{
		event: ev,
		rank:  ev.Estimate.Rank(),
		seq:   q.nextSeq,
		index: len(q.heap),
	}
	q.nextSeq++
	q.heap = append(q.heap, item)
	q.bubbleUp(item.index)
}

// lowestOldest finds the queued item with the lowest severity rank,
// breaking ties toward the oldest. Linear scan: the heap is ordered for
// consumers, not for eviction, and capacity is small.
func (q *Queue) lowestOldest() *queueItem {
	var victim *queueItem
	for _, item := range q.heap {
		if victim == nil || item.rank < victim.rank ||
			(item.rank == victim.rank && item.seq < victim.seq) {
			victim = item
		}
	}
	return victim
}

// removeAt removes and returns the item at index i.
func (q *Queue) removeAt(i int) *queueItem {
	n := len(q.heap) - 1
	item := q.heap[i]

	if i == n {
		q.heap = q.heap[:n]
		return item
	}

	q.heap[i] = q.heap[n]
	q.heap[i].index = i
	q.heap = q.heap[:n]

	if !q.bubbleUp(i) {
		q.bubbleDown(i)
	}

	return item
}

// bubbleUp moves the item at index i up to its position. Returns true
// if it moved.
func (q *Queue) bubbleUp(i int) bool {
	moved := false
	for i > 0 {
		parent := (i - 1) / 2
		if !q.heap[i].before(q.heap[parent]) {
			break
		}
		q.swap(i, parent)
		i = parent
		moved = true
	}
	return moved
}

// bubbleDown moves the item at index i down to its position.
func (q *Queue) bubbleDown(i int) {
	n := len(q.heap)
	for {
		first := i
		left := 2*i + 1
		right := 2*i + 2

		if left < n && q.heap[left].before(q.heap[first]) {
			first = left
		}
		if right < n && q.heap[right].before(q.heap[first]) {
			first = right
		}

		if first == i {
			break
		}

		q.swap(i, first)
		i = first
	}
}

func (q *Queue) swap(i, j int) {
	q.heap[i], q.heap[j] = q.heap[j], q.heap[i]
	q.heap[i].index = i
	q.heap[j].index = j
}
