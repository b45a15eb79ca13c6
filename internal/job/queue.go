package job

import (
	"strings"
	"sync"
	"sync/atomic"
)

// fifo is an unbounded multi-producer / single-consumer queue.
//
// count mirrors len(items) so dispatch can read load without taking the lock.
// wake carries at most one pending wake-up for the consumer.
type fifo struct {
	mu    sync.Mutex
	items []*Item
	count atomic.Int32
	wake  chan struct{}
}

func newFIFO() *fifo {
	return &fifo{wake: make(chan struct{}, 1)}
}

func (q *fifo) push(j *Item) {
	q.mu.Lock()
	q.items = append(q.items, j)
	q.count.Store(int32(len(q.items)))
	q.mu.Unlock()
	q.signal()
}

// pushUnique appends j unless an item with the same name (case-insensitive)
// is already queued.
func (q *fifo) pushUnique(j *Item) bool {
	q.mu.Lock()
	for _, it := range q.items {
		if strings.EqualFold(it.Name, j.Name) {
			q.mu.Unlock()
			return false
		}
	}
	q.items = append(q.items, j)
	q.count.Store(int32(len(q.items)))
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *fifo) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *fifo) pop() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	j := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// Drop the backing array so a long burst doesn't pin memory.
		q.items = nil
	}
	q.count.Store(int32(len(q.items)))
	return j, true
}

func (q *fifo) has(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if strings.EqualFold(it.Name, name) {
			return true
		}
	}
	return false
}

// clear drops every queued item and returns how many were dropped.
func (q *fifo) clear() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.count.Store(0)
	q.mu.Unlock()
	return n
}

func (q *fifo) len() int { return int(q.count.Load()) }
