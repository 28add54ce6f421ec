package event

import (
	"context"
	"sync"
)

// Poster is how components hand events to the loop.
type Poster interface {
	Post(e Event)
}

// Queue is an unbounded FIFO mailbox. Post never blocks, so a component
// posting while the loop is calling into it cannot deadlock.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

func (q *Queue) Post(e Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available or ctx is done.
func (q *Queue) Next(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return e, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(e Event)

func (f PosterFunc) Post(e Event) { f(e) }
