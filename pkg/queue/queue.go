package queue

import (
	"errors"
	"fmt"
	"sync"
)

// ErrQueueClosed is the common cause of every Post rejection.
var ErrQueueClosed = errors.New("queue closed")

var (
	ErrNotOpen = fmt.Errorf("post before open: %w", ErrQueueClosed)
	ErrClosed  = fmt.Errorf("post after close: %w", ErrQueueClosed)
)

type state int8

const (
	stateNew state = iota
	stateOpen
	stateClosing
	stateClosed
)

// Queue is an unbounded FIFO with many producers and a single consumer
// goroutine. Items are handed to the handler in the order their Post calls
// returned; the handler is never invoked concurrently with itself.
type Queue[T any] struct {
	mu      sync.Mutex
	state   state
	items   []T
	wake    chan struct{}
	done    chan struct{}
	handler func(T)
}

func New[T any](handler func(T)) *Queue[T] {
	return &Queue[T]{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		handler: handler,
	}
}

// Open starts the consumer. Calling it again while open is a no-op; a queue
// cannot be reopened after Close.
func (q *Queue[T]) Open() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch q.state {
	case stateOpen:
		return nil
	case stateClosing, stateClosed:
		return ErrClosed
	}
	q.state = stateOpen
	go q.run()
	return nil
}

// Post enqueues v without blocking on the consumer.
func (q *Queue[T]) Post(v T) error {
	q.mu.Lock()
	switch q.state {
	case stateNew:
		q.mu.Unlock()
		return ErrNotOpen
	case stateClosing, stateClosed:
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close stops accepting new items and blocks until everything already posted
// has been handled. Safe to call more than once and from several goroutines.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	switch q.state {
	case stateNew:
		q.state = stateClosed
		close(q.done)
		q.mu.Unlock()
		return
	case stateOpen:
		q.state = stateClosing
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

// IsOpen reports whether Post currently accepts items.
func (q *Queue[T]) IsOpen() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == stateOpen
}

// Len returns the number of items waiting for the consumer.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) run() {
	var batch []T
	for {
		q.mu.Lock()
		batch, q.items = q.items, batch[:0]
		closing := q.state == stateClosing
		if len(batch) == 0 && closing {
			q.state = stateClosed
			q.mu.Unlock()
			close(q.done)
			return
		}
		q.mu.Unlock()

		if len(batch) == 0 {
			<-q.wake
			continue
		}
		for i := range batch {
			q.handler(batch[i])
			var zero T
			batch[i] = zero
		}
	}
}
