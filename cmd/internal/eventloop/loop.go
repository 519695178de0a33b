// Package eventloop provides the single-threaded cooperative scheduler the chat
// core runs on.
//
// Every socket callback, fetch completion, and user action is posted as a task and
// executed one at a time on the loop goroutine, in posting order. State owned by
// the loop therefore needs no locks.
package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned when a task is posted to a stopped loop.
var ErrClosed = errors.New("eventloop: closed")

// Loop runs posted tasks serially on one goroutine.
type Loop struct {
	log *slog.Logger

	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

// New starts a loop. Close must be called to release its goroutine.
func New(log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	l := &Loop{
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post enqueues fn. It never blocks; it reports false if the loop is closed.
func (l *Loop) Post(fn func()) bool {
	if l == nil || fn == nil {
		return false
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do posts fn and waits for it to finish.
// Calling Do from a task running on the loop would deadlock; run fn inline there instead.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// The task may still have run before shutdown completed.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Close stops accepting tasks, drains what is already queued, and waits for the
// loop goroutine to exit. It is idempotent.
func (l *Loop) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()

		select {
		case l.wake <- struct{}{}:
		default:
		}
	})
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			l.exec(fn)
		}

		if closed && len(batch) == 0 {
			return
		}
		if len(batch) > 0 {
			continue
		}
		<-l.wake
	}
}

// exec isolates a panicking task so one bad callback does not stop the loop.
func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("eventloop.task.panic", "panic", r)
		}
	}()
	fn()
}
