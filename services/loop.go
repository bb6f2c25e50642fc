package services

import (
	"context"
	"errors"
)

// ErrLoopStopped is returned to callers waiting on a loop that has exited.
var ErrLoopStopped = errors.New("dispatch loop stopped")

// Loop is the single dispatch goroutine. Engine mutations, connection
// callbacks, timer fires and commands all run as closures on it, one at a
// time.
type Loop struct {
	ch   chan func()
	done chan struct{}
}

func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{ch: make(chan func(), buffer), done: make(chan struct{})}
}

// Post queues fn. It blocks while the queue is full and drops fn once the
// loop has stopped. It must not be called from the loop itself.
func (l *Loop) Post(fn func()) {
	select {
	case l.ch <- fn:
	case <-l.done:
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case l.ch <- func() { fn(); close(finished) }:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes posted closures until ctx ends.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.ch:
			fn()
		}
	}
}

// Done is closed once Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }
