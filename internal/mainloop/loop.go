package mainloop

import (
	"context"
	"sync"
)

// Loop is an unbounded mailbox of closures executed one at a time by
// whichever goroutine drives it.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wakeup chan struct{}
}

// New creates an empty Loop.
func New() *Loop {
	return &Loop{
		wakeup: make(chan struct{}, 1),
	}
}

// Post queues fn for execution on the owner goroutine. It is safe to call
// from any goroutine and never blocks.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wakeup <- struct{}{}:
	default:
	}
}

// Len returns the number of closures waiting to run.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// RunPending executes every closure queued at the time of the call, plus any
// closures those closures post, and returns how many ran. It never waits for
// new work.
func (l *Loop) RunPending() int {
	n := 0
	for {
		batch := l.take()
		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			fn()
			n++
		}
	}
}

// Run executes posted closures until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunPending()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wakeup:
		}
	}
}

// Call posts fn and waits until it has run on the owner goroutine.
// Calling it from the owner goroutine itself deadlocks.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := l.queue
	l.queue = nil
	return batch
}
