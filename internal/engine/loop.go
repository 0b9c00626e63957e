package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/juju/clock"
)

// ErrEngineStopped is returned when posting to a loop that is no longer running
var ErrEngineStopped = errors.New("engine stopped")

// eventQueue is an unbounded FIFO of closures. Enqueue never blocks so
// worker callbacks and timers can always hand work back to the loop.
type eventQueue struct {
	mu     sync.Mutex
	events []func()
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]func(), 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue returns false once the queue is closed.
func (q *eventQueue) Enqueue(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, fn)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front closure without blocking.
func (q *eventQueue) TryDequeue() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil, false
	}
	fn := q.events[0]
	q.events[0] = nil
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return fn, true
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// loop runs every closure on a single goroutine. State owned by the loop
// is only touched from closures it runs.
type loop struct {
	queue   *eventQueue
	clock   clock.Clock
	started chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newLoop(clk clock.Clock) *loop {
	return &loop{
		queue:   newEventQueue(),
		clock:   clk,
		started: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// run drains the queue until ctx is cancelled.
func (l *loop) run(ctx context.Context) error {
	close(l.started)
	defer l.once.Do(func() {
		l.queue.Close()
		close(l.stopped)
	})

	for {
		for {
			fn, ok := l.queue.TryDequeue()
			if !ok {
				break
			}
			fn()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.queue.signal:
		}
	}
}

// post schedules fn on the loop.
func (l *loop) post(fn func()) bool {
	return l.queue.Enqueue(fn)
}

// call runs fn on the loop and waits for it.
func (l *loop) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrEngineStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrEngineStopped
	}
}

// after schedules fn on the loop once d has elapsed on the loop clock.
func (l *loop) after(d time.Duration, fn func()) clock.Timer {
	return l.clock.AfterFunc(d, func() {
		l.post(fn)
	})
}
