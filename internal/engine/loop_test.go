package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()
	var got []int
	for i := 0; i < 3; i++ {
		i := i
		require.True(t, q.Enqueue(func() { got = append(got, i) }))
	}
	assert.Equal(t, 3, q.Len())

	for {
		fn, ok := q.TryDequeue()
		if !ok {
			break
		}
		fn()
	}
	assert.Equal(t, []int{0, 1, 2}, got)
	assert.Equal(t, 0, q.Len())

	q.Close()
	assert.False(t, q.Enqueue(func() {}))
}

func TestLoop_CallRunsSerially(t *testing.T) {
	l := newLoop(clock.WallClock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.run(ctx)
	<-l.started

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.call(ctx, func() { counter++ }))
		}()
	}
	wg.Wait()

	var final int
	require.NoError(t, l.call(ctx, func() { final = counter }))
	assert.Equal(t, 50, final)
}

func TestLoop_CallAfterStop(t *testing.T) {
	l := newLoop(clock.WallClock)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- l.run(ctx) }()
	<-l.started

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.ErrorIs(t, l.call(context.Background(), func() {}), ErrEngineStopped)
}

func TestLoop_AfterPostsOnLoop(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	l := newLoop(clk)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.run(ctx)
	<-l.started

	fired := make(chan struct{})
	l.after(time.Minute, func() { close(fired) })

	select {
	case <-fired:
		t.Fatal("timer fired before the clock advanced")
	default:
	}

	require.NoError(t, clk.WaitAdvance(time.Minute, time.Second, 1))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
