package cleanup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSweeper struct {
	calls atomic.Int32
	drop  int
}

func (c *countingSweeper) Sweep(time.Time) int {
	c.calls.Add(1)
	return c.drop
}

func TestRunOnceSumsSweepers(t *testing.T) {
	a := &countingSweeper{drop: 2}
	b := &countingSweeper{drop: 3}
	w := NewWorker("test", time.Hour, nil, a, b)

	assert.Equal(t, 5, w.RunOnce())
	assert.EqualValues(t, 1, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load())
}

func TestWorkerTicksUntilStopped(t *testing.T) {
	s := &countingSweeper{}
	w := NewWorker("test", 5*time.Millisecond, nil, s)
	w.Start(context.Background())

	assert.Eventually(t, func() bool { return s.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()
	after := s.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, s.calls.Load())
}

func TestWorkerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker("test", time.Hour, nil)
	w.Start(ctx)
	cancel()

	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after cancel")
	}
}
