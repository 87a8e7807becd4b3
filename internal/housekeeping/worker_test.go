package housekeeping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nous-labs/vacancy-bridge/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePruner struct {
	mu    sync.Mutex
	calls int
	idle  time.Duration
	n     int
	err   error
}

func (f *fakePruner) PruneIdle(_ context.Context, idle time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.idle = idle
	return f.n, f.err
}

func (f *fakePruner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCleanOnce(t *testing.T) {
	p := &fakePruner{n: 3}
	w := NewWorker(p, nil, Config{})

	r := w.CleanOnce(context.Background())
	assert.Equal(t, 1, r.CycleNumber)
	assert.Equal(t, 3, r.Pruned)
	assert.Empty(t, r.Error)
	assert.Equal(t, 30*time.Minute, p.idle)
	assert.Same(t, r, w.LastReport())

	p.err = errors.New("disk full")
	r = w.CleanOnce(context.Background())
	assert.Equal(t, 2, r.CycleNumber)
	assert.Equal(t, "disk full", r.Error)
}

func TestStartIsIdempotentAndPublishes(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer sub.Close()

	p := &fakePruner{n: 2}
	w := NewWorker(p, bus, Config{Interval: 10 * time.Millisecond, IdleTTL: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	w.Start(ctx)

	select {
	case ev := <-sub.C:
		assert.Equal(t, events.TypeCleanup, ev.Type)
		assert.Contains(t, ev.Message, "2 idle sessions removed")
	case <-time.After(2 * time.Second):
		t.Fatal("no cleanup event")
	}

	cancel()
	w.Wait()
	require.GreaterOrEqual(t, p.callCount(), 1)
}
