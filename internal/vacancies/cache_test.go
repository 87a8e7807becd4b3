package vacancies

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	calls   atomic.Int32
	mu      sync.Mutex
	records []Record
	err     error
	delay   time.Duration
}

func (f *fakeSource) Fetch(ctx context.Context) ([]Record, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records, f.err
}

func (f *fakeSource) set(records []Record, err error) {
	f.mu.Lock()
	f.records, f.err = records, err
	f.mu.Unlock()
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestGetWithinTTLFetchesOnce(t *testing.T) {
	src := &fakeSource{records: []Record{{Title: "Limpieza"}}}
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	c := NewCache(src, WithClock(clock.now))

	first := c.Get(context.Background())
	clock.advance(4 * time.Minute)
	second := c.Get(context.Background())

	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, first, second)
}

func TestGetAfterTTLWithFailingSourceServesStale(t *testing.T) {
	src := &fakeSource{records: []Record{{Title: "Limpieza"}, {Title: "Recepción"}}}
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	c := NewCache(src, WithClock(clock.now))

	fresh := c.Get(context.Background())
	require.Len(t, fresh, 2)

	src.set(nil, errors.New("connection refused"))
	clock.advance(DefaultTTL + time.Second)
	stale := c.Get(context.Background())

	assert.Equal(t, fresh, stale)
	assert.Equal(t, int32(2), src.calls.Load())

	// Stale fallback survives arbitrarily long.
	clock.advance(24 * time.Hour)
	assert.Equal(t, fresh, c.Get(context.Background()))
}

func TestGetWithoutCacheAndFailingSourceReturnsEmpty(t *testing.T) {
	src := &fakeSource{err: errors.New("timeout")}
	c := NewCache(src)

	got := c.Get(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSuccessfulRefreshReplacesPayload(t *testing.T) {
	src := &fakeSource{records: []Record{{Title: "A"}}}
	clock := &fakeClock{t: time.Now()}
	c := NewCache(src, WithClock(clock.now))

	c.Get(context.Background())
	src.set([]Record{{Title: "B"}}, nil)
	clock.advance(DefaultTTL)

	got := c.Get(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].Title)
}

func TestClearForcesRefetch(t *testing.T) {
	src := &fakeSource{records: []Record{{Title: "A"}}}
	c := NewCache(src)

	c.Get(context.Background())
	c.Clear()
	c.Get(context.Background())

	assert.Equal(t, int32(2), src.calls.Load())
}

func TestConcurrentRefreshesAreCoalesced(t *testing.T) {
	src := &fakeSource{records: []Record{{Title: "A"}}, delay: 50 * time.Millisecond}
	c := NewCache(src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, c.Get(context.Background()), 1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, src.calls.Load(), int32(2))
}

func TestSearch(t *testing.T) {
	src := &fakeSource{records: []Record{
		{Title: "Auxiliar de limpieza", Location: "Monterrey"},
		{Title: "Recepcionista", Description: "Atención a clientes", Location: "CDMX"},
	}}
	c := NewCache(src)

	assert.Len(t, c.Search(context.Background(), ""), 2)

	got := c.Search(context.Background(), "LIMPIEZA")
	require.Len(t, got, 1)
	assert.Equal(t, "Auxiliar de limpieza", got[0].Title)

	got = c.Search(context.Background(), "cdmx")
	require.Len(t, got, 1)
	assert.Equal(t, "Recepcionista", got[0].Title)

	assert.Empty(t, c.Search(context.Background(), "chofer"))
}
