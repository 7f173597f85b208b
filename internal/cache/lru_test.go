package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func newTestCache(size int, ttl time.Duration) (*LRUCache[string], *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](size, ttl)
	c.now = clock.Now
	return c, clock
}

func TestLRUCache_GetSet(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)

	c.Set("a", "1")
	c.Set("b", "2")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	// "b" is now least recently used and gets evicted.
	c.Set("c", "3")
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Size())
}

func TestLRUCache_Expiry(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	clock.t = clock.t.Add(30 * time.Second)
	c.Set("b", "refreshed")

	clock.t = clock.t.Add(45 * time.Second)
	_, ok := c.Get("a")
	assert.False(t, ok)

	v, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, "refreshed", v)

	clock.t = clock.t.Add(time.Hour)
	assert.Equal(t, 1, c.CleanExpired())
	assert.Equal(t, 0, c.Size())
}

func TestLRUCache_DeletePrefix(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set("u:1|monthly", "x")
	c.Set("u:1|annual", "y")
	c.Set("u:12|monthly", "z")

	assert.Equal(t, 2, c.DeletePrefix("u:1|"))
	_, ok := c.Get("u:12|monthly")
	assert.True(t, ok)
}

func TestLRUCache_GetOrLoad(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
				calls.Add(1)
				<-release
				return "loaded", nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(5))
	for _, r := range results {
		assert.Equal(t, "loaded", r)
	}

	before := calls.Load()
	v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
		calls.Add(1)
		return "again", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)
	assert.Equal(t, before, calls.Load())
}

func TestLRUCache_GetOrLoadErrorNotCached(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	boom := errors.New("boom")

	_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Size())
}

func TestLRUCache_GetOrLoadSurvivesCancelledCaller(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	started, release := make(chan struct{}), make(chan struct{})
	loadErr := make(chan error, 1)

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(first, "k", func(ctx context.Context) (string, error) {
			close(started)
			<-release
			loadErr <- ctx.Err()
			return "loaded", nil
		})
		firstDone <- err
	}()
	<-started

	secondDone := make(chan string, 1)
	go func() {
		v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
			return "second", nil
		})
		assert.NoError(t, err)
		secondDone <- v
	}()

	cancel()
	assert.ErrorIs(t, <-firstDone, context.Canceled)
	close(release)

	assert.NoError(t, <-loadErr)
	assert.Equal(t, "loaded", <-secondDone)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "loaded", v)
}

func TestManager_CleanNow(t *testing.T) {
	c, clock := newTestCache(10, time.Second)
	c.Set("a", "1")
	clock.t = clock.t.Add(time.Minute)

	m := NewManager(nil)
	m.Register(c)
	assert.Equal(t, 1, m.CleanNow())

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}
