package cache_test

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divecli/internal/cache"
	"divecli/internal/operations"
)

type countingRecorder struct {
	mu     sync.Mutex
	hits   int
	misses int
}

func (r *countingRecorder) RecordCacheLookup(_ string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func TestNodeCache(t *testing.T) {
	d := operations.SelectAnnotation("CpG Islands", "hg19")
	node := d.Resolve("q1", 5)

	t.Run("get is stamped with caller epoch", func(t *testing.T) {
		c := cache.NewNodeCache(cache.Options{Name: "selects"})
		c.Put(d.Fingerprint(), node)

		for _, epoch := range []int64{0, 3, 42} {
			got, ok := c.Get(d.Fingerprint(), epoch)
			require.True(t, ok)
			assert.Equal(t, "q1", got.QueryID())
			assert.Equal(t, epoch, got.Epoch())
		}
	})

	t.Run("stored entry is never the caller's node", func(t *testing.T) {
		c := cache.NewNodeCache(cache.Options{Name: "selects"})
		c.Put(d.Fingerprint(), node)

		first, _ := c.Get(d.Fingerprint(), 1)
		second, _ := c.Get(d.Fingerprint(), 2)
		assert.NotSame(t, node, first)
		assert.NotSame(t, first, second)
		assert.Equal(t, int64(1), first.Epoch(), "later read does not restamp an earlier copy")
		assert.Equal(t, int64(5), node.Epoch(), "put does not restamp the caller's node")
	})

	t.Run("miss", func(t *testing.T) {
		rec := &countingRecorder{}
		c := cache.NewNodeCache(cache.Options{Name: "selects", Metrics: rec})
		_, ok := c.Get("absent", 1)
		assert.False(t, ok)
		c.Put("present", node)
		_, ok = c.Get("present", 1)
		assert.True(t, ok)

		stats := c.Stats()
		assert.Equal(t, int64(1), stats.Hits)
		assert.Equal(t, int64(1), stats.Misses)
		assert.InDelta(t, 0.5, stats.HitRatio, 0.001)
		assert.Equal(t, 1, rec.hits)
		assert.Equal(t, 1, rec.misses)
	})

	t.Run("invalidate and clear", func(t *testing.T) {
		c := cache.NewNodeCache(cache.Options{Name: "selects"})
		c.Put("a", node)
		c.Put("b", node)
		assert.True(t, c.Contains("a"))
		c.Invalidate("a")
		assert.False(t, c.Contains("a"))
		assert.Equal(t, 1, c.Len())
		c.Clear()
		assert.Equal(t, 0, c.Len())
	})
}

func TestBoundedCache(t *testing.T) {
	c := cache.NewNodeCache(cache.Options{Name: "bounded", MaxEntries: 2})
	n := operations.SelectAnnotation("A", "hg19").Resolve("q1", 1)

	c.Put("a", n)
	c.Put("b", n)
	_, _ = c.Get("a", 1) // a becomes most recently used
	c.Put("c", n)

	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
	assert.Equal(t, 2, c.Stats().MaxEntries)
	assert.Equal(t, 2, c.Len())
}

func TestMultiKeyCache(t *testing.T) {
	c := cache.NewMultiKeyNodeCache(cache.Options{Name: "intersects"})
	n := operations.SelectAnnotation("A", "hg19").Resolve("q1", 1)

	c.PutKeys([]string{"a", "b"}, n)

	t.Run("same order hits", func(t *testing.T) {
		got, ok := c.GetKeys([]string{"a", "b"}, 2)
		require.True(t, ok)
		assert.Equal(t, int64(2), got.Epoch())
	})

	t.Run("reversed order misses", func(t *testing.T) {
		_, ok := c.GetKeys([]string{"b", "a"}, 2)
		assert.False(t, ok)
	})

	t.Run("boundary shift does not collide", func(t *testing.T) {
		c.PutKeys([]string{"ab", "c"}, n)
		_, ok := c.GetKeys([]string{"a", "bc"}, 2)
		assert.False(t, ok)
		assert.NotEqual(t, cache.CompositeKey([]string{"ab", "c"}), cache.CompositeKey([]string{"a", "bc"}))
		assert.NotEqual(t, cache.CompositeKey([]string{"a\x1f1", "b"}), cache.CompositeKey([]string{"a", "1\x1fb"}))
	})
}

func TestResultAndRequestCaches(t *testing.T) {
	h := operations.NewRequestHandle(nil, "r1", operations.JobCountRegions, 3)

	t.Run("result copies are restamped", func(t *testing.T) {
		c := cache.NewResultCache(cache.Options{Name: "results"})
		c.Put("r1", operations.NewResultPayload(h, json.RawMessage(`{"count":42}`)))

		got, ok := c.Get("r1", 8)
		require.True(t, ok)
		assert.Equal(t, int64(8), got.Epoch)
		assert.JSONEq(t, `{"count":42}`, string(got.Data))

		got.Data[2] = 'X'
		again, ok := c.Get("r1", 9)
		require.True(t, ok)
		assert.JSONEq(t, `{"count":42}`, string(again.Data), "a hit cannot alter the stored payload")
	})

	t.Run("request handles keep identity", func(t *testing.T) {
		c := cache.NewRequestCache(cache.Options{Name: "requests"})
		c.Put("op", h)
		got, ok := c.Get("op", 9)
		require.True(t, ok)
		assert.Same(t, h, got)
	})
}

func TestGroup(t *testing.T) {
	t.Run("disabled runs every caller", func(t *testing.T) {
		g := cache.NewGroup(false)
		var calls atomic.Int32
		for i := 0; i < 3; i++ {
			_, shared, err := g.Do("k", func() (interface{}, error) {
				calls.Add(1)
				return "q1", nil
			})
			require.NoError(t, err)
			assert.False(t, shared)
		}
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("enabled shares in-flight resolution", func(t *testing.T) {
		g := cache.NewGroup(true)
		release := make(chan struct{})
		var calls atomic.Int32
		var wg sync.WaitGroup

		results := make([]interface{}, 4)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v, _, err := g.Do("k", func() (interface{}, error) {
					calls.Add(1)
					<-release
					return "q1", nil
				})
				assert.NoError(t, err)
				results[i] = v
			}(i)
		}

		// let every goroutine join the flight before it completes
		require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
		for _, v := range results {
			assert.Equal(t, "q1", v)
		}
	})
}
