package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LagSentinel/internal/model"
)

func seriesOf(n int) *model.Series {
	s := &model.Series{Symbol: "BTC", Interval: "1m", Period: "1d"}
	for i := 0; i < n; i++ {
		s.Candles = append(s.Candles, model.Candle{Timestamp: int64(i) * 60_000, Close: float64(i)})
	}
	return s
}

func TestHotCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newHotCache(2)
	a := cacheKey{"1m", "1d"}
	b := cacheKey{"1m", "7d"}
	d := cacheKey{"5m", "1d"}

	c.put(a, 1, seriesOf(1))
	c.put(b, 1, seriesOf(2))
	_, ok := c.get(a, 1)
	require.True(t, ok)

	c.put(d, 1, seriesOf(3))
	_, ok = c.get(b, 1)
	assert.False(t, ok, "b was least recently used")
	_, ok = c.get(a, 1)
	assert.True(t, ok)
	_, ok = c.get(d, 1)
	assert.True(t, ok)
	assert.Equal(t, 2, c.ll.Len())
	assert.Len(t, c.items, 2)
}

func TestHotCache_StoresCopies(t *testing.T) {
	c := newHotCache(1)
	k := cacheKey{"1m", "1d"}
	in := seriesOf(3)
	c.put(k, 1, in)
	in.Candles[0].Close = 99

	out, ok := c.get(k, 1)
	require.True(t, ok)
	assert.Equal(t, 0.0, out.Candles[0].Close)
}

func TestHotCache_ReplaceAndClear(t *testing.T) {
	c := newHotCache(2)
	k := cacheKey{"1m", "1d"}
	c.put(k, 1, seriesOf(1))
	c.put(k, 2, seriesOf(5))

	out, ok := c.get(k, 2)
	require.True(t, ok)
	assert.Equal(t, 5, out.Len())

	c.clear()
	_, ok = c.get(k, 2)
	assert.False(t, ok)
	st := c.stats()
	assert.EqualValues(t, 1, st.hits)
	assert.EqualValues(t, 1, st.misses)
	assert.Empty(t, st.keys)
}

func TestLockTable_Exclusive(t *testing.T) {
	lt := newLockTable()
	release, err := lt.acquire(context.Background(), "ETH|1m")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lt.acquire(ctx, "ETH|1m")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other keys are independent.
	other, err := lt.acquire(context.Background(), "ETH|5m")
	require.NoError(t, err)
	other()

	acquired := make(chan struct{})
	go func() {
		r, err := lt.acquire(context.Background(), "ETH|1m")
		if err == nil {
			r()
		}
		close(acquired)
	}()
	time.Sleep(10 * time.Millisecond)
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	assert.Zero(t, lt.active())
}
