package manager

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"LagSentinel/internal/collector"
	"LagSentinel/internal/model"
	"LagSentinel/internal/store"
)

const day = int64(24 * 60 * 60 * 1000)

// Window end is slot 20000; a 100d request covers slots 19901..20000.
var (
	testNow   = time.UnixMilli(20000*day + 3*60*60*1000)
	windowEnd = 20000 * day
	window100 = windowEnd - 99*day
)

type fixture struct {
	m   *Manager
	st  *store.Store
	src *collector.MockSource
}

func newFixture(t *testing.T, ref string) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "candles.db"), 12, zap.NewNop())
	require.NoError(t, err)

	src := collector.NewMockSource(1500)
	col := collector.NewCollector(src, collector.Options{MaxPages: 10}, zap.NewNop())
	m := New(st, col, Options{
		ReferenceSymbol: ref,
		Intervals:       []model.Interval{"1d"},
		Periods:         []model.Period{"100d", "50d"},
		CacheSize:       4,
		Now:             func() time.Time { return testNow },
	}, zap.NewNop())
	t.Cleanup(func() { _ = m.Shutdown() })
	return &fixture{m: m, st: st, src: src}
}

func upstream(n int) []model.Candle {
	return collector.GenerateCandles(window100, "1d", n, 100, collector.Wave)
}

func seed(t *testing.T, st *store.Store, symbol string, candles []model.Candle) {
	t.Helper()
	sess, err := st.Session(context.Background())
	require.NoError(t, err)
	defer sess.Close()
	_, err = sess.Upsert(context.Background(), symbol, "1d", candles)
	require.NoError(t, err)
}

func TestGetSeries_EmptyStoreFetchesOnce(t *testing.T) {
	f := newFixture(t, "BTC")
	f.src.Set("ETH", "1d", upstream(100))

	s, err := f.m.GetSeries(context.Background(), "ETH", "1d", "100d")
	require.NoError(t, err)
	assert.Equal(t, 100, s.Len())
	assert.Equal(t, []int64{window100}, f.src.Cursors())

	stats, err := f.m.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats.Store, 1)
	assert.EqualValues(t, 100, stats.Store[0].Count)
	assert.Empty(t, stats.CachedKeys)
	assert.Zero(t, stats.CacheHits+stats.CacheMisses)
	assert.EqualValues(t, 1, stats.Fetches)
}

func TestGetSeries_RightTruncatedStoreFetchesTail(t *testing.T) {
	f := newFixture(t, "BTC")
	all := upstream(100)
	f.src.Set("ETH", "1d", all)
	seed(t, f.st, "ETH", all[:80])

	s, err := f.m.GetSeries(context.Background(), "ETH", "1d", "100d")
	require.NoError(t, err)
	assert.Equal(t, 100, s.Len())
	assert.Equal(t, []int64{window100 + 79*day}, f.src.Cursors())
}

func TestGetSeries_TailRefreshesNewestStoredBar(t *testing.T) {
	f := newFixture(t, "BTC")
	all := upstream(100)
	f.src.Set("ETH", "1d", all)

	// Bar 79 was stored while still open.
	stored := append([]model.Candle{}, all[:80]...)
	stored[79].Close = 1
	seed(t, f.st, "ETH", stored)

	s, err := f.m.GetSeries(context.Background(), "ETH", "1d", "100d")
	require.NoError(t, err)
	require.Equal(t, 100, s.Len())
	assert.Equal(t, all[79].Close, s.Candles[79].Close)
	assert.Equal(t, all[78].Close, s.Candles[78].Close)
}

func TestGetSeries_InternalHoleFetchedAlone(t *testing.T) {
	f := newFixture(t, "BTC")
	all := upstream(100)
	f.src.Set("ETH", "1d", all)
	seed(t, f.st, "ETH", append(append([]model.Candle{}, all[:40]...), all[50:]...))

	s, err := f.m.GetSeries(context.Background(), "ETH", "1d", "100d")
	require.NoError(t, err)
	require.Equal(t, 100, s.Len())
	assert.Equal(t, []int64{window100 + 40*day}, f.src.Cursors())
	for i := 1; i < s.Len(); i++ {
		assert.Equal(t, day, s.Candles[i].Timestamp-s.Candles[i-1].Timestamp)
	}
}

func TestGetSeries_SufficientStoreSkipsRemote(t *testing.T) {
	f := newFixture(t, "BTC")
	all := upstream(100)
	// Two isolated missing bars stay within tolerance.
	stored := append(append([]model.Candle{}, all[:30]...), all[31:70]...)
	stored = append(stored, all[71:]...)
	seed(t, f.st, "ETH", stored)

	s, err := f.m.GetSeries(context.Background(), "ETH", "1d", "100d")
	require.NoError(t, err)
	assert.Equal(t, 98, s.Len())
	assert.Zero(t, f.src.Pages())
	for i := 1; i < s.Len(); i++ {
		assert.LessOrEqual(t, s.Candles[i].Timestamp-s.Candles[i-1].Timestamp, 3*day)
	}
}

func TestGetSeries_ReferenceHitNeedsNoStore(t *testing.T) {
	f := newFixture(t, "BTC")
	f.src.Set("BTC", "1d", upstream(100))

	first, err := f.m.GetSeries(context.Background(), "BTC", "1d", "100d")
	require.NoError(t, err)
	require.Equal(t, 1, f.src.Pages())

	// Any store access after this point would fail.
	require.NoError(t, f.st.Close())

	second, err := f.m.GetSeries(context.Background(), "BTC", "1d", "100d")
	require.NoError(t, err)
	assert.Equal(t, first.Candles, second.Candles)
	assert.Equal(t, 1, f.src.Pages())

	stats := f.m.cache.stats()
	assert.EqualValues(t, 1, stats.hits)
	assert.EqualValues(t, 1, stats.misses)
	assert.Equal(t, []string{"1d/100d"}, stats.keys)
}

func TestGetSeries_CacheCopyIsolation(t *testing.T) {
	f := newFixture(t, "BTC")
	f.src.Set("BTC", "1d", upstream(100))

	a, err := f.m.GetSeries(context.Background(), "BTC", "1d", "100d")
	require.NoError(t, err)
	want := a.Candles[0].Close
	a.Candles[0].Close = -1

	b, err := f.m.GetSeries(context.Background(), "BTC", "1d", "100d")
	require.NoError(t, err)
	assert.Equal(t, want, b.Candles[0].Close)
	b.Candles[1].Close = -1

	c, err := f.m.GetSeries(context.Background(), "BTC", "1d", "100d")
	require.NoError(t, err)
	assert.NotEqual(t, -1.0, c.Candles[1].Close)
}

func TestGetSeries_SingleInFlightFetch(t *testing.T) {
	f := newFixture(t, "BTC")
	f.src.Set("ETH", "1d", upstream(100))
	f.src.Delay = 50 * time.Millisecond

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	lens := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.m.GetSeries(context.Background(), "ETH", "1d", "100d")
			errs[i] = err
			if err == nil {
				lens[i] = s.Len()
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 100, lens[i])
	}
	assert.Equal(t, 1, f.src.Pages())
	assert.Zero(t, f.m.locks.active())
}

func TestGetSeries_FetchErrorSurfaces(t *testing.T) {
	f := newFixture(t, "BTC")
	f.src.SetFail(errors.Join(model.ErrDataIntegrity, errors.New("bad payload")))

	_, err := f.m.GetSeries(context.Background(), "BTC", "1d", "100d")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrDataIntegrity)
	assert.Empty(t, f.m.cache.stats().keys)
}

func TestGetSeries_StaleCacheEntryIsMiss(t *testing.T) {
	f := newFixture(t, "BTC")
	f.src.Set("BTC", "1d", collector.GenerateCandles(window100, "1d", 101, 100, collector.Wave))

	_, err := f.m.GetSeries(context.Background(), "BTC", "1d", "100d")
	require.NoError(t, err)

	// One day later the cached window no longer ends at the current bar.
	f.m.opts.Now = func() time.Time { return testNow.Add(24 * time.Hour) }
	s, err := f.m.GetSeries(context.Background(), "BTC", "1d", "100d")
	require.NoError(t, err)
	oldest, _ := s.Oldest()
	assert.Equal(t, window100+day, oldest)

	stats := f.m.cache.stats()
	assert.EqualValues(t, 0, stats.hits)
	assert.EqualValues(t, 2, stats.misses)
}

func TestWorker_ReusesSession(t *testing.T) {
	f := newFixture(t, "BTC")
	f.src.Set("ETH", "1d", upstream(100))
	f.src.Set("SOL", "1d", upstream(100))

	w, err := f.m.NewWorker(context.Background())
	require.NoError(t, err)
	defer w.Close()

	for _, sym := range []string{"ETH", "SOL", "ETH"} {
		s, err := w.GetSeries(context.Background(), sym, "1d", "100d")
		require.NoError(t, err)
		assert.Equal(t, 100, s.Len())
	}
	assert.Equal(t, 2, f.src.Pages())
}

func TestInitialize_PrewarmsReference(t *testing.T) {
	f := newFixture(t, "BTC")
	f.src.Set("BTC", "1d", upstream(100))

	f.m.Initialize(context.Background())
	keys := f.m.cache.stats().keys
	assert.Equal(t, []string{"1d/100d", "1d/50d"}, keys)

	// A second Initialize clears the cache and rebuilds it from the store alone.
	f.src.SetFail(errors.Join(model.ErrTransient, errors.New("down")))
	f.m.Initialize(context.Background())
	assert.Equal(t, keys, f.m.cache.stats().keys)
}

func TestShutdown_CancelsInFlightAndIsIdempotent(t *testing.T) {
	f := newFixture(t, "BTC")
	f.src.Set("ETH", "1d", upstream(100))
	f.src.Delay = 10 * time.Second

	done := make(chan error, 1)
	go func() {
		_, err := f.m.GetSeries(context.Background(), "ETH", "1d", "100d")
		done <- err
	}()
	require.Eventually(t, func() bool { return f.src.Pages() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.m.Shutdown())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight GetSeries not cancelled")
	}
	assert.NoError(t, f.m.Shutdown())

	_, err := f.m.GetSeries(context.Background(), "ETH", "1d", "100d")
	assert.ErrorIs(t, err, model.ErrClosed)
	_, err = f.m.NewWorker(context.Background())
	assert.ErrorIs(t, err, model.ErrClosed)
}
