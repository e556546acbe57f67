// Package manager serves candle series to the detector. Reference series are
// kept in a small in-memory LRU; everything else is read from the store and
// topped up from the remote source when the stored window is incomplete.
package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"LagSentinel/internal/model"
	"LagSentinel/internal/store"
)

// maxGapFetches bounds the number of separate range fetches per call. Beyond
// it the missing ranges are fetched as one span.
const maxGapFetches = 4

// RangeFetcher downloads an inclusive range of candles.
type RangeFetcher interface {
	FetchRange(ctx context.Context, symbol string, iv model.Interval, sinceMs, untilMs int64) ([]model.Candle, error)
}

// Options configures a Manager.
type Options struct {
	ReferenceSymbol string
	// Intervals and Periods are prewarmed for the reference symbol.
	Intervals []model.Interval
	Periods   []model.Period
	CacheSize int
	// CoverageRatio is the minimum fraction of bars and span a stored window
	// must hold to be served without fetching.
	CoverageRatio float64
	// GapTolerance is the largest allowed distance between consecutive bars,
	// in intervals.
	GapTolerance int
	// Now overrides the clock.
	Now func() time.Time
}

// Manager owns the hot cache and the download lock table.
type Manager struct {
	store   *store.Store
	fetcher RangeFetcher
	opts    Options
	cache   *hotCache
	locks   *lockTable
	log     *zap.Logger
	fetches atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	once   sync.Once
}

// New creates a Manager over st and fetcher.
func New(st *store.Store, fetcher RangeFetcher, opts Options, log *zap.Logger) *Manager {
	if opts.CoverageRatio <= 0 {
		opts.CoverageRatio = 0.95
	}
	if opts.GapTolerance <= 0 {
		opts.GapTolerance = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   st,
		fetcher: fetcher,
		opts:    opts,
		cache:   newHotCache(opts.CacheSize),
		locks:   newLockTable(),
		log:     log.Named("manager"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Initialize clears the hot cache and prewarms the reference symbol for every
// configured interval and period. Failures are logged, never returned.
func (m *Manager) Initialize(ctx context.Context) {
	m.cache.clear()
	if m.opts.ReferenceSymbol == "" {
		return
	}
	start := time.Now()
	warmed := 0
	for _, iv := range m.opts.Intervals {
		for _, p := range m.opts.Periods {
			if ctx.Err() != nil {
				return
			}
			s, err := m.GetSeries(ctx, m.opts.ReferenceSymbol, iv, p)
			if err != nil {
				m.log.Warn("prewarm failed",
					zap.String("symbol", m.opts.ReferenceSymbol), zap.Stringer("interval", iv),
					zap.Stringer("period", p), zap.String("kind", model.ErrorKind(err)), zap.Error(err))
				continue
			}
			warmed++
			m.log.Debug("prewarmed", zap.Stringer("interval", iv), zap.Stringer("period", p), zap.Int("bars", s.Len()))
		}
	}
	m.log.Info("hot cache prewarmed",
		zap.String("symbol", m.opts.ReferenceSymbol), zap.Int("series", warmed), zap.Duration("elapsed", time.Since(start)))
}

// GetSeries returns the series for (symbol, interval, period) using a
// short-lived store session. Long-running callers should hold a Worker.
func (m *Manager) GetSeries(ctx context.Context, symbol string, iv model.Interval, p model.Period) (*model.Series, error) {
	return m.getSeries(ctx, nil, symbol, iv, p)
}

// Worker is a per-goroutine handle holding one store session.
type Worker struct {
	m    *Manager
	sess *store.Session
}

// NewWorker acquires a store session for the caller's exclusive use.
func (m *Manager) NewWorker(ctx context.Context) (*Worker, error) {
	if m.isClosed() {
		return nil, fmt.Errorf("new worker: %w", model.ErrClosed)
	}
	sess, err := m.store.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("new worker: %w", err)
	}
	return &Worker{m: m, sess: sess}, nil
}

// GetSeries is Manager.GetSeries on the worker's own session.
func (w *Worker) GetSeries(ctx context.Context, symbol string, iv model.Interval, p model.Period) (*model.Series, error) {
	return w.m.getSeries(ctx, w.sess, symbol, iv, p)
}

// Close releases the worker's session. Safe to call more than once.
func (w *Worker) Close() error {
	return w.sess.Close()
}

func (m *Manager) getSeries(ctx context.Context, sess *store.Session, symbol string, iv model.Interval, p model.Period) (*model.Series, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	defer m.wg.Done()
	ctx, cancel := m.bind(ctx)
	defer cancel()

	req, err := model.NewSeriesRequest(symbol, iv, p, m.opts.Now())
	if err != nil {
		return nil, fmt.Errorf("get series %s %s/%s: %w", symbol, iv, p, err)
	}

	isRef := symbol == m.opts.ReferenceSymbol
	key := cacheKey{Interval: iv, Period: p}
	if isRef {
		if s, ok := m.cache.get(key, req.EndMs); ok {
			return s, nil
		}
	}

	if sess == nil {
		sess, err = m.store.Session(ctx)
		if err != nil {
			return nil, fmt.Errorf("get series %s: %w", req, err)
		}
		defer sess.Close()
	}

	release, err := m.locks.acquire(ctx, req.Symbol+"|"+string(iv))
	if err != nil {
		return nil, fmt.Errorf("get series %s: wait for download: %w", req, err)
	}
	defer release()

	candles, err := m.load(ctx, sess, req)
	if err != nil {
		return nil, fmt.Errorf("get series %s: %w", req, err)
	}

	s := &model.Series{Symbol: symbol, Interval: iv, Period: p, Candles: candles}
	if isRef {
		m.cache.put(key, req.EndMs, s)
	}
	return s, nil
}

// load reads the window and fills whatever is missing. Caller holds the
// download lock for the key.
func (m *Manager) load(ctx context.Context, sess *store.Session, req model.SeriesRequest) ([]model.Candle, error) {
	candles, err := sess.Read(ctx, req.Symbol, req.Interval, req.StartMs, req.EndMs)
	if err != nil {
		return nil, err
	}
	cov := model.AssessCoverage(candles, req, m.opts.CoverageRatio, m.opts.GapTolerance)
	if cov.Sufficient {
		return candles, nil
	}

	gaps := model.MissingRanges(candles, req)
	if len(gaps) > maxGapFetches {
		gaps = []model.Gap{{FromMs: gaps[0].FromMs, UntilMs: gaps[len(gaps)-1].UntilMs}}
	}
	m.log.Debug("stored window incomplete",
		zap.Stringer("request", req), zap.Int("have", cov.Count), zap.Int("want", req.TargetBars),
		zap.Int64("max_gap_ms", cov.MaxGapMs), zap.Int("fetches", len(gaps)))

	written := 0
	for _, g := range gaps {
		m.fetches.Add(1)
		bars, err := m.fetcher.FetchRange(ctx, req.Symbol, req.Interval, g.FromMs, g.UntilMs)
		if err != nil {
			return nil, err
		}
		n, err := sess.Upsert(ctx, req.Symbol, req.Interval, bars)
		if err != nil {
			return nil, err
		}
		written += n
	}

	candles, err = sess.Read(ctx, req.Symbol, req.Interval, req.StartMs, req.EndMs)
	if err != nil {
		return nil, err
	}
	after := model.AssessCoverage(candles, req, m.opts.CoverageRatio, m.opts.GapTolerance)
	m.log.Debug("window filled",
		zap.Stringer("request", req), zap.Int("written", written),
		zap.Int("bars", after.Count), zap.Bool("sufficient", after.Sufficient))
	return candles, nil
}

// Stats describes the hot cache and the store contents.
type Stats struct {
	CacheHits     uint64
	CacheMisses   uint64
	HitRate       float64
	CachedKeys    []string
	CacheCapacity int
	Fetches       uint64
	ActiveLocks   int
	Store         []store.Stats
}

// Stats returns a snapshot of cache counters and per-pair store stats.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	cs := m.cache.stats()
	st := Stats{
		CacheHits:     cs.hits,
		CacheMisses:   cs.misses,
		CachedKeys:    cs.keys,
		CacheCapacity: m.cache.capacity,
		Fetches:       m.fetches.Load(),
		ActiveLocks:   m.locks.active(),
	}
	if total := cs.hits + cs.misses; total > 0 {
		st.HitRate = float64(cs.hits) / float64(total)
	}
	stored, err := m.store.AllStats(ctx)
	if err != nil {
		return st, fmt.Errorf("manager stats: %w", err)
	}
	st.Store = stored
	return st, nil
}

// Shutdown rejects new calls, cancels in-flight ones, waits for them to drop
// their locks and closes the store. Safe to call more than once.
func (m *Manager) Shutdown() error {
	var err error
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		m.cancel()
		m.wg.Wait()
		err = m.store.Close()
		m.log.Info("manager shut down")
	})
	return err
}

func (m *Manager) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("get series: %w", model.ErrClosed)
	}
	m.wg.Add(1)
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// bind derives a context that is also cancelled by Shutdown.
func (m *Manager) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
