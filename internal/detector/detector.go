// Package detector correlates every symbol's returns with the reference
// symbol at a range of lags and flags short-term decoupling.
package detector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"LagSentinel/internal/calculator"
	"LagSentinel/internal/model"
)

// SeriesReader is one worker's view of the data pipeline.
type SeriesReader interface {
	GetSeries(ctx context.Context, symbol string, iv model.Interval, p model.Period) (*model.Series, error)
	Close() error
}

// Source hands out a SeriesReader per worker.
type Source interface {
	NewReader(ctx context.Context) (SeriesReader, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (SeriesReader, error)

func (f SourceFunc) NewReader(ctx context.Context) (SeriesReader, error) { return f(ctx) }

// Sink receives every classification and the summary of each run.
type Sink interface {
	Emit(ctx context.Context, c model.Classification) error
	RecordRun(ctx context.Context, s model.RunSummary) error
}

// Config holds detector parameters.
type Config struct {
	ReferenceSymbol  string
	Intervals        []model.Interval
	Periods          []model.Period
	MaxLag           int
	MinOverlap       int
	MinPeriodSamples int
	MinTotalSamples  int
	Workers          int
	Rule             Rule
}

// Detector evaluates symbols against the reference.
type Detector struct {
	cfg    Config
	source Source
	sinks  []Sink
	log    *zap.Logger
	now    func() time.Time
}

// New creates a Detector.
func New(cfg Config, source Source, sinks []Sink, log *zap.Logger) *Detector {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Detector{cfg: cfg, source: source, sinks: sinks, log: log.Named("detector"), now: time.Now}
}

// Evaluate runs the full pipeline for one symbol on r and returns its
// terminal classification.
func (d *Detector) Evaluate(ctx context.Context, r SeriesReader, runID, symbol string) (c model.Classification) {
	c = model.Classification{RunID: runID, Symbol: symbol}
	defer func() { c.EvaluatedAt = d.now() }()

	total := 0
	for _, iv := range d.cfg.Intervals {
		for _, p := range d.cfg.Periods {
			ref, err := r.GetSeries(ctx, d.cfg.ReferenceSymbol, iv, p)
			if err != nil {
				return failed(c, fmt.Errorf("reference %s %s/%s: %w", d.cfg.ReferenceSymbol, iv, p, err))
			}
			cand, err := r.GetSeries(ctx, symbol, iv, p)
			if err != nil {
				return failed(c, fmt.Errorf("%s %s/%s: %w", symbol, iv, p, err))
			}

			pcorr := d.correlate(ref, cand, iv, p)
			total += pcorr.Samples
			c.Correlations = append(c.Correlations, pcorr)
		}
	}

	if total < d.cfg.MinTotalSamples {
		c.Status = model.StatusSkipped
		c.Reason = fmt.Sprintf("%d aligned samples, need %d", total, d.cfg.MinTotalSamples)
		return c
	}

	v := d.cfg.Rule.Classify(c.Correlations)
	if !v.Decidable {
		c.Status = model.StatusSkipped
		c.Reason = "no defined short-term or long-term correlation"
		return c
	}
	c.Status = model.StatusClassified
	c.Anomaly = v.Anomaly
	c.Magnitude = v.Magnitude
	c.BestLag = v.ShortLag
	return c
}

// correlate aligns one (interval, period) pair and scans lags. Pairs with too
// few aligned samples come back undefined.
func (d *Detector) correlate(ref, cand *model.Series, iv model.Interval, p model.Period) model.PeriodCorrelation {
	ts, refCloses, candCloses := calculator.Align(ref.Candles, cand.Candles)
	pc := model.PeriodCorrelation{Interval: iv, Period: p, Samples: len(ts)}
	if len(ts) < d.cfg.MinPeriodSamples {
		return pc
	}
	res := calculator.BestLag(
		calculator.CalculateReturns(refCloses),
		calculator.CalculateReturns(candCloses),
		d.cfg.MaxLag, d.cfg.MinOverlap)
	pc.Defined = res.Defined
	pc.Correlation = res.Correlation
	pc.BestLag = res.Lag
	return pc
}

func failed(c model.Classification, err error) model.Classification {
	c.Status = model.StatusFailed
	c.Err = err
	c.ErrKind = model.ErrorKind(err)
	c.Correlations = nil
	return c
}

// Run evaluates symbols on a pool of workers. Each worker holds one reader
// for its lifetime. Every dispatched symbol is reported exactly once to the
// sinks; after cancellation no further symbols are dispatched and ctx.Err()
// is returned alongside the partial summary.
func (d *Detector) Run(ctx context.Context, symbols []string) (model.RunSummary, error) {
	sum := model.RunSummary{RunID: uuid.NewString(), Started: d.now()}
	targets := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s != d.cfg.ReferenceSymbol {
			targets = append(targets, s)
		}
	}
	sum.Total = len(targets)
	log := d.log.With(zap.String("run_id", sum.RunID))
	log.Info("scan started", zap.Int("symbols", sum.Total), zap.Int("workers", d.cfg.Workers))

	progress := newProgress(sum.Total)
	var mu sync.Mutex
	record := func(c model.Classification) {
		d.emit(ctx, log, c)
		mu.Lock()
		defer mu.Unlock()
		switch c.Status {
		case model.StatusClassified:
			sum.Classified++
			if c.Anomaly {
				sum.Anomalies++
			}
		case model.StatusSkipped:
			sum.Skipped++
		case model.StatusFailed:
			sum.Failed++
		}
		if pct, ok := progress.step(); ok {
			log.Info("scan progress", zap.Int("percent", pct),
				zap.Int("done", progress.done), zap.Int("total", sum.Total))
		}
	}

	jobs := make(chan string)
	var g errgroup.Group
	g.Go(func() error {
		defer close(jobs)
		for _, s := range targets {
			select {
			case jobs <- s:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.work(ctx, log, sum.RunID, jobs, record)
			return nil
		})
	}
	_ = g.Wait()

	sum.Elapsed = d.now().Sub(sum.Started)
	for _, s := range d.sinks {
		if err := s.RecordRun(context.WithoutCancel(ctx), sum); err != nil {
			log.Warn("sink failed to record run", zap.Error(err))
		}
	}
	log.Info("scan finished",
		zap.Int("classified", sum.Classified), zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed), zap.Int("anomalies", sum.Anomalies),
		zap.Duration("elapsed", sum.Elapsed))
	return sum, ctx.Err()
}

// work drains jobs. If no reader can be acquired every symbol it receives is
// reported as failed.
func (d *Detector) work(ctx context.Context, log *zap.Logger, runID string, jobs <-chan string, record func(model.Classification)) {
	r, err := d.source.NewReader(ctx)
	if err != nil {
		log.Error("worker could not acquire a reader", zap.Error(err))
		for s := range jobs {
			record(failed(model.Classification{RunID: runID, Symbol: s, EvaluatedAt: d.now()},
				fmt.Errorf("acquire reader: %w", err)))
		}
		return
	}
	defer r.Close()
	for s := range jobs {
		record(d.Evaluate(ctx, r, runID, s))
	}
}

func (d *Detector) emit(ctx context.Context, log *zap.Logger, c model.Classification) {
	switch c.Status {
	case model.StatusFailed:
		log.Warn("symbol failed", zap.String("symbol", c.Symbol), zap.String("kind", c.ErrKind), zap.Error(c.Err))
	case model.StatusSkipped:
		log.Debug("symbol skipped", zap.String("symbol", c.Symbol), zap.String("reason", c.Reason))
	default:
		log.Debug("symbol classified", zap.String("symbol", c.Symbol),
			zap.Bool("anomaly", c.Anomaly), zap.Float64("magnitude", c.Magnitude))
	}
	for _, s := range d.sinks {
		if err := s.Emit(context.WithoutCancel(ctx), c); err != nil {
			log.Warn("sink failed", zap.String("symbol", c.Symbol), zap.Error(err))
		}
	}
}

// progress reports 25% milestones.
type progress struct {
	total, done, next int
}

func newProgress(total int) *progress { return &progress{total: total, next: 25} }

// step counts one finished symbol and reports the milestone it crossed, if any.
func (p *progress) step() (int, bool) {
	p.done++
	if p.total == 0 {
		return 0, false
	}
	pct := p.done * 100 / p.total
	if pct < p.next {
		return 0, false
	}
	hit := pct / 25 * 25
	p.next = hit + 25
	return hit, true
}
