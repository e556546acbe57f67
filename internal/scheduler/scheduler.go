package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"LagSentinel/internal/logger"
	"LagSentinel/internal/model"
)

// Scanner runs one detector pass over a symbol list.
type Scanner interface {
	Run(ctx context.Context, symbols []string) (model.RunSummary, error)
}

// SymbolLister returns the tradable universe.
type SymbolLister interface {
	ListSymbols(ctx context.Context) ([]string, error)
}

// Scheduler runs scans on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	Cron    *cron.Cron
	scanner Scanner
	lister  SymbolLister
	symbols []string
	ctx     context.Context
	log     *zap.Logger

	mu   sync.Mutex
	runs int
	// bg tracks scans started by Trigger.
	bg sync.WaitGroup
}

// NewScheduler creates a new Scheduler. A non-empty symbols list is scanned
// as is; otherwise the universe is fetched from lister before every scan.
func NewScheduler(ctx context.Context, scanner Scanner, lister SymbolLister, symbols []string, log *zap.Logger) *Scheduler {
	log = log.Named("scheduler")
	cl := logger.NewCronLogger(log)
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		scanner: scanner,
		lister:  lister,
		symbols: symbols,
		ctx:     ctx,
		log:     log,
	}
}

// Register adds the scan task under spec (six fields, seconds first).
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, s.scanTask); err != nil {
		return fmt.Errorf("register scan task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info("scheduler started", zap.Int("entries", len(s.Cron.Entries())))
}

// Stop stops the scheduler and waits for running scans, cron-started or
// triggered, to return.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.bg.Wait()
	s.log.Info("scheduler stopped")
}

// Trigger starts one scan in the background, outside the cron schedule.
func (s *Scheduler) Trigger() {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.scanTask()
	}()
}

// Runs returns how many scans have completed.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// RunNow resolves the symbol list and runs one scan. Calls are serialised.
func (s *Scheduler) RunNow(ctx context.Context) (model.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbols, err := s.resolveSymbols(ctx)
	if err != nil {
		return model.RunSummary{}, err
	}
	sum, err := s.scanner.Run(ctx, symbols)
	s.runs++
	return sum, err
}

func (s *Scheduler) scanTask() {
	s.log.Info("running scheduled scan")
	sum, err := s.RunNow(s.ctx)
	if err != nil {
		s.log.Error("scheduled scan failed", zap.String("kind", model.ErrorKind(err)), zap.Error(err))
		return
	}
	s.log.Info("scheduled scan done", zap.String("run_id", sum.RunID), zap.Int("anomalies", sum.Anomalies))
}

func (s *Scheduler) resolveSymbols(ctx context.Context) ([]string, error) {
	if len(s.symbols) > 0 {
		return s.symbols, nil
	}
	if s.lister == nil {
		return nil, fmt.Errorf("resolve symbols: no symbols configured and no lister")
	}
	symbols, err := s.lister.ListSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve symbols: %w", err)
	}
	s.log.Debug("universe resolved", zap.Int("symbols", len(symbols)))
	return symbols, nil
}
