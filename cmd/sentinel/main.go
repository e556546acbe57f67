package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"LagSentinel/internal/collector"
	"LagSentinel/internal/config"
	"LagSentinel/internal/detector"
	"LagSentinel/internal/logger"
	"LagSentinel/internal/manager"
	"LagSentinel/internal/notifier"
	"LagSentinel/internal/recorder"
	"LagSentinel/internal/scheduler"
	"LagSentinel/internal/store"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("LagSentinel exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("LagSentinel starting", zap.String("mode", cfg.Schedule.Mode))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The store is the only hard dependency at startup.
	st, err := store.Open(cfg.Database.SQLitePath, cfg.Database.MaxConns, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	// Remote source and collector
	source := collector.NewHyperliquidSource(cfg.Exchange.BaseURL, cfg.Exchange.Proxy, cfg.Exchange.PageSize)
	retry := collector.NewRetryPolicy(cfg.Exchange.Retry.MaxAttempts,
		cfg.Exchange.Retry.MinBackoff, cfg.Exchange.Retry.MaxBackoff, cfg.Exchange.Retry.Factor)
	col := collector.NewCollector(source, collector.Options{
		RateLimit:      cfg.Exchange.RateLimit,
		RequestTimeout: cfg.Exchange.RequestTimeout,
		MaxPages:       cfg.Exchange.MaxPages,
		Retry:          retry,
	}, log)
	log.Info("data source ready", zap.String("source", col.Name()), zap.String("base_url", cfg.Exchange.BaseURL))

	mgr := manager.New(st, col, manager.Options{
		ReferenceSymbol: cfg.Cache.ReferenceSymbol,
		Intervals:       cfg.Intervals(),
		Periods:         cfg.Periods(),
		CacheSize:       cfg.Cache.HotCacheSize,
		CoverageRatio:   cfg.Cache.CoverageRatio,
		GapTolerance:    cfg.Cache.GapTolerance,
	}, log)

	// Sinks
	var rec recorder.Recorder
	if cfg.Database.RecordsPath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.RecordsPath, log)
		if err != nil {
			log.Warn("init sqlite recorder failed, using noop", zap.Error(err))
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}
	// Manager before recorder; "stopped" is logged last.
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			log.Warn("manager shutdown", zap.Error(err))
		}
		if err := rec.Close(); err != nil {
			log.Warn("close recorder", zap.Error(err))
		}
		log.Info("LagSentinel stopped")
	}()
	if cfg.Schedule.Mode == config.ModeReport {
		return report(ctx, rec, col.Name(), cfg, log)
	}
	sinks := []detector.Sink{rec, notifier.NewAnomalySink(col.Name(), notifier.NewLogNotifier(log))}

	det := detector.New(detector.Config{
		ReferenceSymbol:  cfg.Cache.ReferenceSymbol,
		Intervals:        cfg.Intervals(),
		Periods:          cfg.Periods(),
		MaxLag:           cfg.Detector.MaxLag,
		MinOverlap:       cfg.Detector.MinOverlap,
		MinPeriodSamples: cfg.Detector.MinPeriodSamples,
		MinTotalSamples:  cfg.Detector.MinTotalSamples,
		Workers:          cfg.Detector.Workers,
		Rule: detector.Rule{
			ShortPeriods:   cfg.ShortPeriods(),
			LongPeriods:    cfg.LongPeriods(),
			LongThreshold:  cfg.Detector.LongThreshold,
			ShortThreshold: cfg.Detector.ShortThreshold,
			DiffThreshold:  cfg.Detector.DiffThreshold,
		},
	}, detector.SourceFunc(func(ctx context.Context) (detector.SeriesReader, error) {
		w, err := mgr.NewWorker(ctx)
		if err != nil {
			return nil, err
		}
		return w, nil
	}), sinks, log)

	mgr.Initialize(ctx)

	sched := scheduler.NewScheduler(ctx, det, col, cfg.Symbols, log)

	if cfg.Schedule.Mode == config.ModeOnce {
		_, err := sched.RunNow(ctx)
		logStats(ctx, mgr, log)
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("scan: %w", err)
		}
		return nil
	}

	if err := sched.Register(cfg.Schedule.ScanCron); err != nil {
		return err
	}
	sched.Start()

	if cfg.Schedule.RunOnStart {
		log.Info("RUN_ON_START enabled, executing scan now")
		sched.Trigger()
	}

	log.Info("LagSentinel is running. Press Ctrl+C to stop.", zap.String("cron", cfg.Schedule.ScanCron))
	<-ctx.Done()

	log.Info("shutdown signal received, stopping...")
	sched.Stop()
	logStats(context.Background(), mgr, log)
	return nil
}

func logStats(ctx context.Context, mgr *manager.Manager, log *zap.Logger) {
	st, err := mgr.Stats(context.WithoutCancel(ctx))
	if err != nil {
		log.Warn("collect stats", zap.Error(err))
		return
	}
	log.Info("pipeline stats", zap.String("report", notifier.FormatStats(st)))
}

// report logs the stored scan history without touching the remote API.
func report(ctx context.Context, rec recorder.Recorder, source string, cfg *config.Config, log *zap.Logger) error {
	h, ok := rec.(recorder.History)
	if !ok {
		return fmt.Errorf("report mode needs the sqlite recorder")
	}
	text, err := notifier.Report(ctx, h, source, time.Now().Add(-cfg.Report.Since), cfg.Report.Limit)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return notifier.NewLogNotifier(log).Send(ctx, text)
}
