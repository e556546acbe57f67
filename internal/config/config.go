package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"LagSentinel/internal/model"
)

// Run modes.
const (
	ModeOnce   = "once"
	ModeLoop   = "loop"
	ModeReport = "report"
)

// Config holds all application configuration. It is read once at startup and
// never mutated afterwards.
type Config struct {
	Exchange struct {
		BaseURL        string        `yaml:"base_url"`
		Proxy          string        `yaml:"proxy"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		RateLimit      time.Duration `yaml:"rate_limit"`
		PageSize       int           `yaml:"page_size"`
		MaxPages       int           `yaml:"max_pages"`
		Retry          struct {
			MaxAttempts int           `yaml:"max_attempts"`
			MinBackoff  time.Duration `yaml:"min_backoff"`
			MaxBackoff  time.Duration `yaml:"max_backoff"`
			Factor      float64       `yaml:"factor"`
		} `yaml:"retry"`
	} `yaml:"exchange"`
	Database struct {
		SQLitePath  string `yaml:"sqlite_path"`
		RecordsPath string `yaml:"records_path"`
		MaxConns    int    `yaml:"max_conns"`
	} `yaml:"database"`
	Cache struct {
		ReferenceSymbol string  `yaml:"reference_symbol"`
		HotCacheSize    int     `yaml:"hot_cache_size"`
		CoverageRatio   float64 `yaml:"coverage_ratio"`
		GapTolerance    int     `yaml:"gap_tolerance"`
	} `yaml:"cache"`
	Detector struct {
		Intervals        []string `yaml:"intervals"`
		Periods          []string `yaml:"periods"`
		ShortPeriods     []string `yaml:"short_periods"`
		LongPeriods      []string `yaml:"long_periods"`
		MaxLag           int      `yaml:"max_lag"`
		MinOverlap       int      `yaml:"min_overlap"`
		MinPeriodSamples int      `yaml:"min_period_samples"`
		MinTotalSamples  int      `yaml:"min_total_samples"`
		LongThreshold    float64  `yaml:"long_threshold"`
		ShortThreshold   float64  `yaml:"short_threshold"`
		DiffThreshold    float64  `yaml:"diff_threshold"`
		Workers          int      `yaml:"workers"`
	} `yaml:"detector"`
	Schedule struct {
		Mode       string `yaml:"mode"`
		ScanCron   string `yaml:"scan_cron"`
		RunOnStart bool   `yaml:"run_on_start"`
	} `yaml:"schedule"`
	Report struct {
		Since time.Duration `yaml:"since"`
		Limit int           `yaml:"limit"`
	} `yaml:"report"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Symbols []string `yaml:"symbols"`
}

// Load reads config from a YAML file, then applies .env and environment
// variable overrides, then fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env is optional; values already in the environment win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	// Environment variable overrides
	if v := os.Getenv("HYPERLIQUID_BASE_URL"); v != "" {
		cfg.Exchange.BaseURL = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Exchange.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("REFERENCE_SYMBOL"); v != "" {
		cfg.Cache.ReferenceSymbol = v
	}
	if v := os.Getenv("SCAN_CRON"); v != "" {
		cfg.Schedule.ScanCron = v
	}
	if v := os.Getenv("RUN_MODE"); v != "" {
		cfg.Schedule.Mode = v
	}
	if v := os.Getenv("RUN_ON_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Schedule.RunOnStart = b
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detector.Workers = n
		}
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		cfg.Symbols = splitList(v)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Exchange.BaseURL == "" {
		cfg.Exchange.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.Exchange.RequestTimeout == 0 {
		cfg.Exchange.RequestTimeout = 30 * time.Second
	}
	if cfg.Exchange.RateLimit == 0 {
		cfg.Exchange.RateLimit = 500 * time.Millisecond
	}
	if cfg.Exchange.PageSize == 0 {
		cfg.Exchange.PageSize = 1500
	}
	if cfg.Exchange.MaxPages == 0 {
		cfg.Exchange.MaxPages = 500
	}
	if cfg.Exchange.Retry.MaxAttempts == 0 {
		cfg.Exchange.Retry.MaxAttempts = 10
	}
	if cfg.Exchange.Retry.MinBackoff == 0 {
		cfg.Exchange.Retry.MinBackoff = 5 * time.Second
	}
	if cfg.Exchange.Retry.MaxBackoff == 0 {
		cfg.Exchange.Retry.MaxBackoff = 5 * time.Minute
	}
	if cfg.Exchange.Retry.Factor == 0 {
		cfg.Exchange.Retry.Factor = 2
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/hyperliquid_data.db"
	}
	if cfg.Database.RecordsPath == "" {
		cfg.Database.RecordsPath = cfg.Database.SQLitePath
	}
	if cfg.Cache.ReferenceSymbol == "" {
		cfg.Cache.ReferenceSymbol = "BTC"
	}
	if cfg.Cache.HotCacheSize == 0 {
		cfg.Cache.HotCacheSize = 100
	}
	if cfg.Cache.CoverageRatio == 0 {
		cfg.Cache.CoverageRatio = 0.95
	}
	if cfg.Cache.GapTolerance == 0 {
		cfg.Cache.GapTolerance = 3
	}
	if len(cfg.Detector.Intervals) == 0 {
		cfg.Detector.Intervals = []string{"1m", "5m"}
	}
	if len(cfg.Detector.Periods) == 0 {
		cfg.Detector.Periods = []string{"1d", "7d", "30d", "60d"}
	}
	if len(cfg.Detector.ShortPeriods) == 0 {
		cfg.Detector.ShortPeriods = []string{"1d"}
	}
	if len(cfg.Detector.LongPeriods) == 0 {
		cfg.Detector.LongPeriods = []string{"7d", "30d", "60d"}
	}
	if cfg.Detector.MaxLag == 0 {
		cfg.Detector.MaxLag = 48
	}
	if cfg.Detector.MinOverlap == 0 {
		cfg.Detector.MinOverlap = 10
	}
	if cfg.Detector.MinPeriodSamples == 0 {
		cfg.Detector.MinPeriodSamples = 30
	}
	if cfg.Detector.MinTotalSamples == 0 {
		cfg.Detector.MinTotalSamples = 100
	}
	if cfg.Detector.LongThreshold == 0 {
		cfg.Detector.LongThreshold = 0.6
	}
	if cfg.Detector.ShortThreshold == 0 {
		cfg.Detector.ShortThreshold = 0.3
	}
	if cfg.Detector.DiffThreshold == 0 {
		cfg.Detector.DiffThreshold = 0.5
	}
	if cfg.Detector.Workers == 0 {
		cfg.Detector.Workers = 4
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = cfg.Detector.Workers + 2
	}
	if cfg.Schedule.Mode == "" {
		cfg.Schedule.Mode = ModeOnce
	}
	if cfg.Schedule.ScanCron == "" {
		cfg.Schedule.ScanCron = "0 0 * * * *"
	}
	if cfg.Report.Since == 0 {
		cfg.Report.Since = 24 * time.Hour
	}
	if cfg.Report.Limit == 0 {
		cfg.Report.Limit = 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate checks that all fields hold usable values.
func (c *Config) Validate() error {
	for _, s := range c.Detector.Intervals {
		if _, err := model.ParseInterval(s); err != nil {
			return fmt.Errorf("detector.intervals: %w", err)
		}
	}
	periods := map[string]bool{}
	for _, s := range c.Detector.Periods {
		if _, err := model.ParsePeriod(s); err != nil {
			return fmt.Errorf("detector.periods: %w", err)
		}
		periods[s] = true
	}
	for _, s := range append(append([]string{}, c.Detector.ShortPeriods...), c.Detector.LongPeriods...) {
		if !periods[s] {
			return fmt.Errorf("period %q is classified short/long but not listed in detector.periods", s)
		}
	}
	if c.Exchange.PageSize <= 0 || c.Exchange.PageSize > 5000 {
		return fmt.Errorf("exchange.page_size must be in (0, 5000]")
	}
	if c.Exchange.MaxPages <= 0 {
		return fmt.Errorf("exchange.max_pages must be positive")
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("exchange.retry.max_attempts must be positive")
	}
	if c.Cache.CoverageRatio <= 0 || c.Cache.CoverageRatio > 1 {
		return fmt.Errorf("cache.coverage_ratio must be in (0, 1]")
	}
	if c.Cache.HotCacheSize <= 0 {
		return fmt.Errorf("cache.hot_cache_size must be positive")
	}
	if c.Detector.Workers <= 0 {
		return fmt.Errorf("detector.workers must be positive")
	}
	if c.Detector.MinOverlap < 2 {
		return fmt.Errorf("detector.min_overlap must be at least 2")
	}
	if c.Database.MaxConns < c.Detector.Workers+1 {
		return fmt.Errorf("database.max_conns must exceed detector.workers")
	}
	switch c.Schedule.Mode {
	case ModeOnce, ModeLoop, ModeReport:
	default:
		return fmt.Errorf("schedule.mode must be %q, %q or %q", ModeOnce, ModeLoop, ModeReport)
	}
	if c.Schedule.Mode == ModeReport && c.Report.Limit <= 0 {
		return fmt.Errorf("report.limit must be positive")
	}
	return nil
}

// Intervals returns the parsed detector intervals. Call after Validate.
func (c *Config) Intervals() []model.Interval {
	out := make([]model.Interval, len(c.Detector.Intervals))
	for i, s := range c.Detector.Intervals {
		out[i] = model.Interval(s)
	}
	return out
}

// Periods returns the parsed detector periods. Call after Validate.
func (c *Config) Periods() []model.Period {
	return toPeriods(c.Detector.Periods)
}

// ShortPeriods returns the periods treated as short-term.
func (c *Config) ShortPeriods() []model.Period {
	return toPeriods(c.Detector.ShortPeriods)
}

// LongPeriods returns the periods treated as long-term.
func (c *Config) LongPeriods() []model.Period {
	return toPeriods(c.Detector.LongPeriods)
}

func toPeriods(in []string) []model.Period {
	out := make([]model.Period, len(in))
	for i, s := range in {
		out[i] = model.Period(s)
	}
	return out
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
