package model

import (
	"fmt"
	"strconv"
	"time"
)

// Interval is a candle sampling width such as "1m" or "5m".
type Interval string

var intervalDurations = map[Interval]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// ParseInterval validates an interval label.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("unsupported interval %q", s)
	}
	return iv, nil
}

// Duration returns the bar width, or 0 for an unknown label.
func (iv Interval) Duration() time.Duration {
	return intervalDurations[iv]
}

// Millis returns the bar width in milliseconds.
func (iv Interval) Millis() int64 {
	return iv.Duration().Milliseconds()
}

func (iv Interval) String() string { return string(iv) }

// Period is a lookback label: "<n>d", "<n>w" or "<n>M" (30-day months).
type Period string

// ParsePeriod validates a period label.
func ParsePeriod(s string) (Period, error) {
	p := Period(s)
	if _, err := p.Duration(); err != nil {
		return "", err
	}
	return p, nil
}

// Duration converts the label to a lookback duration.
func (p Period) Duration() (time.Duration, error) {
	s := string(p)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid period %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid period %q: count must be a positive integer", s)
	}
	day := 24 * time.Hour
	switch s[len(s)-1] {
	case 'd':
		return time.Duration(n) * day, nil
	case 'w':
		return time.Duration(n) * 7 * day, nil
	case 'M':
		return time.Duration(n) * 30 * day, nil
	default:
		return 0, fmt.Errorf("invalid period %q: unit must be d, w or M", s)
	}
}

func (p Period) String() string { return string(p) }

// TargetBars returns how many bars of iv fit in p.
func TargetBars(p Period, iv Interval) (int, error) {
	pd, err := p.Duration()
	if err != nil {
		return 0, err
	}
	id := iv.Duration()
	if id <= 0 {
		return 0, fmt.Errorf("unsupported interval %q", iv)
	}
	bars := int(pd / id)
	if bars < 1 {
		return 0, fmt.Errorf("period %s shorter than interval %s", p, iv)
	}
	return bars, nil
}
