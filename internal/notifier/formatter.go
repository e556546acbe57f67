package notifier

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"LagSentinel/internal/manager"
	"LagSentinel/internal/model"
)

// FormatAnomaly renders a flagged classification as a plain-text report,
// correlations sorted from strongest to weakest.
func FormatAnomaly(source string, c model.Classification) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s\n\n%s lag-correlation anomaly | %s\n", source, c.Symbol, c.EvaluatedAt.UTC().Format("2006-01-02 15:04")))

	rows := make([]model.PeriodCorrelation, 0, len(c.Correlations))
	for _, pc := range c.Correlations {
		if pc.Defined {
			rows = append(rows, pc)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Correlation > rows[j].Correlation })

	b.WriteString(fmt.Sprintf("%-8s %-8s %-6s %8s %8s\n", "interval", "period", "lag", "corr", "samples"))
	for _, pc := range rows {
		b.WriteString(fmt.Sprintf("%-8s %-8s %-6d %8.4f %8s\n",
			pc.Interval, pc.Period, pc.BestLag, pc.Correlation, humanize.Comma(int64(pc.Samples))))
	}
	b.WriteString(fmt.Sprintf("\nmagnitude: %.2f", c.Magnitude))
	if c.BestLag > 0 {
		b.WriteString(fmt.Sprintf(" | short-term lag: %d bars", c.BestLag))
	}
	return b.String()
}

// FormatRunSummary renders the counts of one scan.
func FormatRunSummary(s model.RunSummary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("scan %s | %s\n", shortID(s.RunID), s.Started.UTC().Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("symbols: %d | classified: %d | skipped: %d | failed: %d\n",
		s.Total, s.Classified, s.Skipped, s.Failed))
	b.WriteString(fmt.Sprintf("anomalies: %d | elapsed: %s", s.Anomalies, s.Elapsed.Round(time.Second)))
	return b.String()
}

// FormatStats renders hot-cache counters and per-pair store contents.
func FormatStats(st manager.Stats) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("hot cache: %d/%d keys | hits: %s | misses: %s | hit rate: %.1f%%\n",
		len(st.CachedKeys), st.CacheCapacity, humanize.Comma(int64(st.CacheHits)),
		humanize.Comma(int64(st.CacheMisses)), st.HitRate*100))
	b.WriteString(fmt.Sprintf("remote fetches: %s\n", humanize.Comma(int64(st.Fetches))))

	var rows int64
	for _, s := range st.Store {
		rows += s.Count
	}
	b.WriteString(fmt.Sprintf("store: %d series, %s rows\n", len(st.Store), humanize.Comma(rows)))
	for _, s := range st.Store {
		line := fmt.Sprintf("  %-10s %-4s %10s", s.Symbol, s.Interval, humanize.Comma(s.Count))
		if s.Earliest.Valid && s.Latest.Valid {
			line += fmt.Sprintf("  %s .. %s",
				time.UnixMilli(s.Earliest.Int64).UTC().Format("2006-01-02 15:04"),
				time.UnixMilli(s.Latest.Int64).UTC().Format("2006-01-02 15:04"))
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
