package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"LagSentinel/internal/model"
)

// HyperliquidSource implements PageSource using the Hyperliquid info API.
type HyperliquidSource struct {
	BaseURL  string
	PageSize int
	Client   *http.Client
}

// NewHyperliquidSource creates a source with optional proxy support. Request
// deadlines come from the caller's context.
func NewHyperliquidSource(baseURL, proxyURL string, pageSize int) *HyperliquidSource {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &HyperliquidSource{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		PageSize: pageSize,
		Client:   &http.Client{Transport: transport},
	}
}

func (h *HyperliquidSource) Name() string { return "hyperliquid" }

type candleSnapshotRequest struct {
	Type string `json:"type"`
	Req  struct {
		Coin      string `json:"coin"`
		Interval  string `json:"interval"`
		StartTime int64  `json:"startTime"`
		EndTime   int64  `json:"endTime"`
	} `json:"req"`
}

// hlCandle is the wire shape of one candleSnapshot element. Prices and
// volume arrive as decimal strings.
type hlCandle struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Trades    int64  `json:"n"`
}

type metaResponse struct {
	Universe []struct {
		Name       string `json:"name"`
		IsDelisted bool   `json:"isDelisted"`
	} `json:"universe"`
}

// FetchPage requests the window of PageSize bars starting at sinceMs.
// Windows before a coin's listing, or older than the history the API keeps,
// come back empty.
func (h *HyperliquidSource) FetchPage(ctx context.Context, symbol string, iv model.Interval, sinceMs int64) (Page, error) {
	var req candleSnapshotRequest
	req.Type = "candleSnapshot"
	req.Req.Coin = symbol
	req.Req.Interval = string(iv)
	req.Req.StartTime = sinceMs
	req.Req.EndTime = sinceMs + int64(h.PageSize)*iv.Millis() - 1

	var raw []hlCandle
	if err := h.post(ctx, req, &raw); err != nil {
		return Page{}, fmt.Errorf("candle snapshot %s %s: %w", symbol, iv, err)
	}

	candles := make([]model.Candle, 0, len(raw))
	for _, rc := range raw {
		c, err := rc.toCandle()
		if err != nil {
			return Page{}, fmt.Errorf("candle snapshot %s %s: %w: %v", symbol, iv, model.ErrDataIntegrity, err)
		}
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })
	return Page{Candles: candles, Windowed: true, WindowEnd: req.Req.EndTime}, nil
}

// ListSymbols returns every listed perpetual that is not delisted.
func (h *HyperliquidSource) ListSymbols(ctx context.Context) ([]string, error) {
	var meta metaResponse
	if err := h.post(ctx, map[string]string{"type": "meta"}, &meta); err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}
	symbols := make([]string, 0, len(meta.Universe))
	for _, u := range meta.Universe {
		if u.IsDelisted || u.Name == "" {
			continue
		}
		symbols = append(symbols, u.Name)
	}
	return symbols, nil
}

func (h *HyperliquidSource) post(ctx context.Context, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/info", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", model.ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", model.ErrTransient, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d, body: %s", model.ErrTransient, resp.StatusCode, truncate(data))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: request rejected: status %d, body: %s", model.ErrDataIntegrity, resp.StatusCode, truncate(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode: %v", model.ErrDataIntegrity, err)
	}
	return nil
}

func (rc hlCandle) toCandle() (model.Candle, error) {
	fields := [5]string{rc.Open, rc.High, rc.Low, rc.Close, rc.Volume}
	var vals [5]float64
	for i, f := range fields {
		d, err := decimal.NewFromString(f)
		if err != nil {
			return model.Candle{}, fmt.Errorf("bar %d: parse %q: %w", rc.OpenTime, f, err)
		}
		vals[i] = d.InexactFloat64()
	}
	return model.Candle{
		Timestamp: rc.OpenTime,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
