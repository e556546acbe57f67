package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"LagSentinel/internal/model"
)

func newInfoServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]interface{})) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/info", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		if !assert.NoError(t, json.Unmarshal(raw, &body)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHyperliquid_FetchPage(t *testing.T) {
	var gotReq map[string]interface{}
	srv := newInfoServer(t, func(w http.ResponseWriter, body map[string]interface{}) {
		gotReq = body
		_, _ = io.WriteString(w, `[
			{"t":120000,"T":179999,"s":"ETH","i":"1m","o":"2001.5","h":"2003","l":"2000.25","c":"2002.75","v":"12.5","n":40},
			{"t":60000,"T":119999,"s":"ETH","i":"1m","o":"2000","h":"2002","l":"1999","c":"2001.5","v":"10","n":31}
		]`)
	})

	src := NewHyperliquidSource(srv.URL+"/", "", 1500)
	pg, err := src.FetchPage(context.Background(), "ETH", "1m", 60000)
	require.NoError(t, err)
	assert.True(t, pg.Windowed)
	assert.Equal(t, int64(60000+1500*60000-1), pg.WindowEnd)
	got := pg.Candles
	require.Len(t, got, 2)
	assert.Equal(t, int64(60000), got[0].Timestamp)
	assert.Equal(t, int64(120000), got[1].Timestamp)
	assert.InDelta(t, 2002.75, got[1].Close, 1e-9)
	assert.InDelta(t, 12.5, got[1].Volume, 1e-9)

	assert.Equal(t, "candleSnapshot", gotReq["type"])
	req := gotReq["req"].(map[string]interface{})
	assert.Equal(t, "ETH", req["coin"])
	assert.Equal(t, "1m", req["interval"])
	assert.EqualValues(t, 60000, req["startTime"])
	assert.EqualValues(t, 60000+1500*60000-1, req["endTime"])
}

func TestHyperliquid_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, model.ErrTransient},
		{http.StatusBadGateway, model.ErrTransient},
		{http.StatusBadRequest, model.ErrDataIntegrity},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := newInfoServer(t, func(w http.ResponseWriter, _ map[string]interface{}) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, "nope")
			})
			_, err := NewHyperliquidSource(srv.URL, "", 100).FetchPage(context.Background(), "ETH", "5m", 0)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestHyperliquid_MalformedBody(t *testing.T) {
	srv := newInfoServer(t, func(w http.ResponseWriter, _ map[string]interface{}) {
		_, _ = io.WriteString(w, `{"not":"a list"`)
	})
	_, err := NewHyperliquidSource(srv.URL, "", 100).FetchPage(context.Background(), "ETH", "1m", 0)
	assert.ErrorIs(t, err, model.ErrDataIntegrity)
}

func TestHyperliquid_BadPrice(t *testing.T) {
	srv := newInfoServer(t, func(w http.ResponseWriter, _ map[string]interface{}) {
		_, _ = io.WriteString(w, `[{"t":0,"o":"1","h":"x","l":"1","c":"1","v":"1"}]`)
	})
	_, err := NewHyperliquidSource(srv.URL, "", 100).FetchPage(context.Background(), "ETH", "1m", 0)
	assert.ErrorIs(t, err, model.ErrDataIntegrity)
}

func TestHyperliquid_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHyperliquidSource(url, "", 100).FetchPage(context.Background(), "ETH", "1m", 0)
	assert.ErrorIs(t, err, model.ErrTransient)
}

func TestHyperliquid_ListSymbols(t *testing.T) {
	srv := newInfoServer(t, func(w http.ResponseWriter, body map[string]interface{}) {
		assert.Equal(t, "meta", body["type"])
		_, _ = io.WriteString(w, `{"universe":[
			{"name":"BTC","szDecimals":5},
			{"name":"LUNA","isDelisted":true},
			{"name":"ETH","szDecimals":4}
		]}`)
	})
	got, err := NewHyperliquidSource(srv.URL, "", 100).ListSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, got)
}

// A coin listed 1000 bars into the requested range. The API answers each
// window with only the bars inside it, so the first windows are empty.
func TestHyperliquid_FetchRangeSkipsEmptyWindowsBeforeListing(t *testing.T) {
	const listedAt, listed = 1000, 1001
	srv := newInfoServer(t, func(w http.ResponseWriter, body map[string]interface{}) {
		req := body["req"].(map[string]interface{})
		start, end := int64(req["startTime"].(float64)), int64(req["endTime"].(float64))
		var rows []string
		for i := listedAt; i < listedAt+listed; i++ {
			ts := int64(i) * minute
			if ts < start || ts > end {
				continue
			}
			rows = append(rows, fmt.Sprintf(`{"t":%d,"T":%d,"s":"NEW","i":"1m","o":"1","h":"1","l":"1","c":"1","v":"1","n":1}`, ts, ts+minute-1))
		}
		_, _ = io.WriteString(w, "["+strings.Join(rows, ",")+"]")
	})

	c := NewCollector(NewHyperliquidSource(srv.URL, "", 500), Options{MaxPages: 20}, zap.NewNop())
	got, err := c.FetchRange(context.Background(), "NEW", "1m", 0, 2000*minute)
	require.NoError(t, err)
	require.Len(t, got, listed)
	assert.Equal(t, int64(listedAt)*minute, got[0].Timestamp)
	assert.Equal(t, 2000*minute, got[len(got)-1].Timestamp)
}
