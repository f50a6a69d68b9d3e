package snapshot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"astercollector/internal/aster/memorystore"
	"astercollector/pkg/aster"

	"go.uber.org/zap"
)

func newFakeREST(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/bookTicker", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "BTCUSDT":
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","bidPrice":"100","bidQty":"1","askPrice":"102","askQty":"1","time":1}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
		}
	})
	mux.HandleFunc("/fapi/v1/aggTrades", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		_, _ = w.Write([]byte(`[
			{"a":1,"p":"100.5","q":"1","f":1,"l":1,"T":1727000000001,"m":false},
			{"a":2,"p":"100.6","q":"2","f":2,"l":3,"T":1727000000002,"m":true},
			{"a":3,"p":"100.7","q":"3","f":4,"l":4,"T":1727000000003,"m":false}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// go test -v --run TestLoaderBootstrap
func TestLoaderBootstrap(t *testing.T) {
	srv := newFakeREST(t)

	buffers := memorystore.NewBuffers(100)
	seen := memorystore.NewSeenTrades(100)
	seen.Seed("BTCUSDT", []int64{2}) // already on disk

	l := &Loader{
		RestClient: aster.NewRESTClient(srv.URL, 5*time.Second),
		Buffers:    buffers,
		Seen:       seen,
		TradeLimit: 100,
		Timeout:    5 * time.Second,
		Logger:     zap.NewNop(),
		now:        func() time.Time { return time.Unix(1727000000, 0) },
	}

	res := l.Load(context.Background(), []string{"BTCUSDT", "BADUSDT"})
	if res.Prices != 1 || res.Trades != 2 || res.Failed != 1 {
		t.Errorf("unexpected result: %+v", res)
	}

	trades := buffers.Trades.GetBySymbol("BTCUSDT")
	if len(trades) != 2 || trades[0].ID != 1 || trades[1].ID != 3 {
		t.Errorf("unexpected buffered trades: %+v", trades)
	}

	prices := buffers.Prices.GetBySymbol("BTCUSDT")
	if len(prices) != 1 || prices[0].Mid.String() != "101" {
		t.Errorf("unexpected buffered prices: %+v", prices)
	}
	if n := len(buffers.Prices.GetBySymbol("BADUSDT")); n != 0 {
		t.Errorf("failed symbol buffered %d prices", n)
	}

	// Trades from REST are now known to the stream dedupe window.
	if seen.MarkNew("BTCUSDT", 3) {
		t.Error("trade 3 should already be marked seen")
	}
}
