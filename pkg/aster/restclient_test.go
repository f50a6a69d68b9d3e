package aster

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newFakeREST(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/bookTicker", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","bidPrice":"65000.10","bidQty":"1.5","askPrice":"65000.30","askQty":"2","time":1727000000000}`))
	})
	mux.HandleFunc("/fapi/v1/aggTrades", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "2" {
			t.Errorf("limit = %q, want 2", r.URL.Query().Get("limit"))
		}
		_, _ = w.Write([]byte(`[
			{"a":100,"p":"65000.1","q":"0.010","f":1000,"l":1001,"T":1727000000001,"m":true},
			{"a":101,"p":"65000.2","q":"0.020","f":1002,"l":1002,"T":1727000000002,"m":false}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// go test -v --run TestGetBookTicker
func TestGetBookTicker(t *testing.T) {
	srv := newFakeREST(t)
	client := NewRESTClient(srv.URL, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bt, err := client.GetBookTicker(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := bt.ToPrice(time.Unix(1727000000, 0))
	if err != nil {
		t.Fatalf("ToPrice: %v", err)
	}
	if got := p.Mid.StringFixed(6); got != "65000.200000" {
		t.Errorf("mid = %s, want 65000.200000", got)
	}
}

// go test -v --run TestGetBookTickerAPIError
func TestGetBookTickerAPIError(t *testing.T) {
	srv := newFakeREST(t)
	client := NewRESTClient(srv.URL, 5*time.Second)

	_, err := client.GetBookTicker(context.Background(), "NOPE")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != -1121 || apiErr.Status != http.StatusBadRequest {
		t.Errorf("unexpected error fields: %+v", apiErr)
	}
}

// go test -v --run TestGetAggTrades
func TestGetAggTrades(t *testing.T) {
	srv := newFakeREST(t)
	client := NewRESTClient(srv.URL, 5*time.Second)

	trades, err := client.GetAggTrades(context.Background(), "BTCUSDT", 2)
	if err != nil {
		t.Fatalf("GetAggTrades returned error: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("len = %d, want 2", len(trades))
	}

	first, err := trades[0].ToTrade()
	if err != nil {
		t.Fatalf("ToTrade: %v", err)
	}
	if first.ID != 100 || first.Side != "sell" || first.Timestamp != 1727000000001 {
		t.Errorf("unexpected trade: %+v", first)
	}
	if got := first.Quantity.StringFixed(6); got != "0.010000" {
		t.Errorf("quantity = %s", got)
	}
}
