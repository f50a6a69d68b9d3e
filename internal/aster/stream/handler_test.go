package stream

import (
	"testing"
	"time"

	"astercollector/internal/aster/memorystore"
	"astercollector/pkg/aster"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestHandler(t *testing.T, opts Options) (*Handler, *memorystore.Buffers) {
	t.Helper()
	if opts.Symbols == nil {
		opts.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}
	if opts.PriceSource == "" {
		opts.PriceSource = aster.ChannelBookTicker
	}
	buffers := memorystore.NewBuffers(100)
	h := NewHandler(buffers, memorystore.NewSeenTrades(100), opts, zap.NewNop())
	h.now = func() time.Time { return time.Unix(1727000000, 500_000_000) }
	return h, buffers
}

const (
	aggTradeMsg = `{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","E":1727000000100,"s":"BTCUSDT","a":555,"p":"65000.10","q":"0.003","f":900,"l":901,"T":1727000000099,"m":true}}`
	bookMsg     = `{"stream":"btcusdt@bookTicker","data":{"e":"bookTicker","u":1,"E":1,"T":1,"s":"BTCUSDT","b":"65000.1","B":"3","a":"65000.3","A":"1"}}`
	depthMsg    = `{"stream":"btcusdt@depth5","data":{"e":"depthUpdate","E":1727000000200,"T":1727000000199,"s":"BTCUSDT","U":10,"u":12,"pu":9,"b":[["65000.0","1.5"],["64999.9","2"]],"a":[["65000.2","0.7"]]}}`
)

// go test -v --run TestHandleAggTrade
func TestHandleAggTrade(t *testing.T) {
	h, buffers := newTestHandler(t, Options{})

	h.Handle([]byte(aggTradeMsg))
	h.Handle([]byte(aggTradeMsg)) // same aggregate id again

	trades := buffers.Trades.GetBySymbol("BTCUSDT")
	if len(trades) != 1 {
		t.Fatalf("expected duplicate dropped, got %d trades", len(trades))
	}
	tr := trades[0]
	if tr.ID != 555 || tr.Side != "sell" || tr.Timestamp != 1727000000099 {
		t.Errorf("unexpected trade: %+v", tr)
	}
	if tr.Price.String() != "65000.1" {
		t.Errorf("price = %s", tr.Price)
	}
}

// go test -v --run TestHandleBookTicker
func TestHandleBookTicker(t *testing.T) {
	h, buffers := newTestHandler(t, Options{})

	h.Handle([]byte(bookMsg))

	prices := buffers.Prices.GetBySymbol("BTCUSDT")
	if len(prices) != 1 {
		t.Fatalf("got %d prices, want 1", len(prices))
	}
	if got := prices[0].Mid.StringFixed(6); got != "65000.200000" {
		t.Errorf("mid = %s", got)
	}
	if !prices[0].Timestamp.Equal(time.Unix(1727000000, 500_000_000)) {
		t.Errorf("timestamp = %v", prices[0].Timestamp)
	}
}

// go test -v --run TestHandleDepth
func TestHandleDepth(t *testing.T) {
	h, buffers := newTestHandler(t, Options{})

	h.Handle([]byte(depthMsg))

	books := buffers.OrderBooks.GetBySymbol("BTCUSDT")
	if len(books) != 1 {
		t.Fatalf("got %d books, want 1", len(books))
	}
	if len(books[0].Bids) != 2 || len(books[0].Asks) != 1 || books[0].UpdateID != 12 {
		t.Errorf("unexpected book: %+v", books[0])
	}
	if n := buffers.Prices.CountAll(); n != 0 {
		t.Errorf("bookTicker price source should not derive prices from depth, got %d", n)
	}
}

// go test -v --run TestHandleDepthAsPriceSource
func TestHandleDepthAsPriceSource(t *testing.T) {
	h, buffers := newTestHandler(t, Options{PriceSource: aster.ChannelDepth})

	h.Handle([]byte(depthMsg))
	h.Handle([]byte(bookMsg)) // ignored for prices when depth is the source

	prices := buffers.Prices.GetBySymbol("BTCUSDT")
	if len(prices) != 1 {
		t.Fatalf("got %d prices, want 1", len(prices))
	}
	if prices[0].Bid.String() != "65000" || prices[0].Ask.String() != "65000.2" {
		t.Errorf("unexpected top of book: %+v", prices[0])
	}
}

// go test -v --run TestHandleIgnores
func TestHandleIgnores(t *testing.T) {
	h, buffers := newTestHandler(t, Options{})

	frames := []string{
		`not json`,
		`{"result":null,"id":1}`,
		`{"error":{"code":2,"msg":"Invalid request"},"id":2}`,
		`{"stream":"xrpusdt@aggTrade","data":{"e":"aggTrade","s":"XRPUSDT","a":1,"p":"1","q":"1"}}`,
		`{"stream":"btcusdt@kline_1m","data":{}}`,
		`{"stream":"btcusdt@depth5","data":{"e":"depthUpdate","s":"BTCUSDT","b":[],"a":[["1","1"]]}}`,
		`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","s":"BTCUSDT","a":2,"p":"oops","q":"1"}}`,
		`{"stream":"btcusdt@aggTrade","data":"garbage"}`,
	}
	for _, f := range frames {
		h.Handle([]byte(f))
	}

	if n := buffers.CountAll(); n != 0 {
		t.Errorf("expected nothing buffered, got %d", n)
	}
}

// go test -v --run TestHandleThreshold
func TestHandleThreshold(t *testing.T) {
	fired := 0
	h, _ := newTestHandler(t, Options{FlushThreshold: 2, OnThreshold: func() { fired++ }})

	h.Handle([]byte(bookMsg))
	if fired != 0 {
		t.Fatalf("fired after one record")
	}
	h.Handle([]byte(bookMsg))
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
}

// go test -v --run TestMakeMessageHandler
func TestMakeMessageHandler(t *testing.T) {
	buffers := memorystore.NewBuffers(10)
	handle := MakeMessageHandler(buffers, memorystore.NewSeenTrades(10),
		Options{Symbols: []string{"btcusdt"}, PriceSource: aster.ChannelBookTicker}, zap.NewNop())

	handle([]byte(aggTradeMsg))
	if buffers.Trades.CountAll() != 1 {
		t.Error("lower-case configured symbol should still match")
	}
}

// go test -v --run TestHandleDepthInvalidTopOfBook
func TestHandleDepthInvalidTopOfBook(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	buffers := memorystore.NewBuffers(100)
	h := NewHandler(buffers, memorystore.NewSeenTrades(100), Options{
		Symbols:     []string{"BTCUSDT"},
		PriceSource: aster.ChannelDepth,
	}, zap.New(core))

	msg := `{"stream":"btcusdt@depth5","data":{"e":"depthUpdate","E":1,"T":1,"s":"BTCUSDT","u":3,"b":[["bad","1"]],"a":[["65000.2","0.7"]]}}`
	h.Handle([]byte(msg))

	if n := len(buffers.Prices.GetBySymbol("BTCUSDT")); n != 0 {
		t.Errorf("buffered %d prices from an invalid top of book", n)
	}
	entries := logs.FilterMessage("failed to parse payload").All()
	if len(entries) != 1 {
		t.Fatalf("got %d parse warnings, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["error"]; got != errInvalidTopOfBook.Error() {
		t.Errorf("logged error = %v, want %q", got, errInvalidTopOfBook)
	}
}
