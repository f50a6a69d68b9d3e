package csvfile

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"astercollector/internal/aster/memorystore"

	"github.com/shopspring/decimal"
)

func readFile(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// go test -v --run TestWriteTradesAppends
func TestWriteTradesAppends(t *testing.T) {
	store, err := New(t.TempDir(), 5, false)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	first := []memorystore.Trade{{ID: 1, Timestamp: 1727000000001, Side: "buy", Price: d("65000.1"), Quantity: d("0.003")}}
	second := []memorystore.Trade{{ID: 2, Timestamp: 1727000000002, Side: "sell", Price: d("65000.25"), Quantity: d("1")}}

	if err := store.WriteTrades(ctx, "BTCUSDT", first); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := store.WriteTrades(ctx, "BTCUSDT", second); err != nil {
		t.Fatalf("second write: %v", err)
	}

	lines := readFile(t, store.Path(memorystore.KindTrade, "BTCUSDT"))
	want := []string{
		"id,unix_timestamp_ms,side,price,quantity",
		"1,1727000000001,buy,65000.100000,0.003000",
		"2,1727000000002,sell,65000.250000,1.000000",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), strings.Join(lines, "\n"))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

// go test -v --run TestWritePrices
func TestWritePrices(t *testing.T) {
	store, err := New(t.TempDir(), 5, true)
	if err != nil {
		t.Fatal(err)
	}

	ts := time.Unix(1727000000, 123456000)
	p := memorystore.NewPrice(ts, d("65000.10"), d("65000.3"))
	if err := store.WritePrices(context.Background(), "BTCUSDT", []memorystore.Price{p}); err != nil {
		t.Fatal(err)
	}

	lines := readFile(t, store.Path(memorystore.KindPrice, "BTCUSDT"))
	if lines[0] != "unix_timestamp,bid,ask,mid" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "1727000000.123456,65000.1,65000.3,65000.200000" {
		t.Errorf("row = %q", lines[1])
	}
}

// go test -v --run TestWriteOrderBooksPadsLevels
func TestWriteOrderBooksPadsLevels(t *testing.T) {
	store, err := New(t.TempDir(), 2, false)
	if err != nil {
		t.Fatal(err)
	}

	book := memorystore.OrderBook{
		Timestamp:       time.Unix(1727000000, 0),
		EventTime:       1727000000200,
		TransactionTime: 1727000000199,
		UpdateID:        12,
		Bids:            []memorystore.Level{{Price: d("100.5"), Quantity: d("1")}, {Price: d("100.4"), Quantity: d("2")}},
		Asks:            []memorystore.Level{{Price: d("100.6"), Quantity: d("3")}},
	}
	if err := store.WriteOrderBooks(context.Background(), "BTCUSDT", []memorystore.OrderBook{book}); err != nil {
		t.Fatal(err)
	}

	lines := readFile(t, store.Path(memorystore.KindOrderBook, "BTCUSDT"))
	wantHeader := "unix_timestamp,event_time_ms,transaction_time_ms,update_id,bid_price_1,bid_qty_1,bid_price_2,bid_qty_2,ask_price_1,ask_qty_1,ask_price_2,ask_qty_2"
	if lines[0] != wantHeader {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "1727000000.000000,1727000000200,1727000000199,12,100.5,1,100.4,2,100.6,3,," {
		t.Errorf("row = %q", lines[1])
	}
}

// go test -v --run TestHeaderWrittenForEmptyFile
func TestHeaderWrittenForEmptyFile(t *testing.T) {
	store, err := New(t.TempDir(), 5, false)
	if err != nil {
		t.Fatal(err)
	}
	path := store.Path(memorystore.KindTrade, "ETHUSDT")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	trade := memorystore.Trade{ID: 7, Timestamp: 1, Side: "buy", Price: d("1"), Quantity: d("1")}
	if err := store.WriteTrades(context.Background(), "ETHUSDT", []memorystore.Trade{trade}); err != nil {
		t.Fatal(err)
	}
	if lines := readFile(t, path); lines[0] != strings.Join(TradeHeader, ",") {
		t.Errorf("expected header in previously empty file, got %q", lines[0])
	}
}

// go test -v --run TestLoadRecentTradeIDs
func TestLoadRecentTradeIDs(t *testing.T) {
	store, err := New(t.TempDir(), 5, false)
	if err != nil {
		t.Fatal(err)
	}

	// Missing file
	ids, err := store.LoadRecentTradeIDs("BTCUSDT", 10)
	if err != nil || len(ids) != 0 {
		t.Fatalf("missing file: ids=%v err=%v", ids, err)
	}

	// Enough rows to span several read chunks
	var trades []memorystore.Trade
	for i := int64(1); i <= 5000; i++ {
		trades = append(trades, memorystore.Trade{ID: i, Timestamp: i, Side: "buy", Price: d("65000.123456"), Quantity: d("0.5")})
	}
	if err := store.WriteTrades(context.Background(), "BTCUSDT", trades); err != nil {
		t.Fatal(err)
	}

	ids, err = store.LoadRecentTradeIDs("BTCUSDT", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1000 || ids[0] != 4001 || ids[999] != 5000 {
		t.Errorf("got %d ids [%d..%d], want 1000 [4001..5000]", len(ids), ids[0], ids[len(ids)-1])
	}

	// Fewer rows than requested: header skipped
	ids, err = store.LoadRecentTradeIDs("BTCUSDT", 10000)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 5000 || ids[0] != 1 {
		t.Errorf("got %d ids starting %d, want 5000 starting 1", len(ids), ids[0])
	}
}

// go test -v --run TestLoadRecentTradeIDsSkipsTornRows
func TestLoadRecentTradeIDsSkipsTornRows(t *testing.T) {
	store, err := New(t.TempDir(), 5, false)
	if err != nil {
		t.Fatal(err)
	}
	body := "id,unix_timestamp_ms,side,price,quantity\n10,1,buy,1,1\nxx,1,buy\n11,2,sell,1,1\n12,3,bu"
	if err := os.WriteFile(store.Path(memorystore.KindTrade, "BTCUSDT"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	ids, err := store.LoadRecentTradeIDs("BTCUSDT", 2)
	if err != nil {
		t.Fatal(err)
	}
	// 12 never finished writing, so it is not on disk yet.
	if fmt.Sprint(ids) != "[11]" {
		t.Errorf("ids = %v, want [11]", ids)
	}
}

// go test -v --run TestAppendAfterTornRow
func TestAppendAfterTornRow(t *testing.T) {
	store, err := New(t.TempDir(), 5, false)
	if err != nil {
		t.Fatal(err)
	}
	path := store.Path(memorystore.KindTrade, "BTCUSDT")
	body := "id,unix_timestamp_ms,side,price,quantity\n11,2,sell,1,1\n12,3,bu"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	trades := []memorystore.Trade{
		{ID: 12, Timestamp: 3, Side: "buy", Price: d("1"), Quantity: d("1")},
		{ID: 13, Timestamp: 4, Side: "buy", Price: d("1"), Quantity: d("1")},
	}
	if err := store.WriteTrades(context.Background(), "BTCUSDT", trades); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"id,unix_timestamp_ms,side,price,quantity",
		"11,2,sell,1,1",
		"12,3,buy,1.000000,1.000000",
		"13,4,buy,1.000000,1.000000",
	}
	got := readFile(t, path)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("file = %q\nwant   %q", got, want)
	}
}

// go test -v --run TestAppendAfterTornHeader
func TestAppendAfterTornHeader(t *testing.T) {
	store, err := New(t.TempDir(), 5, false)
	if err != nil {
		t.Fatal(err)
	}
	path := store.Path(memorystore.KindTrade, "BTCUSDT")
	if err := os.WriteFile(path, []byte("id,unix_ti"), 0o644); err != nil {
		t.Fatal(err)
	}

	trade := memorystore.Trade{ID: 1, Timestamp: 1, Side: "sell", Price: d("1"), Quantity: d("1")}
	if err := store.WriteTrades(context.Background(), "BTCUSDT", []memorystore.Trade{trade}); err != nil {
		t.Fatal(err)
	}

	got := readFile(t, path)
	if len(got) != 2 || got[0] != strings.Join(TradeHeader, ",") || got[1] != "1,1,sell,1.000000,1.000000" {
		t.Errorf("file = %q", got)
	}
}
