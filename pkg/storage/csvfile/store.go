package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"astercollector/internal/aster/memorystore"

	"github.com/shopspring/decimal"
)

var (
	TradeHeader = []string{"id", "unix_timestamp_ms", "side", "price", "quantity"}
	PriceHeader = []string{"unix_timestamp", "bid", "ask", "mid"}
)

// OrderBookHeader returns the header for a book with levels per side.
func OrderBookHeader(levels int) []string {
	h := []string{"unix_timestamp", "event_time_ms", "transaction_time_ms", "update_id"}
	for i := 1; i <= levels; i++ {
		h = append(h, fmt.Sprintf("bid_price_%d", i), fmt.Sprintf("bid_qty_%d", i))
	}
	for i := 1; i <= levels; i++ {
		h = append(h, fmt.Sprintf("ask_price_%d", i), fmt.Sprintf("ask_qty_%d", i))
	}
	return h
}

// Store appends records to one CSV file per symbol and kind under dir,
// e.g. trades_BTCUSDT.csv.
type Store struct {
	dir         string
	depthLevels int
	fsync       bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates dir if needed. depthLevels fixes the order book column count.
func New(dir string, depthLevels int, fsync bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{
		dir:         dir,
		depthLevels: depthLevels,
		fsync:       fsync,
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) Name() string { return "csv" }

// Path returns the file holding kind records for symbol.
func (s *Store) Path(kind memorystore.Kind, symbol string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", kind, symbol))
}

func (s *Store) WriteTrades(_ context.Context, symbol string, trades []memorystore.Trade) error {
	rows := make([][]string, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, []string{
			strconv.FormatInt(t.ID, 10),
			strconv.FormatInt(t.Timestamp, 10),
			t.Side,
			t.Price.StringFixed(6),
			t.Quantity.StringFixed(6),
		})
	}
	return s.appendRows(s.Path(memorystore.KindTrade, symbol), TradeHeader, rows)
}

func (s *Store) WritePrices(_ context.Context, symbol string, prices []memorystore.Price) error {
	rows := make([][]string, 0, len(prices))
	for _, p := range prices {
		rows = append(rows, []string{
			unixSeconds(p.Timestamp.UnixMicro()),
			p.Bid.String(),
			p.Ask.String(),
			p.Mid.StringFixed(6),
		})
	}
	return s.appendRows(s.Path(memorystore.KindPrice, symbol), PriceHeader, rows)
}

func (s *Store) WriteOrderBooks(_ context.Context, symbol string, books []memorystore.OrderBook) error {
	width := 4 + 4*s.depthLevels
	rows := make([][]string, 0, len(books))
	for _, b := range books {
		row := make([]string, 0, width)
		row = append(row,
			unixSeconds(b.Timestamp.UnixMicro()),
			strconv.FormatInt(b.EventTime, 10),
			strconv.FormatInt(b.TransactionTime, 10),
			strconv.FormatInt(b.UpdateID, 10),
		)
		row = appendLevels(row, b.Bids, s.depthLevels)
		row = appendLevels(row, b.Asks, s.depthLevels)
		rows = append(rows, row)
	}
	return s.appendRows(s.Path(memorystore.KindOrderBook, symbol), OrderBookHeader(s.depthLevels), rows)
}

// appendLevels writes exactly n price/quantity pairs, blank when the book is shallower.
func appendLevels(row []string, levels []memorystore.Level, n int) []string {
	for i := 0; i < n; i++ {
		if i < len(levels) {
			row = append(row, levels[i].Price.String(), levels[i].Quantity.String())
		} else {
			row = append(row, "", "")
		}
	}
	return row
}

// unixSeconds renders microseconds since epoch as seconds with six decimals.
func unixSeconds(micros int64) string {
	return decimal.New(micros, -6).StringFixed(6)
}

func (s *Store) fileLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

// trimTornRow truncates a file that does not end in a newline back to its
// last complete line, so the next row does not get glued onto a partial
// one. It returns the resulting size.
func trimTornRow(f *os.File, size int64) (int64, error) {
	if size == 0 {
		return 0, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return 0, err
	}
	if last[0] == '\n' {
		return size, nil
	}

	nl, err := lastNewline(f, size)
	if err != nil {
		return 0, err
	}
	if err := f.Truncate(nl + 1); err != nil {
		return 0, err
	}
	return nl + 1, nil
}

// appendRows appends rows to path, writing header first when the file is new or empty.
func (s *Store) appendRows(path string, header []string, rows [][]string) (err error) {
	if len(rows) == 0 {
		return nil
	}

	l := s.fileLock(path)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	size, err := trimTornRow(f, info.Size())
	if err != nil {
		return fmt.Errorf("repair %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if size == 0 {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write header %s: %w", path, err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows %s: %w", path, err)
	}

	if s.fsync {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync %s: %w", path, err)
		}
	}
	return nil
}
