package memorystore

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind names a record type; it is also the CSV file prefix.
type Kind string

const (
	KindTrade     Kind = "trades"
	KindPrice     Kind = "prices"
	KindOrderBook Kind = "orderbook"
)

// Trade is one aggregate trade execution.
type Trade struct {
	ID        int64           `json:"id"`        // Aggregate trade id, unique per symbol
	Timestamp int64           `json:"timestamp"` // Trade time in milliseconds since epoch
	Side      string          `json:"side"`      // "buy" or "sell" from the taker's point of view
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Price is a best bid/offer observation.
type Price struct {
	Timestamp time.Time       `json:"timestamp"` // Local receive time
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Mid       decimal.Decimal `json:"mid"`
}

// Level is one price level of an order book side.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBook is a partial depth snapshot, best levels first.
type OrderBook struct {
	Timestamp       time.Time `json:"timestamp"`        // Local receive time
	EventTime       int64     `json:"event_time"`       // Exchange event time (ms)
	TransactionTime int64     `json:"transaction_time"` // Matching engine time (ms)
	UpdateID        int64     `json:"update_id"`        // Final update id of the event
	Bids            []Level   `json:"bids"`
	Asks            []Level   `json:"asks"`
}

// NewPrice builds a Price with the mid computed from bid and ask.
func NewPrice(ts time.Time, bid, ask decimal.Decimal) Price {
	return Price{
		Timestamp: ts,
		Bid:       bid,
		Ask:       ask,
		Mid:       bid.Add(ask).Div(decimal.NewFromInt(2)),
	}
}

// Buffers groups the per-kind record stores.
type Buffers struct {
	Trades     *RecordStore[Trade]
	Prices     *RecordStore[Price]
	OrderBooks *RecordStore[OrderBook]
}

// NewBuffers creates stores capped at maxPerSymbol records per symbol and kind.
func NewBuffers(maxPerSymbol int) *Buffers {
	return &Buffers{
		Trades:     NewRecordStore[Trade](maxPerSymbol),
		Prices:     NewRecordStore[Price](maxPerSymbol),
		OrderBooks: NewRecordStore[OrderBook](maxPerSymbol),
	}
}

// CountAll returns the number of pending records across every kind.
func (b *Buffers) CountAll() int {
	return b.Trades.CountAll() + b.Prices.CountAll() + b.OrderBooks.CountAll()
}
