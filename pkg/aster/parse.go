package aster

import (
	"fmt"
	"time"

	"astercollector/internal/aster/memorystore"

	"github.com/shopspring/decimal"
)

// SideFromMaker maps the buyer-is-maker flag to the taker side.
func SideFromMaker(isBuyerMaker bool) string {
	if isBuyerMaker {
		return "sell"
	}
	return "buy"
}

// ToTrade converts a streamed aggregate trade.
func (e WsAggTradeEvent) ToTrade() (memorystore.Trade, error) {
	return newTrade(e.AggTradeID, e.TradeTime, e.IsBuyerMaker, e.Price, e.Quantity)
}

// ToTrade converts a REST aggregate trade.
func (t AggTrade) ToTrade() (memorystore.Trade, error) {
	return newTrade(t.AggTradeID, t.Timestamp, t.IsBuyerMaker, t.Price, t.Quantity)
}

func newTrade(id, ts int64, isBuyerMaker bool, price, qty string) (memorystore.Trade, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return memorystore.Trade{}, fmt.Errorf("invalid price %q: %w", price, err)
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return memorystore.Trade{}, fmt.Errorf("invalid quantity %q: %w", qty, err)
	}
	return memorystore.Trade{
		ID:        id,
		Timestamp: ts,
		Side:      SideFromMaker(isBuyerMaker),
		Price:     p,
		Quantity:  q,
	}, nil
}

// ToPrice converts a streamed best bid/ask observed at ts.
func (e WsBookTickerEvent) ToPrice(ts time.Time) (memorystore.Price, error) {
	return newPrice(ts, e.BidPrice, e.AskPrice)
}

// ToPrice converts a REST book ticker observed at ts.
func (b BookTicker) ToPrice(ts time.Time) (memorystore.Price, error) {
	return newPrice(ts, b.BidPrice, b.AskPrice)
}

func newPrice(ts time.Time, bid, ask string) (memorystore.Price, error) {
	b, err := decimal.NewFromString(bid)
	if err != nil {
		return memorystore.Price{}, fmt.Errorf("invalid bid %q: %w", bid, err)
	}
	a, err := decimal.NewFromString(ask)
	if err != nil {
		return memorystore.Price{}, fmt.Errorf("invalid ask %q: %w", ask, err)
	}
	return memorystore.NewPrice(ts, b, a), nil
}

// ToOrderBook converts a depth snapshot observed at ts.
// Malformed levels are skipped.
func (e WsDepthEvent) ToOrderBook(ts time.Time) memorystore.OrderBook {
	return memorystore.OrderBook{
		Timestamp:       ts,
		EventTime:       e.EventTime,
		TransactionTime: e.TransactionTime,
		UpdateID:        e.FinalUpdateID,
		Bids:            ParseLevels(e.Bids),
		Asks:            ParseLevels(e.Asks),
	}
}

// TopOfBook returns the best bid/ask of a depth snapshot as a Price.
// ok is false when either side is empty or unparsable.
func (e WsDepthEvent) TopOfBook(ts time.Time) (memorystore.Price, bool) {
	if len(e.Bids) == 0 || len(e.Asks) == 0 || len(e.Bids[0]) == 0 || len(e.Asks[0]) == 0 {
		return memorystore.Price{}, false
	}
	p, err := newPrice(ts, e.Bids[0][0], e.Asks[0][0])
	if err != nil {
		return memorystore.Price{}, false
	}
	return p, true
}

// ParseLevels converts [price, quantity] pairs, skipping invalid rows.
func ParseLevels(raw [][]string) []memorystore.Level {
	out := make([]memorystore.Level, 0, len(raw))
	for _, row := range raw {
		if len(row) < 2 {
			continue // skip incomplete row
		}
		price, err := decimal.NewFromString(row[0])
		if err != nil {
			continue
		}
		qty, err := decimal.NewFromString(row[1])
		if err != nil {
			continue
		}
		out = append(out, memorystore.Level{Price: price, Quantity: qty})
	}
	return out
}
