package postgres

import (
	"time"

	"astercollector/internal/aster/memorystore"

	"github.com/shopspring/decimal"
)

// TradeRecord is one aggregate trade; (symbol, trade_id) is unique.
type TradeRecord struct {
	ID uint `gorm:"primaryKey"`

	Symbol  string `gorm:"type:text;not null;uniqueIndex:idx_trade_symbol_id"`
	TradeID int64  `gorm:"not null;uniqueIndex:idx_trade_symbol_id"`

	TradeTime time.Time       `gorm:"not null;index:idx_trade_time"`
	Side      string          `gorm:"type:varchar(4);not null"`
	Price     decimal.Decimal `gorm:"type:numeric;not null"`
	Quantity  decimal.Decimal `gorm:"type:numeric;not null"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

func (TradeRecord) TableName() string { return "trade_record" }

// PriceRecord is one best bid/offer observation.
type PriceRecord struct {
	ID uint `gorm:"primaryKey"`

	Symbol     string    `gorm:"type:text;not null;index:idx_price_symbol_time"`
	ObservedAt time.Time `gorm:"not null;index:idx_price_symbol_time"`

	Bid decimal.Decimal `gorm:"type:numeric;not null"`
	Ask decimal.Decimal `gorm:"type:numeric;not null"`
	Mid decimal.Decimal `gorm:"type:numeric;not null"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

func (PriceRecord) TableName() string { return "price_record" }

// OrderBookRecord is one partial depth snapshot; levels are stored as JSON.
type OrderBookRecord struct {
	ID uint `gorm:"primaryKey"`

	Symbol     string    `gorm:"type:text;not null;index:idx_book_symbol_time"`
	ObservedAt time.Time `gorm:"not null;index:idx_book_symbol_time"`

	EventTime       time.Time `gorm:"not null"`
	TransactionTime time.Time `gorm:"not null"`
	UpdateID        int64     `gorm:"not null"`

	Bids []memorystore.Level `gorm:"type:jsonb;serializer:json"`
	Asks []memorystore.Level `gorm:"type:jsonb;serializer:json"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

func (OrderBookRecord) TableName() string { return "order_book_record" }

// ToTradeRecords converts buffered trades for symbol into rows.
func ToTradeRecords(symbol string, trades []memorystore.Trade) []TradeRecord {
	out := make([]TradeRecord, 0, len(trades))
	for _, t := range trades {
		out = append(out, TradeRecord{
			Symbol:    symbol,
			TradeID:   t.ID,
			TradeTime: time.UnixMilli(t.Timestamp).UTC(),
			Side:      t.Side,
			Price:     t.Price,
			Quantity:  t.Quantity,
		})
	}
	return out
}

func ToPriceRecords(symbol string, prices []memorystore.Price) []PriceRecord {
	out := make([]PriceRecord, 0, len(prices))
	for _, p := range prices {
		out = append(out, PriceRecord{
			Symbol:     symbol,
			ObservedAt: p.Timestamp.UTC(),
			Bid:        p.Bid,
			Ask:        p.Ask,
			Mid:        p.Mid,
		})
	}
	return out
}

func ToOrderBookRecords(symbol string, books []memorystore.OrderBook) []OrderBookRecord {
	out := make([]OrderBookRecord, 0, len(books))
	for _, b := range books {
		out = append(out, OrderBookRecord{
			Symbol:          symbol,
			ObservedAt:      b.Timestamp.UTC(),
			EventTime:       time.UnixMilli(b.EventTime).UTC(),
			TransactionTime: time.UnixMilli(b.TransactionTime).UTC(),
			UpdateID:        b.UpdateID,
			Bids:            b.Bids,
			Asks:            b.Asks,
		})
	}
	return out
}
