package postgres

import (
	"context"
	"time"

	"astercollector/internal/aster/memorystore"

	"gorm.io/gorm/clause"
)

// WriteTrades inserts trades, skipping ids already stored for symbol.
func (p *PostgresClient) WriteTrades(ctx context.Context, symbol string, trades []memorystore.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	records := ToTradeRecords(symbol, trades)
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "trade_id"},
		},
		DoNothing: true,
	}).CreateInBatches(&records, p.batchSize).Error
}

func (p *PostgresClient) WritePrices(ctx context.Context, symbol string, prices []memorystore.Price) error {
	if len(prices) == 0 {
		return nil
	}
	records := ToPriceRecords(symbol, prices)
	return p.DB.WithContext(ctx).CreateInBatches(&records, p.batchSize).Error
}

func (p *PostgresClient) WriteOrderBooks(ctx context.Context, symbol string, books []memorystore.OrderBook) error {
	if len(books) == 0 {
		return nil
	}
	records := ToOrderBookRecords(symbol, books)
	return p.DB.WithContext(ctx).CreateInBatches(&records, p.batchSize).Error
}

// GetTrades returns the trades for symbol in [from, to), oldest first.
func (p *PostgresClient) GetTrades(ctx context.Context, symbol string, from, to time.Time) ([]TradeRecord, error) {
	var out []TradeRecord
	err := p.DB.WithContext(ctx).
		Where("symbol = ? AND trade_time >= ? AND trade_time < ?", symbol, from, to).
		Order("trade_id").
		Find(&out).Error
	return out, err
}

// DeleteBefore removes rows of every table observed before cutoff.
func (p *PostgresClient) DeleteBefore(ctx context.Context, cutoff time.Time) error {
	db := p.DB.WithContext(ctx)
	if err := db.Where("trade_time < ?", cutoff).Delete(&TradeRecord{}).Error; err != nil {
		return err
	}
	if err := db.Where("observed_at < ?", cutoff).Delete(&PriceRecord{}).Error; err != nil {
		return err
	}
	return db.Where("observed_at < ?", cutoff).Delete(&OrderBookRecord{}).Error
}
