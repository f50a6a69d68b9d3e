package flusher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"astercollector/internal/aster/memorystore"
	"astercollector/internal/metrics"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Sink persists drained records for one symbol.
type Sink interface {
	Name() string
	WriteTrades(ctx context.Context, symbol string, trades []memorystore.Trade) error
	WritePrices(ctx context.Context, symbol string, prices []memorystore.Price) error
	WriteOrderBooks(ctx context.Context, symbol string, books []memorystore.OrderBook) error
}

// Flusher periodically drains the buffers into the primary sink.
// Records the primary sink rejects go back to the front of their buffer;
// mirror sinks get the same records and their failures are only logged.
type Flusher struct {
	buffers  *memorystore.Buffers
	interval time.Duration
	primary  Sink
	mirrors  []Sink
	trigger  chan struct{}
	logger   *zap.Logger

	mu sync.Mutex // serializes flushes
}

func New(buffers *memorystore.Buffers, interval time.Duration, primary Sink, mirrors []Sink, logger *zap.Logger) *Flusher {
	return &Flusher{
		buffers:  buffers,
		interval: interval,
		primary:  primary,
		mirrors:  mirrors,
		trigger:  make(chan struct{}, 1),
		logger:   logger,
	}
}

// Trigger requests an early flush. It never blocks; requests made while
// one is already pending are merged.
func (f *Flusher) Trigger() {
	select {
	case f.trigger <- struct{}{}:
	default:
	}
}

// Run flushes on every tick and trigger until ctx is cancelled, then
// performs one final flush with a fresh context.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n, err := f.FlushAll(context.Background())
			f.logger.Info("final flush done", zap.Int("records", n), zap.Error(err))
			return nil
		case <-ticker.C:
		case <-f.trigger:
			f.logger.Debug("early flush triggered")
		}
		if _, err := f.FlushAll(ctx); err != nil {
			f.logger.Warn("flush incomplete, records requeued", zap.Error(err))
		}
	}
}

// FlushAll drains every buffer once and returns how many records reached
// the primary sink along with the primary sink's errors.
func (f *Flusher) FlushAll(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		total int
		errs  error
	)

	n, err := flushKind(ctx, f, memorystore.KindPrice, f.buffers.Prices, Sink.WritePrices)
	total += n
	errs = multierr.Append(errs, err)

	n, err = flushKind(ctx, f, memorystore.KindTrade, f.buffers.Trades, Sink.WriteTrades)
	total += n
	errs = multierr.Append(errs, err)

	n, err = flushKind(ctx, f, memorystore.KindOrderBook, f.buffers.OrderBooks, Sink.WriteOrderBooks)
	total += n
	errs = multierr.Append(errs, err)

	return total, errs
}

type writeFunc[T any] func(s Sink, ctx context.Context, symbol string, recs []T) error

func flushKind[T any](ctx context.Context, f *Flusher, kind memorystore.Kind,
	store *memorystore.RecordStore[T], write writeFunc[T]) (int, error) {
	var (
		total int
		errs  error
	)

	for _, symbol := range store.Symbols() {
		recs := store.Drain(symbol)
		if len(recs) == 0 {
			continue
		}

		if err := write(f.primary, ctx, symbol, recs); err != nil {
			metrics.IncFlushError(string(kind), f.primary.Name())
			if dropped := store.Requeue(symbol, recs); dropped > 0 {
				metrics.AddDropped(string(kind), dropped)
			}
			errs = multierr.Append(errs, fmt.Errorf("write %s for %s to %s: %w", kind, symbol, f.primary.Name(), err))
			continue
		}
		metrics.AddFlushed(string(kind), f.primary.Name(), len(recs))
		total += len(recs)
		f.logger.Info("flushed records",
			zap.String("symbol", symbol), zap.String("kind", string(kind)), zap.Int("count", len(recs)))

		for _, m := range f.mirrors {
			if err := write(m, ctx, symbol, recs); err != nil {
				metrics.IncFlushError(string(kind), m.Name())
				f.logger.Warn("mirror write failed",
					zap.String("sink", m.Name()), zap.String("symbol", symbol),
					zap.String("kind", string(kind)), zap.Error(err))
				continue
			}
			metrics.AddFlushed(string(kind), m.Name(), len(recs))
		}
	}

	return total, errs
}
