package snapshot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"astercollector/internal/aster/memorystore"
	"astercollector/internal/metrics"
	"astercollector/pkg/aster"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxConcurrent bounds parallel REST requests during bootstrap.
const maxConcurrent = 5

// Loader seeds the buffers with a REST baseline before streaming starts:
// the current best bid/ask and the latest aggregate trades per symbol.
type Loader struct {
	RestClient *aster.RESTClient
	Buffers    *memorystore.Buffers
	Seen       *memorystore.SeenTrades
	TradeLimit int
	Timeout    time.Duration // per-request timeout
	Logger     *zap.Logger

	now func() time.Time
}

// Result summarizes one bootstrap run.
type Result struct {
	Prices int
	Trades int
	Failed int // symbols with at least one failed request
}

// Load fetches the baseline for every symbol. Failures are logged and
// counted; they never abort the run.
func (l *Loader) Load(ctx context.Context, symbols []string) Result {
	var (
		prices, trades, failed atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for _, symbol := range symbols {
		symbol := symbol // capture
		g.Go(func() error {
			var symbolFailed bool

			if ok, err := l.loadPrice(gctx, symbol); err != nil {
				l.Logger.Warn("failed to fetch book ticker from REST", zap.String("symbol", symbol), zap.Error(err))
				symbolFailed = true
			} else if ok {
				prices.Add(1)
			}

			n, err := l.loadTrades(gctx, symbol)
			if err != nil {
				l.Logger.Warn("failed to fetch trades from REST", zap.String("symbol", symbol), zap.Error(err))
				symbolFailed = true
			}
			trades.Add(int64(n))

			if symbolFailed {
				failed.Add(1)
				l.Logger.Warn("bootstrap finished with errors for symbol", zap.String("symbol", symbol))
			} else {
				l.Logger.Info("bootstrap completed for symbol",
					zap.String("symbol", symbol), zap.Int("trades", n))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Prices: int(prices.Load()), Trades: int(trades.Load()), Failed: int(failed.Load())}
	l.Logger.Info("bootstrap done",
		zap.Int("symbols", len(symbols)), zap.Int("prices", res.Prices),
		zap.Int("trades", res.Trades), zap.Int("failed", res.Failed))
	return res
}

func (l *Loader) loadPrice(ctx context.Context, symbol string) (bool, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	bt, err := l.RestClient.GetBookTicker(ctx, symbol)
	if err != nil {
		return false, err
	}
	price, err := bt.ToPrice(l.clock())
	if err != nil {
		return false, fmt.Errorf("parse book ticker: %w", err)
	}

	_, dropped := l.Buffers.Prices.Add(symbol, price)
	metrics.AddBuffered(string(memorystore.KindPrice), 1)
	metrics.AddDropped(string(memorystore.KindPrice), dropped)
	return true, nil
}

// loadTrades buffers the trades not seen before and returns their count.
func (l *Loader) loadTrades(ctx context.Context, symbol string) (int, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	rest, err := l.RestClient.GetAggTrades(ctx, symbol, l.TradeLimit)
	if err != nil {
		return 0, err
	}

	fresh := make([]memorystore.Trade, 0, len(rest))
	for _, at := range rest {
		trade, err := at.ToTrade()
		if err != nil {
			l.Logger.Debug("skipping unparsable trade",
				zap.String("symbol", symbol), zap.Int64("id", at.AggTradeID), zap.Error(err))
			continue
		}
		if !l.Seen.MarkNew(symbol, trade.ID) {
			metrics.IncDuplicate()
			continue
		}
		fresh = append(fresh, trade)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	_, dropped := l.Buffers.Trades.Add(symbol, fresh...)
	metrics.AddBuffered(string(memorystore.KindTrade), len(fresh))
	metrics.AddDropped(string(memorystore.KindTrade), dropped)
	return len(fresh), nil
}

func (l *Loader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.Timeout)
}

func (l *Loader) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}
