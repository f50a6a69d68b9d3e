package collector

import (
	"context"
	"fmt"
	"time"

	"astercollector/config"
	"astercollector/internal/aster/flusher"
	"astercollector/internal/aster/memorystore"
	"astercollector/internal/aster/snapshot"
	"astercollector/internal/aster/stream"
	"astercollector/internal/metrics"
	"astercollector/pkg/aster"
	"astercollector/pkg/storage/csvfile"
	"astercollector/pkg/storage/postgres"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Collector wires the Aster streams, the in-memory buffers and the sinks.
type Collector struct {
	cfg    *config.Config
	logger *zap.Logger

	buffers *memorystore.Buffers
	seen    *memorystore.SeenTrades
	store   *csvfile.Store
	pg      *postgres.PostgresClient
	flusher *flusher.Flusher
	loader  *snapshot.Loader
	clients []*aster.WSClient
}

// Run builds a collector from cfg and runs it until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	c, err := New(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Run(ctx)
}

// New prepares storage, buffers and one websocket client per stream shard.
// Nothing is dialed until Run.
func New(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*Collector, error) {
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}

	channels := make([]aster.Channel, 0, len(cfg.Collector.Channels))
	for _, name := range cfg.Collector.Channels {
		ch, err := aster.ParseChannel(name)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	depth := aster.DepthStream{Levels: cfg.Aster.WS.DepthLevels, Speed: cfg.Aster.WS.DepthSpeed}
	if err := depth.Validate(); err != nil {
		return nil, err
	}

	store, err := csvfile.New(cfg.Storage.Dir, depth.Levels, cfg.Storage.Fsync)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV storage: %w", err)
	}

	c := &Collector{
		cfg:     cfg,
		logger:  logger,
		buffers: memorystore.NewBuffers(cfg.Collector.MaxBuffered),
		seen:    memorystore.NewSeenTrades(cfg.Collector.DedupeWindow),
		store:   store,
	}
	c.warmSeenTrades()

	var mirrors []flusher.Sink
	if cfg.Postgres.Enabled {
		pg, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, true)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to DB: %w", err)
		}
		c.pg = pg
		mirrors = append(mirrors, pg)
		logger.Info("postgres mirror enabled", zap.String("db", cfg.Postgres.DBName))
	}
	c.flusher = flusher.New(c.buffers, cfg.Collector.FlushInterval, store, mirrors, logger.Named("flusher"))

	if cfg.Collector.Bootstrap {
		c.loader = &snapshot.Loader{
			RestClient: aster.NewRESTClient(cfg.Aster.REST.BaseURL, cfg.Aster.REST.Timeout),
			Buffers:    c.buffers,
			Seen:       c.seen,
			TradeLimit: cfg.Aster.REST.TradeLimit,
			Timeout:    cfg.Aster.REST.Timeout,
			Logger:     logger.Named("bootstrap"),
		}
	}

	handle := stream.MakeMessageHandler(c.buffers, c.seen, stream.Options{
		Symbols:        cfg.Collector.Symbols,
		PriceSource:    aster.Channel(cfg.Collector.PriceSource),
		FlushThreshold: cfg.Collector.FlushThreshold,
		OnThreshold:    c.flusher.Trigger,
	}, logger.Named("stream"))

	wsOpts := aster.WSOptions{
		PingInterval:         cfg.Aster.WS.PingInterval,
		PongTimeout:          cfg.Aster.WS.PongTimeout,
		HandshakeTimeout:     cfg.Aster.WS.HandshakeTimeout,
		ReconnectInterval:    cfg.Aster.WS.ReconnectInterval,
		MaxReconnectInterval: cfg.Aster.WS.MaxReconnectInterval,
	}
	url := aster.CombinedStreamURL(cfg.Aster.WS.URL)
	streams := aster.StreamNames(cfg.Collector.Symbols, channels, depth)
	for i, shard := range aster.ShardStreams(streams, cfg.Aster.WS.MaxStreamsPerConn) {
		client := aster.NewWSClient(url, shard, wsOpts, logger.Named("ws").With(zap.Int("conn", i)))
		client.SetMessageHandler(handle)
		client.SetStateHook(metrics.SetConnected)
		client.SetRetryHook(func(error, time.Duration) { metrics.IncReconnect() })
		c.clients = append(c.clients, client)
	}

	logger.Info("collector configured",
		zap.Strings("symbols", cfg.Collector.Symbols),
		zap.Int("streams", len(streams)),
		zap.Int("connections", len(c.clients)),
		zap.String("data_dir", cfg.Storage.Dir))
	return c, nil
}

// warmSeenTrades seeds the dedupe window from the tail of each trades file
// so a restart does not rewrite trades that are already on disk.
func (c *Collector) warmSeenTrades() {
	for _, symbol := range c.cfg.Collector.Symbols {
		ids, err := c.store.LoadRecentTradeIDs(symbol, c.cfg.Collector.WarmTradeIDs)
		if err != nil {
			c.logger.Warn("failed to load recent trade ids", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if len(ids) > 0 {
			c.seen.Seed(symbol, ids)
			c.logger.Info("loaded recent trade ids", zap.String("symbol", symbol), zap.Int("count", len(ids)))
		}
	}
}

// Run bootstraps from REST, then streams until ctx is cancelled or a
// component fails. The final flush happens after every socket is closed.
func (c *Collector) Run(ctx context.Context) error {
	if c.loader != nil {
		c.loader.Load(ctx, c.cfg.Collector.Symbols)
	}

	// The flusher outlives the stream group so it sees the last messages.
	flushCtx, stopFlush := context.WithCancel(context.Background())
	flushDone := make(chan error, 1)
	go func() { flushDone <- c.flusher.Run(flushCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	for _, client := range c.clients {
		client := client
		g.Go(func() error { return client.Run(gctx) })
	}
	if c.cfg.Metrics.Addr != "" {
		g.Go(func() error { return metrics.Serve(gctx, c.cfg.Metrics.Addr, nil, c.logger) })
	}
	g.Go(func() error {
		c.awaitConnected(gctx)
		return nil
	})
	g.Go(func() error {
		c.reportStatus(gctx)
		return nil
	})

	err := g.Wait()
	stopFlush()
	<-flushDone

	if err != nil {
		return fmt.Errorf("collector stopped: %w", err)
	}
	c.logger.Info("collector stopped")
	return nil
}

// awaitConnected logs once every connection is up, or warns when they are
// not after ConnectWait. Clients keep retrying either way.
func (c *Collector) awaitConnected(ctx context.Context) {
	deadline := time.NewTimer(c.cfg.Collector.ConnectWait)
	defer deadline.Stop()
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			c.logger.Warn("not all websocket connections are up yet",
				zap.Int("connected", c.connectedCount()), zap.Int("total", len(c.clients)))
			return
		case <-poll.C:
			if c.connectedCount() == len(c.clients) {
				c.logger.Info("connected to all streams", zap.Int("connections", len(c.clients)))
				return
			}
		}
	}
}

func (c *Collector) connectedCount() int {
	n := 0
	for _, client := range c.clients {
		if client.Connected() {
			n++
		}
	}
	return n
}

// reportStatus periodically logs pending buffer sizes for visibility.
func (c *Collector) reportStatus(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Collector.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.logger.Debug("buffer status",
				zap.Int("trades", c.buffers.Trades.CountAll()),
				zap.Int("prices", c.buffers.Prices.CountAll()),
				zap.Int("orderbooks", c.buffers.OrderBooks.CountAll()),
				zap.Int("connected", c.connectedCount()))
		}
	}
}

// Close releases the Postgres connection, if any.
func (c *Collector) Close() error {
	if c.pg != nil {
		return c.pg.Close()
	}
	return nil
}
