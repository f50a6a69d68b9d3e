package stream

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"astercollector/internal/aster/memorystore"
	"astercollector/internal/metrics"
	"astercollector/pkg/aster"

	"go.uber.org/zap"
)

var errInvalidTopOfBook = errors.New("empty or invalid top of book")

// Options selects what the handler keeps.
type Options struct {
	Symbols        []string
	PriceSource    aster.Channel // feed that produces price rows: bookTicker or depth
	FlushThreshold int           // pending length that fires OnThreshold; 0 disables
	OnThreshold    func()
}

// Handler turns combined-stream payloads into buffered records.
// Handle is safe for concurrent use by several connections.
type Handler struct {
	symbols map[string]bool
	opts    Options
	buffers *memorystore.Buffers
	seen    *memorystore.SeenTrades
	logger  *zap.Logger
	now     func() time.Time
}

func NewHandler(buffers *memorystore.Buffers, seen *memorystore.SeenTrades, opts Options, logger *zap.Logger) *Handler {
	symbols := make(map[string]bool, len(opts.Symbols))
	for _, s := range opts.Symbols {
		symbols[strings.ToUpper(s)] = true
	}
	return &Handler{
		symbols: symbols,
		opts:    opts,
		buffers: buffers,
		seen:    seen,
		logger:  logger,
		now:     time.Now,
	}
}

// MakeMessageHandler returns a function that handles incoming WebSocket messages
// by parsing market data and storing it in memory.
func MakeMessageHandler(buffers *memorystore.Buffers, seen *memorystore.SeenTrades, opts Options,
	logger *zap.Logger) func(msg []byte) {
	return NewHandler(buffers, seen, opts, logger).Handle
}

// Handle routes one raw frame by its stream name.
func (h *Handler) Handle(msg []byte) {
	// Step 1: extract the stream name for early filtering
	var env aster.StreamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		h.logger.Debug("ignoring non-JSON frame", zap.Error(err))
		return
	}
	if env.Stream == "" {
		h.handleControl(msg)
		return
	}

	ch, symbol, ok := aster.ChannelOf(env.Stream)
	if !ok || !h.symbols[symbol] {
		return
	}
	metrics.IncMessage(string(ch))

	// Step 2: parse the payload for its channel and buffer it
	switch ch {
	case aster.ChannelAggTrade:
		h.handleAggTrade(symbol, env.Data)
	case aster.ChannelBookTicker:
		h.handleBookTicker(symbol, env.Data)
	case aster.ChannelDepth:
		h.handleDepth(symbol, env.Data)
	}
}

func (h *Handler) handleControl(msg []byte) {
	var resp aster.ControlResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return
	}
	if resp.Error != nil {
		h.logger.Warn("exchange rejected request",
			zap.Int("code", resp.Error.Code), zap.String("msg", resp.Error.Msg))
		return
	}
	if resp.ID != nil {
		h.logger.Debug("subscription acknowledged", zap.Uint64("id", *resp.ID))
	}
}

func (h *Handler) handleAggTrade(symbol string, data json.RawMessage) {
	var ev aster.WsAggTradeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		h.parseError(aster.ChannelAggTrade, symbol, err)
		return
	}
	if ev.Event != aster.EventAggTrade || !h.sameSymbol(symbol, ev.Symbol) {
		return
	}

	trade, err := ev.ToTrade()
	if err != nil {
		h.parseError(aster.ChannelAggTrade, symbol, err)
		return
	}
	if !h.seen.MarkNew(symbol, trade.ID) {
		metrics.IncDuplicate()
		return
	}

	pending, dropped := h.buffers.Trades.Add(symbol, trade)
	h.track(memorystore.KindTrade, symbol, pending, dropped)
}

func (h *Handler) handleBookTicker(symbol string, data json.RawMessage) {
	if h.opts.PriceSource != aster.ChannelBookTicker {
		return
	}

	var ev aster.WsBookTickerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		h.parseError(aster.ChannelBookTicker, symbol, err)
		return
	}
	if (ev.Event != "" && ev.Event != aster.EventBookTicker) || !h.sameSymbol(symbol, ev.Symbol) {
		return
	}

	price, err := ev.ToPrice(h.now())
	if err != nil {
		h.parseError(aster.ChannelBookTicker, symbol, err)
		return
	}

	pending, dropped := h.buffers.Prices.Add(symbol, price)
	h.track(memorystore.KindPrice, symbol, pending, dropped)
}

func (h *Handler) handleDepth(symbol string, data json.RawMessage) {
	var ev aster.WsDepthEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		h.parseError(aster.ChannelDepth, symbol, err)
		return
	}
	if ev.Event != aster.EventDepthUpdate || len(ev.Bids) == 0 || len(ev.Asks) == 0 ||
		!h.sameSymbol(symbol, ev.Symbol) {
		return
	}

	now := h.now()
	pending, dropped := h.buffers.OrderBooks.Add(symbol, ev.ToOrderBook(now))
	h.track(memorystore.KindOrderBook, symbol, pending, dropped)

	if h.opts.PriceSource == aster.ChannelDepth {
		if price, ok := ev.TopOfBook(now); ok {
			pending, dropped := h.buffers.Prices.Add(symbol, price)
			h.track(memorystore.KindPrice, symbol, pending, dropped)
		} else {
			h.parseError(aster.ChannelDepth, symbol, errInvalidTopOfBook)
		}
	}
}

// sameSymbol accepts payloads without "s" and those matching the stream.
func (h *Handler) sameSymbol(streamSymbol, payloadSymbol string) bool {
	return payloadSymbol == "" || strings.EqualFold(streamSymbol, payloadSymbol)
}

func (h *Handler) track(kind memorystore.Kind, symbol string, pending, dropped int) {
	metrics.AddBuffered(string(kind), 1)
	if dropped > 0 {
		metrics.AddDropped(string(kind), dropped)
		h.logger.Warn("buffer full, dropped oldest records",
			zap.String("symbol", symbol), zap.String("kind", string(kind)), zap.Int("dropped", dropped))
	}
	if h.opts.FlushThreshold > 0 && pending >= h.opts.FlushThreshold && h.opts.OnThreshold != nil {
		h.opts.OnThreshold()
	}
}

func (h *Handler) parseError(ch aster.Channel, symbol string, err error) {
	metrics.IncParseError(string(ch))
	h.logger.Warn("failed to parse payload",
		zap.String("channel", string(ch)), zap.String("symbol", symbol), zap.Error(err))
}
