package aster

import (
	"fmt"
	"strings"
)

// Channel is a per-symbol market stream type.
type Channel string

const (
	ChannelAggTrade   Channel = "aggTrade"
	ChannelBookTicker Channel = "bookTicker"
	ChannelDepth      Channel = "depth"
)

// Event types carried in the "e" field of stream payloads.
const (
	EventAggTrade    = "aggTrade"
	EventBookTicker  = "bookTicker"
	EventDepthUpdate = "depthUpdate"
)

// validDepthLevels lists the partial book depths the exchange serves.
var validDepthLevels = map[int]bool{5: true, 10: true, 20: true}

// validDepthSpeeds lists the update speeds; "" is the exchange default.
var validDepthSpeeds = map[string]bool{"": true, "100ms": true, "250ms": true, "500ms": true}

// ParseChannel parses a configured channel name.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case ChannelAggTrade, ChannelBookTicker, ChannelDepth:
		return c, nil
	}
	return "", fmt.Errorf("invalid channel: %s", s)
}

// DepthStream describes the partial depth subscription.
type DepthStream struct {
	Levels int
	Speed  string
}

// Validate checks the depth against what the exchange offers.
func (d DepthStream) Validate() error {
	if !validDepthLevels[d.Levels] {
		return fmt.Errorf("invalid depth levels: %d", d.Levels)
	}
	if !validDepthSpeeds[d.Speed] {
		return fmt.Errorf("invalid depth speed: %s", d.Speed)
	}
	return nil
}

// StreamName returns the stream to subscribe for symbol on ch,
// e.g. "btcusdt@aggTrade" or "btcusdt@depth5@100ms".
func StreamName(symbol string, ch Channel, depth DepthStream) string {
	sym := strings.ToLower(symbol)
	if ch == ChannelDepth {
		name := fmt.Sprintf("%s@depth%d", sym, depth.Levels)
		if depth.Speed != "" {
			name += "@" + depth.Speed
		}
		return name
	}
	return sym + "@" + string(ch)
}

// StreamNames returns every stream for the symbol and channel sets,
// grouped by channel in the order given.
func StreamNames(symbols []string, channels []Channel, depth DepthStream) []string {
	out := make([]string, 0, len(symbols)*len(channels))
	for _, ch := range channels {
		for _, sym := range symbols {
			out = append(out, StreamName(sym, ch, depth))
		}
	}
	return out
}

// ChannelOf extracts the channel from a stream name such as
// "btcusdt@depth5@100ms". The second result is the upper-cased symbol.
func ChannelOf(stream string) (Channel, string, bool) {
	sym, rest, ok := strings.Cut(stream, "@")
	if !ok || sym == "" {
		return "", "", false
	}
	switch {
	case rest == string(ChannelAggTrade):
		return ChannelAggTrade, strings.ToUpper(sym), true
	case rest == string(ChannelBookTicker):
		return ChannelBookTicker, strings.ToUpper(sym), true
	case strings.HasPrefix(rest, string(ChannelDepth)):
		return ChannelDepth, strings.ToUpper(sym), true
	}
	return "", "", false
}

// ShardStreams splits streams into groups of at most max, one per connection.
func ShardStreams(streams []string, max int) [][]string {
	if max <= 0 {
		max = len(streams)
	}
	var shards [][]string
	for len(streams) > 0 {
		n := min(max, len(streams))
		shards = append(shards, streams[:n:n])
		streams = streams[n:]
	}
	return shards
}

// CombinedStreamURL returns the multiplexed stream endpoint under base,
// e.g. "wss://fstream.asterdex.com/stream".
func CombinedStreamURL(base string) string {
	return strings.TrimRight(base, "/") + "/stream"
}
