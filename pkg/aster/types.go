package aster

import (
	"encoding/json"
	"fmt"
)

// APIError is the error body returned by the REST API,
// e.g. {"code":-1121,"msg":"Invalid symbol."}.
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aster error: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
}

// StreamEnvelope wraps every payload on a combined stream connection.
type StreamEnvelope struct {
	Stream string          `json:"stream"` // e.g. "btcusdt@aggTrade"
	Data   json.RawMessage `json:"data"`   // Delay decoding until the channel is known
}

// ControlResponse answers SUBSCRIBE requests, or reports a request error.
type ControlResponse struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

// WsAggTradeEvent is an aggregate trade pushed on <symbol>@aggTrade.
type WsAggTradeEvent struct {
	Event        string `json:"e"` // "aggTrade"
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	AggTradeID   int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// WsBookTickerEvent is a best bid/ask update pushed on <symbol>@bookTicker.
type WsBookTickerEvent struct {
	Event           string `json:"e"` // "bookTicker"
	UpdateID        int64  `json:"u"`
	EventTime       int64  `json:"E"`
	TransactionTime int64  `json:"T"`
	Symbol          string `json:"s"`
	BidPrice        string `json:"b"`
	BidQty          string `json:"B"`
	AskPrice        string `json:"a"`
	AskQty          string `json:"A"`
}

// WsDepthEvent is a partial book snapshot pushed on <symbol>@depth<N>.
type WsDepthEvent struct {
	Event             string     `json:"e"` // "depthUpdate"
	EventTime         int64      `json:"E"`
	TransactionTime   int64      `json:"T"`
	Symbol            string     `json:"s"`
	FirstUpdateID     int64      `json:"U"`
	FinalUpdateID     int64      `json:"u"`
	PrevFinalUpdateID int64      `json:"pu"`
	Bids              [][]string `json:"b"` // [price, quantity], best first
	Asks              [][]string `json:"a"`
}

// BookTicker is the REST /fapi/v1/ticker/bookTicker response.
type BookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
	Time     int64  `json:"time"`
}

// AggTrade is one element of the REST /fapi/v1/aggTrades response.
type AggTrade struct {
	AggTradeID   int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	Timestamp    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}
