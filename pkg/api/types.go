package api

// Request/response types for the REST surface and WebSocket messages.
// Authentication and order signing happen upstream; this surface consumes
// already-verified submissions.

import (
	"github.com/shopspring/decimal"

	"github.com/papermarket/engine/pkg/engine/book"
)

type PlaceOrderRequest struct {
	Owner     string `json:"owner"`     // EVM address of the verified signer
	TokenID   string `json:"tokenId"`   // outcome token to trade
	Side      string `json:"side"`      // "BUY" or "SELL"
	Price     string `json:"price"`     // decimal in (0,1)
	Size      string `json:"size"`      // decimal, >= minimum order size
	OrderType string `json:"orderType"` // "GTC", "FOK", or "FAK"
}

type PlaceOrderResponse struct {
	Success  bool     `json:"success"`
	OrderID  string   `json:"orderId,omitempty"`
	Status   string   `json:"status,omitempty"`
	TradeIDs []string `json:"tradeIds,omitempty"`
	ErrorMsg string   `json:"errorMsg,omitempty"`
}

type OrderDetail struct {
	ID        string          `json:"id"`
	Owner     string          `json:"owner"`
	TokenID   string          `json:"tokenId"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Filled    decimal.Decimal `json:"filled"`
	OrderType string          `json:"orderType"`
	Status    string          `json:"status"`
	CreatedAt int64           `json:"createdAt"`
	TradeIDs  []string        `json:"tradeIds,omitempty"`
}

type BookResponse struct {
	TokenID   string          `json:"tokenId"`
	Bids      []book.Level    `json:"bids"` // best (highest) first
	Asks      []book.Level    `json:"asks"` // best (lowest) first
	TickSize  decimal.Decimal `json:"tickSize"`
	Timestamp int64           `json:"timestamp"`
}

type TickSizeResponse struct {
	TokenID  string          `json:"tokenId"`
	TickSize decimal.Decimal `json:"tickSize"`
}

type NegRiskResponse struct {
	TokenID string `json:"tokenId"`
	NegRisk bool   `json:"negRisk"`
}

type FeeRateResponse struct {
	TakerFeeBps int64 `json:"takerFeeBps"`
	MakerFeeBps int64 `json:"makerFeeBps"`
}

type CancelRequest struct {
	Owner   string `json:"owner"`
	OrderID string `json:"orderId"`
}

type CancelAllRequest struct {
	Owner   string `json:"owner"`
	TokenID string `json:"tokenId,omitempty"` // optional instrument filter
}

type CancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"notCanceled,omitempty"`
	BusyTokens  []string          `json:"busyTokens,omitempty"`
}

type TradeInfo struct {
	ID           string          `json:"id"`
	TokenID      string          `json:"tokenId"`
	MakerOrderID string          `json:"makerOrderId"`
	TakerOrderID string          `json:"takerOrderId"`
	TakerSide    string          `json:"takerSide"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	Timestamp    int64           `json:"timestamp"`
}

type PositionInfo struct {
	Size decimal.Decimal `json:"size"`
	Held decimal.Decimal `json:"held"`
}

type AccountResponse struct {
	Owner      string                  `json:"owner"`
	Cash       decimal.Decimal         `json:"cash"`
	HeldCash   decimal.Decimal         `json:"heldCash"`
	Available  decimal.Decimal         `json:"available"`
	Positions  map[string]PositionInfo `json:"positions"`
	FeesPaid   decimal.Decimal         `json:"feesPaid"`
	TradeCount int64                   `json:"tradeCount"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is sent by clients to manage channel subscriptions,
// e.g. ["book:<tokenID>", "trades:<tokenID>"].
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

type BookUpdate struct {
	Type      string          `json:"type"` // "book"
	TokenID   string          `json:"tokenId"`
	Bids      []book.Level    `json:"bids"`
	Asks      []book.Level    `json:"asks"`
	TickSize  decimal.Decimal `json:"tickSize"`
	Timestamp int64           `json:"timestamp"`
}

type TradeUpdate struct {
	Type      string          `json:"type"` // "trade"
	TokenID   string          `json:"tokenId"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	TakerSide string          `json:"takerSide"`
	Timestamp int64           `json:"timestamp"`
}
