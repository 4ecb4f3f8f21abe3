package common

import "asset-rebalancer/pkg/address"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side an order of s matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the matching behaviour of an order.
type OrderType string

const (
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypeIOC      OrderType = "IMMEDIATE_OR_CANCEL"
	OrderTypePostOnly OrderType = "POST_ONLY" // maker only; rejected when it would cross
)

// SelfTradeBehavior controls what happens when an order would match one
// resting from the same open-orders account.
type SelfTradeBehavior string

const (
	SelfTradeDecrementTake    SelfTradeBehavior = "DECREMENT_TAKE"
	SelfTradeCancelProvide    SelfTradeBehavior = "CANCEL_PROVIDE"
	SelfTradeAbortTransaction SelfTradeBehavior = "ABORT_TRANSACTION"
)

// OrderStatus normalizes venue outcomes into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW" // resting, nothing filled
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
)

// MarketBundle is the account set that identifies one order-book market.
type MarketBundle struct {
	Symbol           string          `json:"symbol"`
	MarketID         address.Address `json:"market_id"`
	RequestQueue     address.Address `json:"request_queue"`
	EventQueue       address.Address `json:"event_queue"`
	Bids             address.Address `json:"bids"`
	Asks             address.Address `json:"asks"`
	BaseVault        address.Address `json:"base_vault"`
	QuoteVault       address.Address `json:"quote_vault"`
	VaultSigner      address.Address `json:"vault_signer"`
	VaultSignerNonce uint8           `json:"vault_signer_nonce"`
	BaseMint         address.Address `json:"base_mint"`
	QuoteMint        address.Address `json:"quote_mint"`
	BaseLotSize      uint64          `json:"base_lot_size"`
	QuoteLotSize     uint64          `json:"quote_lot_size"`
	TakerFeeBps      uint64          `json:"taker_fee_bps"`
}

// OrderRequest captures an order intent sent to a venue. Prices are in
// quote lots per base lot and sizes in base lots.
type OrderRequest struct {
	Market     address.Address
	OpenOrders address.Address
	Owner      address.Address // authority of the open-orders account
	Payer      address.Address // base account for sells, quote account for buys
	Side       Side
	Type       OrderType
	SelfTrade  SelfTradeBehavior
	LimitPrice uint64
	MaxBaseQty uint64
	// MaxQuoteQty caps native quote spent by a buy, fees included. Zero
	// derives it from LimitPrice and MaxBaseQty.
	MaxQuoteQty uint64
	ClientID    uint64
}

// OrderResult returns the venue ack together with the immediate match.
type OrderResult struct {
	OrderID           uint64      `json:"order_id"`
	ClientID          uint64      `json:"client_id"`
	Status            OrderStatus `json:"status"`
	FilledBaseLots    uint64      `json:"filled_base_lots"`
	FilledBaseNative  uint64      `json:"filled_base_native"`
	FilledQuoteNative uint64      `json:"filled_quote_native"` // before fees
	FeeNative         uint64      `json:"fee_native"`
	RestingBaseLots   uint64      `json:"resting_base_lots"`
	Reason            string      `json:"reason,omitempty"`
}

// Settlement is what SettleFunds moved from venue escrow to the wallets.
type Settlement struct {
	BaseNative  uint64 `json:"base_native"`
	QuoteNative uint64 `json:"quote_native"`
}

// RestingOrder is one order on the book owned by an open-orders account.
type RestingOrder struct {
	OrderID   uint64 `json:"order_id"`
	ClientID  uint64 `json:"client_id"`
	Side      Side   `json:"side"`
	PriceLots uint64 `json:"price_lots"`
	BaseLots  uint64 `json:"base_lots"`
}

// OpenOrders is the venue-side account of one owner at one market.
// Totals include locked amounts; free amounts are settleable.
type OpenOrders struct {
	Address    address.Address `json:"address"`
	Market     address.Address `json:"market"`
	Owner      address.Address `json:"owner"`
	BaseFree   uint64          `json:"base_free"`
	BaseTotal  uint64          `json:"base_total"`
	QuoteFree  uint64          `json:"quote_free"`
	QuoteTotal uint64          `json:"quote_total"`
	Orders     []RestingOrder  `json:"orders"`
}

func (o OpenOrders) BaseLocked() uint64  { return o.BaseTotal - o.BaseFree }
func (o OpenOrders) QuoteLocked() uint64 { return o.QuoteTotal - o.QuoteFree }

// Level is an aggregated price level.
type Level struct {
	PriceLots uint64 `json:"price_lots"`
	BaseLots  uint64 `json:"base_lots"`
}

// Depth is a top-of-book snapshot, best levels first.
type Depth struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// BestBid returns the highest bid price, if any.
func (d Depth) BestBid() (uint64, bool) {
	if len(d.Bids) == 0 {
		return 0, false
	}
	return d.Bids[0].PriceLots, true
}

// BestAsk returns the lowest ask price, if any.
func (d Depth) BestAsk() (uint64, bool) {
	if len(d.Asks) == 0 {
		return 0, false
	}
	return d.Asks[0].PriceLots, true
}

// Fill represents a trade between a taker and a resting maker.
type Fill struct {
	Market      address.Address `json:"market"`
	OrderID     uint64          `json:"order_id"`
	OpenOrders  address.Address `json:"open_orders"`
	Side        Side            `json:"side"`
	Maker       bool            `json:"maker"`
	PriceLots   uint64          `json:"price_lots"`
	BaseLots    uint64          `json:"base_lots"`
	QuoteNative uint64          `json:"quote_native"`
	FeeNative   uint64          `json:"fee_native"`
}
