package events

import "time"

// Event enumerates topics published by the rebalancer.
type Event string

const (
	EventPriceTick             Event = "price_tick"
	EventDeposited             Event = "portfolio.deposited"
	EventOpenOrdersInitialized Event = "portfolio.open_orders_initialized"
	EventOpenOrdersClosed      Event = "portfolio.open_orders_closed"
	EventPricesRefreshed       Event = "portfolio.prices_refreshed"
	EventAssetsBalanced        Event = "portfolio.assets_balanced"
	EventWithdrawn             Event = "portfolio.withdrawn"
	EventOrderPlaced           Event = "order.placed"
	EventOrderFilled           Event = "order.filled"
	EventOrderRejected         Event = "order.rejected"
	EventOrderCanceled         Event = "order.canceled"
	EventFundsSettled          Event = "order.settled"
)

// Envelope wraps a payload with the transaction that produced it.
type Envelope struct {
	ID        string    `json:"id"`
	TxID      string    `json:"tx_id"`
	Topic     Event     `json:"topic"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// PriceTick is published by price feeds outside of transactions.
type PriceTick struct {
	Feed        string `json:"feed"`
	Price       int64  `json:"price"`
	Expo        int32  `json:"expo"`
	Conf        uint64 `json:"conf"`
	PublishTime int64  `json:"publish_time"`
}

// AssetsBalanced reports the outcome of one rebalance call. Worths are in
// native units of the quote asset.
type AssetsBalanced struct {
	Portfolio        string `json:"portfolio"`
	Owner            string `json:"owner"`
	Sequence         uint64 `json:"sequence"`
	NewTokenAWorth   uint64 `json:"new_token_a_worth"`
	NewTokenBWorth   uint64 `json:"new_token_b_worth"`
	QuoteWorth       uint64 `json:"quote_worth"`
	TokenAPercentage uint16 `json:"token_a_percentage"`
	TokenBPercentage uint16 `json:"token_b_percentage"`
	OrdersPlaced     int    `json:"orders_placed"`
	NoOp             bool   `json:"no_op"`
	At               int64  `json:"at"`
}

// PortfolioChanged covers deposit, init, refresh, close and withdraw.
type PortfolioChanged struct {
	Portfolio string `json:"portfolio"`
	Owner     string `json:"owner"`
	State     string `json:"state"`
	AmountA   uint64 `json:"amount_a,omitempty"`
	AmountB   uint64 `json:"amount_b,omitempty"`
	AmountQ   uint64 `json:"amount_quote,omitempty"`
	At        int64  `json:"at"`
}

// OrderUpdate describes one venue interaction made on behalf of a portfolio.
type OrderUpdate struct {
	Portfolio   string `json:"portfolio"`
	Market      string `json:"market"`
	Symbol      string `json:"symbol"`
	OrderID     uint64 `json:"order_id"`
	ClientID    string `json:"client_id"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	PriceLots   uint64 `json:"price_lots"`
	BaseLots    uint64 `json:"base_lots"`
	FilledLots  uint64 `json:"filled_lots"`
	FilledBase  uint64 `json:"filled_base"`
	FilledQuote uint64 `json:"filled_quote"`
	Fee         uint64 `json:"fee"`
	Reason      string `json:"reason,omitempty"`
	At          int64  `json:"at"`
}

// Settled reports funds moved from venue escrow back into vault accounts.
type Settled struct {
	Portfolio string `json:"portfolio"`
	Market    string `json:"market"`
	Base      uint64 `json:"base"`
	Quote     uint64 `json:"quote"`
	At        int64  `json:"at"`
}
