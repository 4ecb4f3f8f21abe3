package order

import (
	"errors"

	"asset-rebalancer/internal/events"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/oracle"
)

var (
	ErrNoLiquidity      = errors.New("order: no liquidity")
	ErrSlippageExceeded = errors.New("order: slippage exceeded")
	ErrPriceConversion  = errors.New("order: price does not fit venue units")
)

// Style selects how legs are sent to the venue.
type Style string

const (
	// StylePostOnly quotes maker-only orders one tick inside the spread and
	// never pays taker fees; legs converge over several cycles.
	StylePostOnly Style = "post_only"
	// StyleIOC crosses the spread immediately within a slippage bound.
	StyleIOC Style = "ioc"
)

// ParseStyle maps configuration strings to a Style.
func ParseStyle(s string) (Style, error) {
	switch Style(s) {
	case StylePostOnly, StyleIOC:
		return Style(s), nil
	case "":
		return StylePostOnly, nil
	}
	return "", errors.New("order: unknown style " + s)
}

// Config tunes the Executor.
type Config struct {
	Style          Style
	MaxSlippageBps uint64
	SelfTrade      common.SelfTradeBehavior
}

func DefaultConfig() Config {
	return Config{
		Style:          StylePostOnly,
		MaxSlippageBps: 100,
		SelfTrade:      common.SelfTradeAbortTransaction,
	}
}

// Outcome classifies a placed leg.
type Outcome string

const (
	OutcomeFilled          Outcome = "FILLED"
	OutcomePartiallyFilled Outcome = "PARTIALLY_FILLED"
	OutcomeResting         Outcome = "RESTING"
	// OutcomeRejected is a retryable no-op for this cycle.
	OutcomeRejected Outcome = "REJECTED"
	// OutcomeSkipped means the leg rounded to less than one lot.
	OutcomeSkipped Outcome = "SKIPPED"
)

// Route is everything needed to trade one asset of a portfolio against quote.
type Route struct {
	Portfolio     address.Address
	Market        common.MarketBundle
	OpenOrders    address.Address
	Owner         address.Address // vault signer
	BaseWallet    address.Address
	QuoteWallet   address.Address
	BaseDecimals  uint8
	QuoteDecimals uint8
	Price         oracle.PriceQuote
}

// Result is the outcome of one leg.
type Result struct {
	Outcome   Outcome            `json:"outcome"`
	Side      common.Side        `json:"side"`
	Symbol    string             `json:"symbol"`
	PriceLots uint64             `json:"price_lots"`
	BaseLots  uint64             `json:"base_lots"`
	Order     common.OrderResult `json:"order"`
}

// Emitter receives order events; a chain transaction satisfies it.
type Emitter interface {
	Emit(topic events.Event, payload any)
}
