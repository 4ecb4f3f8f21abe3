package common

import (
	"context"
	"errors"

	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/token"
)

var (
	ErrMarketNotFound     = errors.New("venue: market not found")
	ErrOpenOrdersNotFound = errors.New("venue: open orders account not found")
	ErrOpenOrdersExists   = errors.New("venue: open orders account already exists")
	ErrOpenOrdersNotEmpty = errors.New("venue: open orders account still holds funds or orders")
	ErrOrderNotFound      = errors.New("venue: order not found")
	ErrWrongOwner         = errors.New("venue: signer does not own open orders")
	ErrWouldSelfTrade     = errors.New("venue: order would self trade")
	ErrInvalidOrder       = errors.New("venue: invalid order")
)

// Gateway abstracts an order-book venue with a request/event queue protocol.
// Matches against the taker are applied immediately; maker fills wait in the
// event queue until ConsumeEvents runs.
type Gateway interface {
	Market(market address.Address) (MarketBundle, error)
	Markets() []MarketBundle

	InitOpenOrders(market, openOrders, owner address.Address) error
	CloseOpenOrders(openOrders, owner address.Address) error
	OpenOrders(openOrders address.Address) (OpenOrders, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, openOrders, owner address.Address, orderID uint64) error
	CancelAll(ctx context.Context, openOrders, owner address.Address) (int, error)
	ConsumeEvents(ctx context.Context, market address.Address, limit int) (int, error)
	SettleFunds(ctx context.Context, openOrders, owner, baseWallet, quoteWallet address.Address) (Settlement, error)

	Depth(market address.Address, levels int) (Depth, error)
	PendingEvents(market address.Address) int

	// Fork returns an independent copy of the venue bound to ledger.
	Fork(ledger token.Ledger) Gateway
}
