// Package orderbook is an in-memory central limit order book venue with a
// request queue, an event queue for maker fills, open-orders escrow accounts
// and settlement through market vaults owned by a derived signer.
package orderbook

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/token"
)

// ProgramID is the address market vault signers are derived under.
var ProgramID = address.MustParse("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin")

type order struct {
	id       uint64
	clientID uint64
	owner    address.Address // open orders account
	side     common.Side
	price    uint64
	qty      uint64 // remaining base lots
}

type fillEvent struct {
	maker    address.Address
	orderID  uint64
	side     common.Side // maker side
	baseLots uint64
	quote    uint64
	price    uint64
}

type book struct {
	bundle   common.MarketBundle
	bids     []*order // best first: price desc, then id asc
	asks     []*order // best first: price asc, then id asc
	events   []fillEvent
	requests uint64
	fees     uint64
}

// Exchange implements common.Gateway over a token.Ledger.
type Exchange struct {
	mu          sync.RWMutex
	ledger      token.Ledger
	markets     map[address.Address]*book
	openOrders  map[address.Address]*escrow
	nextOrderID uint64
}

func New(ledger token.Ledger) *Exchange {
	return &Exchange{
		ledger:     ledger,
		markets:    make(map[address.Address]*book),
		openOrders: make(map[address.Address]*escrow),
	}
}

// MarketParams configures ListMarket.
type MarketParams struct {
	Symbol       string
	BaseMint     address.Address
	QuoteMint    address.Address
	BaseLotSize  uint64
	QuoteLotSize uint64
	TakerFeeBps  uint64
}

// ListMarket creates a market and its two vaults.
func (e *Exchange) ListMarket(p MarketParams) (common.MarketBundle, error) {
	if p.BaseLotSize == 0 || p.QuoteLotSize == 0 {
		return common.MarketBundle{}, fmt.Errorf("%w: lot sizes must be positive", common.ErrInvalidOrder)
	}
	if p.TakerFeeBps >= 10_000 {
		return common.MarketBundle{}, fmt.Errorf("%w: fee %d bps", common.ErrInvalidOrder, p.TakerFeeBps)
	}
	marketID := address.NewUnique()
	signer, nonce, err := address.FindProgramAddress([][]byte{marketID[:]}, ProgramID)
	if err != nil {
		return common.MarketBundle{}, err
	}
	b := common.MarketBundle{
		Symbol:           p.Symbol,
		MarketID:         marketID,
		RequestQueue:     address.NewUnique(),
		EventQueue:       address.NewUnique(),
		Bids:             address.NewUnique(),
		Asks:             address.NewUnique(),
		BaseVault:        address.NewUnique(),
		QuoteVault:       address.NewUnique(),
		VaultSigner:      signer,
		VaultSignerNonce: nonce,
		BaseMint:         p.BaseMint,
		QuoteMint:        p.QuoteMint,
		BaseLotSize:      p.BaseLotSize,
		QuoteLotSize:     p.QuoteLotSize,
		TakerFeeBps:      p.TakerFeeBps,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ledger.CreateAccount(b.BaseVault, p.BaseMint, signer); err != nil {
		return common.MarketBundle{}, fmt.Errorf("create base vault: %w", err)
	}
	if err := e.ledger.CreateAccount(b.QuoteVault, p.QuoteMint, signer); err != nil {
		return common.MarketBundle{}, fmt.Errorf("create quote vault: %w", err)
	}
	e.markets[marketID] = &book{bundle: b}
	return b, nil
}

// Fork deep-copies books, escrow and queues and binds the copy to ledger.
func (e *Exchange) Fork(ledger token.Ledger) common.Gateway {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ne := &Exchange{
		ledger:      ledger,
		markets:     make(map[address.Address]*book, len(e.markets)),
		openOrders:  make(map[address.Address]*escrow, len(e.openOrders)),
		nextOrderID: e.nextOrderID,
	}
	for id, bk := range e.markets {
		nb := &book{
			bundle:   bk.bundle,
			bids:     copyOrders(bk.bids),
			asks:     copyOrders(bk.asks),
			events:   append([]fillEvent(nil), bk.events...),
			requests: bk.requests,
			fees:     bk.fees,
		}
		ne.markets[id] = nb
	}
	for id, oo := range e.openOrders {
		c := *oo
		ne.openOrders[id] = &c
	}
	return ne
}

func copyOrders(in []*order) []*order {
	out := make([]*order, len(in))
	for i, o := range in {
		c := *o
		out[i] = &c
	}
	return out
}

func (e *Exchange) Market(market address.Address) (common.MarketBundle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	bk, ok := e.markets[market]
	if !ok {
		return common.MarketBundle{}, fmt.Errorf("%w: %s", common.ErrMarketNotFound, market)
	}
	return bk.bundle, nil
}

// Markets lists markets ordered by symbol.
func (e *Exchange) Markets() []common.MarketBundle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]common.MarketBundle, 0, len(e.markets))
	for _, bk := range e.markets {
		out = append(out, bk.bundle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (e *Exchange) InitOpenOrders(market, openOrders, owner address.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.markets[market]; !ok {
		return fmt.Errorf("%w: %s", common.ErrMarketNotFound, market)
	}
	if _, ok := e.openOrders[openOrders]; ok {
		return fmt.Errorf("%w: %s", common.ErrOpenOrdersExists, openOrders)
	}
	e.openOrders[openOrders] = &escrow{addr: openOrders, market: market, owner: owner}
	return nil
}

func (e *Exchange) CloseOpenOrders(openOrders, owner address.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	oo, err := e.ownedLocked(openOrders, owner)
	if err != nil {
		return err
	}
	bk := e.markets[oo.market]
	if !oo.empty() || len(bk.restingOf(openOrders)) > 0 || bk.pendingFor(openOrders) {
		return common.ErrOpenOrdersNotEmpty
	}
	delete(e.openOrders, openOrders)
	return nil
}

func (e *Exchange) OpenOrders(openOrders address.Address) (common.OpenOrders, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	oo, ok := e.openOrders[openOrders]
	if !ok {
		return common.OpenOrders{}, fmt.Errorf("%w: %s", common.ErrOpenOrdersNotFound, openOrders)
	}
	view := oo.view()
	view.Orders = e.markets[oo.market].restingOf(openOrders)
	return view, nil
}

func (e *Exchange) ownedLocked(openOrders, owner address.Address) (*escrow, error) {
	oo, ok := e.openOrders[openOrders]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrOpenOrdersNotFound, openOrders)
	}
	if oo.owner != owner {
		return nil, common.ErrWrongOwner
	}
	return oo, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, openOrders, owner address.Address, orderID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	oo, err := e.ownedLocked(openOrders, owner)
	if err != nil {
		return err
	}
	bk := e.markets[oo.market]
	o := bk.remove(orderID)
	if o == nil || o.owner != openOrders {
		if o != nil {
			bk.insert(o)
		}
		return fmt.Errorf("%w: %d", common.ErrOrderNotFound, orderID)
	}
	return bk.release(oo, o)
}

// CancelAll cancels every resting order of openOrders and returns how many
// were removed.
func (e *Exchange) CancelAll(ctx context.Context, openOrders, owner address.Address) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	oo, err := e.ownedLocked(openOrders, owner)
	if err != nil {
		return 0, err
	}
	bk := e.markets[oo.market]
	n := 0
	for _, r := range bk.restingOf(openOrders) {
		o := bk.remove(r.OrderID)
		if err := bk.release(oo, o); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ConsumeEvents applies up to limit queued maker fills; limit <= 0 drains
// the queue.
func (e *Exchange) ConsumeEvents(ctx context.Context, market address.Address, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	bk, ok := e.markets[market]
	if !ok {
		return 0, fmt.Errorf("%w: %s", common.ErrMarketNotFound, market)
	}
	n := len(bk.events)
	if limit > 0 && limit < n {
		n = limit
	}
	for _, ev := range bk.events[:n] {
		oo, ok := e.openOrders[ev.maker]
		if !ok {
			return 0, fmt.Errorf("%w: maker %s", common.ErrOpenOrdersNotFound, ev.maker)
		}
		if err := oo.applyMakerFill(ev, bk.bundle); err != nil {
			return 0, err
		}
	}
	bk.events = bk.events[n:]
	return n, nil
}

func (e *Exchange) PendingEvents(market address.Address) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if bk, ok := e.markets[market]; ok {
		return len(bk.events)
	}
	return 0
}

// SettleFunds moves free escrow balances out of the market vaults.
func (e *Exchange) SettleFunds(ctx context.Context, openOrders, owner, baseWallet, quoteWallet address.Address) (common.Settlement, error) {
	if err := ctx.Err(); err != nil {
		return common.Settlement{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	oo, err := e.ownedLocked(openOrders, owner)
	if err != nil {
		return common.Settlement{}, err
	}
	b := e.markets[oo.market].bundle
	var s common.Settlement
	if oo.baseFree > 0 {
		if err := e.ledger.Transfer(b.BaseVault, baseWallet, b.VaultSigner, oo.baseFree); err != nil {
			return common.Settlement{}, fmt.Errorf("settle base: %w", err)
		}
		s.BaseNative = oo.baseFree
		oo.baseTotal -= oo.baseFree
		oo.baseFree = 0
	}
	if oo.quoteFree > 0 {
		if err := e.ledger.Transfer(b.QuoteVault, quoteWallet, b.VaultSigner, oo.quoteFree); err != nil {
			return common.Settlement{}, fmt.Errorf("settle quote: %w", err)
		}
		s.QuoteNative = oo.quoteFree
		oo.quoteTotal -= oo.quoteFree
		oo.quoteFree = 0
	}
	return s, nil
}

// Depth aggregates the best levels of both sides; levels <= 0 returns all.
func (e *Exchange) Depth(market address.Address, levels int) (common.Depth, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	bk, ok := e.markets[market]
	if !ok {
		return common.Depth{}, fmt.Errorf("%w: %s", common.ErrMarketNotFound, market)
	}
	return common.Depth{Bids: aggregate(bk.bids, levels), Asks: aggregate(bk.asks, levels)}, nil
}

func aggregate(side []*order, levels int) []common.Level {
	var out []common.Level
	for _, o := range side {
		if n := len(out); n > 0 && out[n-1].PriceLots == o.price {
			out[n-1].BaseLots += o.qty
			continue
		}
		if levels > 0 && len(out) == levels {
			break
		}
		out = append(out, common.Level{PriceLots: o.price, BaseLots: o.qty})
	}
	return out
}

// FeesAccrued returns taker fees collected by a market, in quote native.
func (e *Exchange) FeesAccrued(market address.Address) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if bk, ok := e.markets[market]; ok {
		return bk.fees
	}
	return 0
}
