// Package vault is the rebalancer program: it keeps custody of a two-asset
// portfolio in accounts owned by a derived vault signer and trades between
// the assets through two single-asset markets that share a quote asset.
//
// Every instruction runs as one chain transaction, so a failure at any step
// leaves custody, venue escrow and the portfolio account untouched.
package vault

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strings"
	"time"

	"asset-rebalancer/internal/allocation"
	"asset-rebalancer/internal/chain"
	"asset-rebalancer/internal/order"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/oracle"
	"asset-rebalancer/pkg/token"

	"github.com/rs/zerolog/log"
)

// Config binds the program to its markets and feeds.
type Config struct {
	ProgramID address.Address
	MarketA   address.Address
	MarketB   address.Address
	FeedA     string
	FeedB     string
	Policy    oracle.Policy
	// MinTradeQuote is the smallest leg worth trading, in native quote units.
	MinTradeQuote uint64
	Orders        order.Config
}

// Recorder receives instruction metrics.
type Recorder interface {
	ObserveInstruction(op string, latency time.Duration, failureKind string)
	ObserveRebalance(noOp bool, ordersPlaced int)
}

type market struct {
	bundle   common.MarketBundle
	symbol   string
	decimals uint8
}

// Program executes vault instructions on a chain runtime.
type Program struct {
	cfg     Config
	rt      *chain.Runtime
	feed    oracle.Feed
	exec    *order.Executor
	metrics Recorder

	markets       [2]market
	quoteMint     address.Address
	quoteDecimals uint8
}

type ProgramOption func(*Program)

func WithRecorder(r Recorder) ProgramOption { return func(p *Program) { p.metrics = r } }

// NewProgram resolves both markets on the runtime and checks that they share
// a quote mint.
func NewProgram(cfg Config, rt *chain.Runtime, feed oracle.Feed, opts ...ProgramOption) (*Program, error) {
	if cfg.ProgramID.IsZero() {
		return nil, errors.New("vault: program id required")
	}
	if cfg.Policy == (oracle.Policy{}) {
		cfg.Policy = oracle.DefaultPolicy()
	}
	p := &Program{cfg: cfg, rt: rt, feed: feed, exec: order.NewExecutor(cfg.Orders)}
	for _, opt := range opts {
		opt(p)
	}

	var err error
	rt.View(func(v *chain.View) {
		for i, id := range []address.Address{cfg.MarketA, cfg.MarketB} {
			var m market
			if m.bundle, err = v.Venue().Market(id); err != nil {
				return
			}
			mint, mErr := v.Ledger().Mint(m.bundle.BaseMint)
			if mErr != nil {
				err = mErr
				return
			}
			m.decimals = mint.Decimals
			m.symbol, _, _ = strings.Cut(m.bundle.Symbol, "/")
			p.markets[i] = m
		}
		quote, qErr := v.Ledger().Mint(p.markets[0].bundle.QuoteMint)
		if qErr != nil {
			err = qErr
			return
		}
		p.quoteMint, p.quoteDecimals = quote.Address, quote.Decimals
	})
	if err != nil {
		return nil, fmt.Errorf("vault: resolve markets: %w", err)
	}
	if p.markets[1].bundle.QuoteMint != p.quoteMint {
		return nil, errors.New("vault: markets must share a quote mint")
	}
	if p.markets[0].bundle.BaseMint == p.markets[1].bundle.BaseMint {
		return nil, errors.New("vault: markets must trade different assets")
	}
	return p, nil
}

func (p *Program) Config() Config { return p.cfg }

// Markets returns the A and B market bundles.
func (p *Program) Markets() [2]common.MarketBundle {
	return [2]common.MarketBundle{p.markets[0].bundle, p.markets[1].bundle}
}

// execute wraps a runtime transaction with error classification and metrics.
func (p *Program) execute(ctx context.Context, op Op, fn func(tx *chain.Tx) error) (*chain.Receipt, error) {
	start := time.Now()
	rcpt, err := p.rt.Execute(ctx, string(op), fn)
	err = classify(err)
	if p.metrics != nil {
		kind := ""
		if err != nil {
			kind = string(KindOf(err))
		}
		p.metrics.ObserveInstruction(string(op), time.Since(start), kind)
	}
	if err != nil {
		log.Debug().Err(err).Str("op", string(op)).Msg("instruction failed")
		return nil, err
	}
	return rcpt, nil
}

// authorize loads the portfolio, checks ownership, lifecycle and derivations.
func (p *Program) authorize(tx *chain.Tx, owner, portfolio address.Address, op Op) (Portfolio, error) {
	if portfolio.IsZero() {
		addr, _, err := PortfolioAddress(p.cfg.ProgramID, owner)
		if err != nil {
			return Portfolio{}, err
		}
		portfolio = addr
	}
	raw, ok := tx.Account(portfolio)
	if !ok {
		return Portfolio{}, guard(StateUninitialized, op)
	}
	pf, ok := raw.(Portfolio)
	if !ok {
		return Portfolio{}, fmt.Errorf("%w: %s is not a portfolio", ErrInvalidAccount, portfolio)
	}
	if pf.Owner != owner {
		return Portfolio{}, ErrNotOwner
	}
	if err := guard(pf.State, op); err != nil {
		return Portfolio{}, err
	}
	if err := pf.verify(p.cfg.ProgramID); err != nil {
		return Portfolio{}, err
	}
	return pf, nil
}

func (p *Program) route(pf Portfolio, w allocation.Which, price oracle.PriceQuote) order.Route {
	h := pf.holding(w)
	return order.Route{
		Portfolio:     pf.Address,
		Market:        p.markets[w].bundle,
		OpenOrders:    h.OpenOrders,
		Owner:         pf.VaultSigner,
		BaseWallet:    h.Vault,
		QuoteWallet:   pf.QuoteVault,
		BaseDecimals:  h.Decimals,
		QuoteDecimals: pf.QuoteDecimals,
		Price:         price,
	}
}

// Balances is the custody position of one portfolio. A, B and Quote include
// free and locked venue escrow.
type Balances struct {
	A           uint64            `json:"a"`
	B           uint64            `json:"b"`
	Quote       uint64            `json:"quote"`
	VaultA      uint64            `json:"vault_a"`
	VaultB      uint64            `json:"vault_b"`
	VaultQuote  uint64            `json:"vault_quote"`
	OpenOrdersA *common.OpenOrders `json:"open_orders_a,omitempty"`
	OpenOrdersB *common.OpenOrders `json:"open_orders_b,omitempty"`
}

// Resting counts orders still on either book.
func (b Balances) Resting() int {
	n := 0
	for _, oo := range []*common.OpenOrders{b.OpenOrdersA, b.OpenOrdersB} {
		if oo != nil {
			n += len(oo.Orders)
		}
	}
	return n
}

func snapshot(ledger token.Ledger, venue common.Gateway, pf Portfolio) (Balances, error) {
	var (
		b   Balances
		err error
	)
	if b.VaultA, err = ledger.Balance(pf.A.Vault); err != nil {
		return b, err
	}
	if b.VaultB, err = ledger.Balance(pf.B.Vault); err != nil {
		return b, err
	}
	if b.VaultQuote, err = ledger.Balance(pf.QuoteVault); err != nil {
		return b, err
	}
	b.A, b.B, b.Quote = b.VaultA, b.VaultB, b.VaultQuote
	if !pf.State.hasOpenOrders() {
		return b, nil
	}

	ooA, err := venue.OpenOrders(pf.A.OpenOrders)
	if err != nil {
		return b, err
	}
	ooB, err := venue.OpenOrders(pf.B.OpenOrders)
	if err != nil {
		return b, err
	}
	b.OpenOrdersA, b.OpenOrdersB = &ooA, &ooB

	var carry, c uint64
	b.A, carry = bits.Add64(b.A, ooA.BaseTotal, 0)
	b.B, c = bits.Add64(b.B, ooB.BaseTotal, 0)
	carry |= c
	b.Quote, c = bits.Add64(b.Quote, ooA.QuoteTotal, 0)
	carry |= c
	b.Quote, c = bits.Add64(b.Quote, ooB.QuoteTotal, 0)
	carry |= c
	if carry != 0 {
		return b, ErrArithmeticOverflow
	}
	return b, nil
}

func (p *Program) input(pf Portfolio, b Balances, qa, qb oracle.PriceQuote) allocation.Input {
	return allocation.Input{
		A: allocation.Asset{
			Symbol: pf.A.Symbol, Decimals: pf.A.Decimals, Price: qa,
			Held: b.A, LotSize: p.markets[allocation.AssetA].bundle.BaseLotSize,
		},
		B: allocation.Asset{
			Symbol: pf.B.Symbol, Decimals: pf.B.Decimals, Price: qb,
			Held: b.B, LotSize: p.markets[allocation.AssetB].bundle.BaseLotSize,
		},
		QuoteDecimals: pf.QuoteDecimals,
		QuoteHeld:     b.Quote,
		PctA:          pf.A.TargetPct,
		PctB:          pf.B.TargetPct,
		MinTradeQuote: p.cfg.MinTradeQuote,
	}
}

// quotes holds both feed reads, taken before the transaction starts so a
// slow feed never holds the runtime lock.
type quotes struct {
	a, b       oracle.PriceQuote
	errA, errB error
}

func (p *Program) readQuotes(ctx context.Context) quotes {
	var q quotes
	q.a, q.errA = p.feed.ReadPrice(ctx, p.cfg.FeedA)
	q.b, q.errB = p.feed.ReadPrice(ctx, p.cfg.FeedB)
	return q
}

// check applies the price policy at now.
func (q quotes) check(policy oracle.Policy, now time.Time) error {
	for _, c := range []struct {
		feed  string
		quote oracle.PriceQuote
		err   error
	}{{"A", q.a, q.errA}, {"B", q.b, q.errB}} {
		err := c.err
		if err == nil {
			err = policy.Check(c.quote, now)
		}
		if err != nil {
			if s := sentinelFor(err); s != nil {
				return fmt.Errorf("%w: asset %s: %w", s, c.feed, err)
			}
			return fmt.Errorf("%w: asset %s: %w", ErrStalePrice, c.feed, err)
		}
	}
	return nil
}

// CrankMarkets drains both markets' event queues.
func (p *Program) CrankMarkets(ctx context.Context) (int, error) {
	total := 0
	_, err := p.execute(ctx, "crank", func(tx *chain.Tx) error {
		for _, m := range p.markets {
			n, err := tx.Venue().ConsumeEvents(tx.Context(), m.bundle.MarketID, 0)
			if err != nil {
				return fmt.Errorf("crank %s: %w", m.bundle.Symbol, err)
			}
			total += n
		}
		return nil
	})
	return total, err
}

// Portfolio returns the committed portfolio account of owner.
func (p *Program) Portfolio(owner address.Address) (Portfolio, bool) {
	addr, _, err := PortfolioAddress(p.cfg.ProgramID, owner)
	if err != nil {
		return Portfolio{}, false
	}
	var (
		pf Portfolio
		ok bool
	)
	p.rt.View(func(v *chain.View) {
		if raw, found := v.Account(addr); found {
			pf, ok = raw.(Portfolio)
		}
	})
	return pf, ok
}

// Portfolios lists every portfolio account, ordered by address.
func (p *Program) Portfolios() []Portfolio {
	var out []Portfolio
	p.rt.View(func(v *chain.View) {
		v.Accounts(func(_ address.Address, a any) {
			if pf, ok := a.(Portfolio); ok {
				out = append(out, pf)
			}
		})
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out
}

// Position is a read-only view of a portfolio with balances and the
// valuation at the last stored prices.
type Position struct {
	Portfolio Portfolio            `json:"portfolio"`
	Balances  Balances             `json:"balances"`
	Valuation allocation.Valuation `json:"valuation"`
	PctA      uint16               `json:"pct_a"`
	PctB      uint16               `json:"pct_b"`
}

// Position reports owner's custody and last valuation.
func (p *Program) Position(owner address.Address) (Position, error) {
	pf, ok := p.Portfolio(owner)
	if !ok || pf.State == StateWithdrawn {
		return Position{}, fmt.Errorf("%w: no active portfolio", ErrWrongLifecycle)
	}
	pos := Position{Portfolio: pf}
	var err error
	p.rt.View(func(v *chain.View) {
		pos.Balances, err = snapshot(v.Ledger(), v.Venue(), pf)
	})
	if err != nil {
		return pos, classify(err)
	}
	if pf.A.LastPrice.Price > 0 && pf.B.LastPrice.Price > 0 {
		if pos.Valuation, err = allocation.Value(p.input(pf, pos.Balances, pf.A.LastPrice, pf.B.LastPrice)); err != nil {
			return pos, classify(err)
		}
		pos.PctA, pos.PctB = pos.Valuation.Percentages()
	}
	return pos, nil
}
