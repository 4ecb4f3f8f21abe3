// Package app assembles the simulated venue, the runtime and the vault
// program from configuration.
package app

import (
	"time"

	"asset-rebalancer/internal/chain"
	"asset-rebalancer/internal/events"
	"asset-rebalancer/internal/market"
	"asset-rebalancer/internal/order"
	"asset-rebalancer/internal/vault"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/config"
	"asset-rebalancer/pkg/oracle"
)

// DefaultProgramID is the address the vault program derives its accounts
// under.
var DefaultProgramID = address.MustParse("BAnFYuoxjdNH3rsLrebcFeAyAwvUYmdHsrmsX4CvBF7U")

// Options select the pieces of a Stack. Zero values pick in-memory defaults.
type Options struct {
	Markets   config.Markets
	ProgramID address.Address
	Orders    order.Config
	Policy    oracle.Policy
	// MinTradeQuote is in native quote units.
	MinTradeQuote uint64
	// Feed overrides the in-memory prices the program reads.
	Feed     oracle.Feed
	Store    chain.Store
	Bus      *events.Bus
	Recorder vault.Recorder
	Clock    func() time.Time
}

// Stack is a ready-to-use rebalancer.
type Stack struct {
	Fixture *market.Fixture
	// Prices holds the seeded quotes; mock feeds and operators write here.
	Prices  *oracle.MemoryFeed
	Feed    oracle.Feed
	Runtime *chain.Runtime
	Program *vault.Program
}

// Build seeds the markets, starts a runtime over them and binds the program.
func Build(opts Options) (*Stack, error) {
	if len(opts.Markets.Assets) == 0 {
		opts.Markets = config.DefaultMarkets()
	}
	if opts.ProgramID.IsZero() {
		opts.ProgramID = DefaultProgramID
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	prices := oracle.NewMemoryFeed()
	fx, err := market.Setup(opts.Markets, prices, opts.Clock())
	if err != nil {
		return nil, err
	}
	feed := opts.Feed
	if feed == nil {
		feed = prices
	}

	rtOpts := []chain.Option{chain.WithClock(opts.Clock)}
	if opts.Store != nil {
		rtOpts = append(rtOpts, chain.WithStore(opts.Store))
	}
	if opts.Bus != nil {
		rtOpts = append(rtOpts, chain.WithBus(opts.Bus))
	}
	rt := chain.NewRuntime(fx.Bank, fx.Exchange, rtOpts...)

	var progOpts []vault.ProgramOption
	if opts.Recorder != nil {
		progOpts = append(progOpts, vault.WithRecorder(opts.Recorder))
	}
	prog, err := vault.NewProgram(vault.Config{
		ProgramID:     opts.ProgramID,
		MarketA:       fx.Assets[0].Market.MarketID,
		MarketB:       fx.Assets[1].Market.MarketID,
		FeedA:         fx.Assets[0].Config.Feed,
		FeedB:         fx.Assets[1].Config.Feed,
		Policy:        opts.Policy,
		MinTradeQuote: opts.MinTradeQuote,
		Orders:        opts.Orders,
	}, rt, feed, progOpts...)
	if err != nil {
		return nil, err
	}
	return &Stack{Fixture: fx, Prices: prices, Feed: feed, Runtime: rt, Program: prog}, nil
}

// OrderConfig maps the configured execution style onto order.Config.
func OrderConfig(style string, maxSlippageBps uint64) (order.Config, error) {
	st, err := order.ParseStyle(style)
	if err != nil {
		return order.Config{}, err
	}
	cfg := order.DefaultConfig()
	cfg.Style, cfg.MaxSlippageBps = st, maxSlippageBps
	return cfg, nil
}
