package vault

import (
	"context"
	"errors"
	"fmt"

	"asset-rebalancer/internal/allocation"
	"asset-rebalancer/internal/chain"
	"asset-rebalancer/internal/events"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/token"

	"github.com/rs/zerolog/log"
)

// DepositRequest funds a new portfolio from the owner's token accounts.
type DepositRequest struct {
	Owner     address.Address
	PctA      uint16
	PctB      uint16
	UserA     address.Address
	UserB     address.Address
	UserQuote address.Address // optional, checked when set
	// AmountA and AmountB move the full balance when zero.
	AmountA       uint64
	AmountB       uint64
	AutoRebalance bool
}

// Deposit moves the owner's A and B into fresh vault accounts, creates the
// unfunded quote vault and records the targets.
func (p *Program) Deposit(ctx context.Context, req DepositRequest) (Portfolio, error) {
	addrs, err := Derive(p.cfg.ProgramID, req.Owner)
	if err != nil {
		return Portfolio{}, classify(err)
	}
	q := p.readQuotes(ctx)

	var out Portfolio
	_, err = p.execute(ctx, OpDeposit, func(tx *chain.Tx) error {
		if err := allocation.ValidatePercentages(req.PctA, req.PctB); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPercentages, err)
		}
		state := StateUninitialized
		if raw, ok := tx.Account(addrs.Portfolio); ok {
			prev, ok := raw.(Portfolio)
			if !ok {
				return fmt.Errorf("%w: %s is not a portfolio", ErrInvalidAccount, addrs.Portfolio)
			}
			if prev.Owner != req.Owner {
				return ErrNotOwner
			}
			state = prev.State
		}
		if err := guard(state, OpDeposit); err != nil {
			return err
		}

		ledger := tx.Ledger()
		mA, mB := p.markets[allocation.AssetA], p.markets[allocation.AssetB]
		amountA, err := userAmount(ledger, req.UserA, mA.bundle.BaseMint, req.Owner, req.AmountA)
		if err != nil {
			return fmt.Errorf("token A: %w", err)
		}
		amountB, err := userAmount(ledger, req.UserB, mB.bundle.BaseMint, req.Owner, req.AmountB)
		if err != nil {
			return fmt.Errorf("token B: %w", err)
		}
		if amountA == 0 && amountB == 0 {
			return fmt.Errorf("%w: both balances are empty", ErrInsufficientFunds)
		}
		if !req.UserQuote.IsZero() {
			if _, err := userAmount(ledger, req.UserQuote, p.quoteMint, req.Owner, 0); err != nil {
				return fmt.Errorf("quote: %w", err)
			}
		}

		for _, v := range []struct {
			vault, mint, from address.Address
			amount            uint64
		}{
			{addrs.VaultA, mA.bundle.BaseMint, req.UserA, amountA},
			{addrs.VaultB, mB.bundle.BaseMint, req.UserB, amountB},
			{addrs.QuoteVault, p.quoteMint, address.Zero, 0},
		} {
			if err := ledger.CreateAccount(v.vault, v.mint, addrs.VaultSigner); err != nil {
				return fmt.Errorf("create vault %s: %w", v.vault.Short(), err)
			}
			if v.amount == 0 {
				continue
			}
			if err := ledger.Transfer(v.from, v.vault, req.Owner, v.amount); err != nil {
				return fmt.Errorf("fund vault %s: %w", v.vault.Short(), err)
			}
		}

		now := tx.Now().Unix()
		pf := Portfolio{
			Address:         addrs.Portfolio,
			Bump:            addrs.PortfolioBump,
			Owner:           req.Owner,
			VaultSigner:     addrs.VaultSigner,
			VaultSignerBump: addrs.VaultSignerBump,
			A: Holding{
				Symbol: mA.symbol, Mint: mA.bundle.BaseMint, Decimals: mA.decimals,
				Vault: addrs.VaultA, VaultBump: addrs.VaultABump,
				Market: mA.bundle.MarketID, Feed: p.cfg.FeedA, TargetPct: req.PctA,
			},
			B: Holding{
				Symbol: mB.symbol, Mint: mB.bundle.BaseMint, Decimals: mB.decimals,
				Vault: addrs.VaultB, VaultBump: addrs.VaultBBump,
				Market: mB.bundle.MarketID, Feed: p.cfg.FeedB, TargetPct: req.PctB,
			},
			QuoteMint:      p.quoteMint,
			QuoteDecimals:  p.quoteDecimals,
			QuoteVault:     addrs.QuoteVault,
			QuoteVaultBump: addrs.QuoteVaultBump,
			State:          StateFunded,
			AutoRebalance:  req.AutoRebalance,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		// prices are informational here; a stale feed does not block funding
		if q.check(p.cfg.Policy, tx.Now()) == nil {
			pf.A.LastPrice, pf.B.LastPrice, pf.LastPriceUpdate = q.a, q.b, now
		}

		tx.SetAccount(pf.Address, pf)
		tx.Emit(events.EventDeposited, events.PortfolioChanged{
			Portfolio: pf.Address.String(),
			Owner:     pf.Owner.String(),
			State:     string(pf.State),
			AmountA:   amountA,
			AmountB:   amountB,
			At:        now,
		})
		out = pf
		return nil
	})
	if err != nil {
		return Portfolio{}, err
	}
	log.Info().Str("portfolio", out.Address.String()).Str("owner", out.Owner.String()).
		Uint16("pct_a", out.A.TargetPct).Uint16("pct_b", out.B.TargetPct).Msg("portfolio funded")
	return out, nil
}

// userAmount checks that acct holds mint for owner and resolves the amount
// to move; zero requested means everything.
func userAmount(ledger token.Ledger, acct, mint, owner address.Address, requested uint64) (uint64, error) {
	a, err := ledger.Account(acct)
	if errors.Is(err, token.ErrAccountNotFound) {
		return 0, fmt.Errorf("%w: %s not found", ErrInvalidAccount, acct.Short())
	}
	if err != nil {
		return 0, err
	}
	if a.Mint != mint {
		return 0, fmt.Errorf("%w: %s holds mint %s", ErrInvalidAccount, acct.Short(), a.Mint.Short())
	}
	if a.Owner != owner {
		return 0, fmt.Errorf("%w: %s is not owned by the depositor", ErrInvalidAccount, acct.Short())
	}
	if requested == 0 {
		return a.Amount, nil
	}
	if requested > a.Amount {
		return 0, fmt.Errorf("%w: want %d, have %d", ErrInsufficientFunds, requested, a.Amount)
	}
	return requested, nil
}
