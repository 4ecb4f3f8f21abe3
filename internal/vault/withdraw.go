package vault

import (
	"context"
	"fmt"

	"asset-rebalancer/internal/allocation"
	"asset-rebalancer/internal/chain"
	"asset-rebalancer/internal/events"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/token"

	"github.com/rs/zerolog/log"
)

// WithdrawRequest sweeps a portfolio back to its owner. Destination accounts
// default to the owner's associated accounts, created when missing.
type WithdrawRequest struct {
	Owner     address.Address
	Portfolio address.Address
	UserA     address.Address
	UserB     address.Address
	UserQuote address.Address
	// ForceCancel cancels resting orders instead of failing with
	// ErrOrdersStillOpen.
	ForceCancel bool
}

// WithdrawResult reports what was returned to the owner.
type WithdrawResult struct {
	Portfolio   string `json:"portfolio"`
	AmountA     uint64 `json:"amount_a"`
	AmountB     uint64 `json:"amount_b"`
	AmountQuote uint64 `json:"amount_quote"`
	Canceled    int    `json:"canceled"`
	TxID        string `json:"tx_id"`
}

// Withdraw returns all three vault balances to the owner, closes the vault
// and venue accounts and leaves a Withdrawn tombstone. A second call fails
// with ErrNothingToWithdraw.
func (p *Program) Withdraw(ctx context.Context, req WithdrawRequest) (WithdrawResult, error) {
	var res WithdrawResult
	rcpt, err := p.execute(ctx, OpWithdraw, func(tx *chain.Tx) error {
		res = WithdrawResult{}
		pf, err := p.authorize(tx, req.Owner, req.Portfolio, OpWithdraw)
		if err != nil {
			return err
		}
		res.Portfolio = pf.Address.String()

		if pf.State.hasOpenOrders() {
			if err := p.checkResting(tx, pf, req.ForceCancel); err != nil {
				return err
			}
			if res.Canceled, err = p.unwind(tx, pf); err != nil {
				return err
			}
		}

		ledger := tx.Ledger()
		for _, s := range []struct {
			vault, mint, dest address.Address
			amount            *uint64
		}{
			{pf.A.Vault, pf.A.Mint, req.UserA, &res.AmountA},
			{pf.B.Vault, pf.B.Mint, req.UserB, &res.AmountB},
			{pf.QuoteVault, pf.QuoteMint, req.UserQuote, &res.AmountQuote},
		} {
			dest, err := destination(ledger, pf.Owner, s.mint, s.dest)
			if err != nil {
				return err
			}
			bal, err := ledger.Balance(s.vault)
			if err != nil {
				return err
			}
			if bal > 0 {
				if err := ledger.Transfer(s.vault, dest, pf.VaultSigner, bal); err != nil {
					return fmt.Errorf("sweep %s: %w", s.vault.Short(), err)
				}
			}
			if err := ledger.CloseAccount(s.vault, pf.VaultSigner); err != nil {
				return fmt.Errorf("close vault %s: %w", s.vault.Short(), err)
			}
			*s.amount = bal
		}

		now := tx.Now().Unix()
		tx.SetAccount(pf.Address, pf.tombstone(now))
		tx.Emit(events.EventWithdrawn, events.PortfolioChanged{
			Portfolio: pf.Address.String(),
			Owner:     pf.Owner.String(),
			State:     string(StateWithdrawn),
			AmountA:   res.AmountA,
			AmountB:   res.AmountB,
			AmountQ:   res.AmountQuote,
			At:        now,
		})
		return nil
	})
	if err != nil {
		return WithdrawResult{}, err
	}
	res.TxID = rcpt.TxID
	log.Info().Str("portfolio", res.Portfolio).
		Uint64("amount_a", res.AmountA).Uint64("amount_b", res.AmountB).Uint64("amount_quote", res.AmountQuote).
		Int("canceled", res.Canceled).Msg("portfolio withdrawn")
	return res, nil
}

// checkResting cranks both markets and refuses to continue while orders rest
// unless force is set.
func (p *Program) checkResting(tx *chain.Tx, pf Portfolio, force bool) error {
	resting := 0
	for _, w := range []allocation.Which{allocation.AssetA, allocation.AssetB} {
		r := p.route(pf, w, pf.holding(w).LastPrice)
		if _, err := p.exec.Crank(tx.Context(), tx.Venue(), r); err != nil {
			return err
		}
		oo, err := tx.Venue().OpenOrders(r.OpenOrders)
		if err != nil {
			return err
		}
		resting += len(oo.Orders)
	}
	if resting > 0 && !force {
		return fmt.Errorf("%w: %d resting", ErrOrdersStillOpen, resting)
	}
	return nil
}

// destination resolves where a swept balance goes. The owner's associated
// account is created on demand.
func destination(ledger token.Ledger, owner, mint, requested address.Address) (address.Address, error) {
	assoc, err := token.AssociatedAddress(owner, mint)
	if err != nil {
		return address.Zero, err
	}
	if !requested.IsZero() && requested != assoc {
		if _, err := userAmount(ledger, requested, mint, owner, 0); err != nil {
			return address.Zero, err
		}
		return requested, nil
	}
	return ledger.CreateAssociatedAccount(owner, mint)
}
