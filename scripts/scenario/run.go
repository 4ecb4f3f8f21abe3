package main

import (
	"fmt"
	"io"

	"asset-rebalancer/internal/app"
	"asset-rebalancer/internal/market"
	"asset-rebalancer/internal/vault"
	"asset-rebalancer/pkg/address"

	"github.com/spf13/cobra"
)

var (
	runPctA     uint16
	runAmountA  string
	runAmountB  string
	runStyle    string
	runSlippage uint64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Deposit, init accounts, rebalance and withdraw one wallet",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runPctA > 1000 {
			return fmt.Errorf("--pct-a must be at most 1000")
		}
		orders, err := app.OrderConfig(runStyle, runSlippage)
		if err != nil {
			return err
		}
		stack, err := buildStack(app.Options{Orders: orders})
		if err != nil {
			return err
		}
		return runScenario(cmd, stack)
	},
}

func init() {
	runCmd.Flags().Uint16Var(&runPctA, "pct-a", 300, "target share of asset A in tenths of a percent")
	runCmd.Flags().StringVar(&runAmountA, "amount-a", "1000", "asset A to fund and deposit")
	runCmd.Flags().StringVar(&runAmountB, "amount-b", "1000", "asset B to fund and deposit")
	runCmd.Flags().StringVar(&runStyle, "style", "ioc", "order style: ioc or post_only")
	runCmd.Flags().Uint64Var(&runSlippage, "slippage-bps", 100, "max IOC slippage from the oracle price")
}

func runScenario(cmd *cobra.Command, stack *app.Stack) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	fx, prog := stack.Fixture, stack.Program
	a, b := fx.Assets[0], fx.Assets[1]

	kp, err := address.NewKeypair()
	if err != nil {
		return err
	}
	owner := kp.Public

	amountA, err := market.Native(runAmountA, a.Config.Decimals)
	if err != nil {
		return fmt.Errorf("amount-a: %w", err)
	}
	amountB, err := market.Native(runAmountB, b.Config.Decimals)
	if err != nil {
		return fmt.Errorf("amount-b: %w", err)
	}
	userA, err := fx.Faucet(ctx, stack.Runtime, owner, a.Mint, amountA)
	if err != nil {
		return err
	}
	userB, err := fx.Faucet(ctx, stack.Runtime, owner, b.Mint, amountB)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wallet %s funded with %s %s and %s %s\n\n", owner, runAmountA, a.Config.Symbol, runAmountB, b.Config.Symbol)

	pf, err := prog.Deposit(ctx, vault.DepositRequest{
		Owner: owner, PctA: runPctA, PctB: 1000 - runPctA,
		UserA: userA, UserB: userB,
	})
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	fmt.Fprintf(out, "deposit        portfolio %s  state %s\n", pf.Address.Short(), pf.State)

	if pf, err = prog.InitAccounts(ctx, vault.InitAccountsRequest{Owner: owner}); err != nil {
		return fmt.Errorf("init accounts: %w", err)
	}
	fmt.Fprintf(out, "init_accounts  open orders %s / %s  state %s\n", pf.A.OpenOrders.Short(), pf.B.OpenOrders.Short(), pf.State)

	before, err := prog.Position(owner)
	if err != nil {
		return err
	}
	printPosition(out, "before", before)

	res, err := prog.Rebalance(ctx, vault.RebalanceRequest{Owner: owner})
	if err != nil {
		return fmt.Errorf("rebalance: %w", err)
	}
	ev := res.Event
	fmt.Fprintf(out, "rebalance      seq %d  no_op %t  orders %d\n", ev.Sequence, ev.NoOp, ev.OrdersPlaced)
	for _, leg := range res.Legs {
		fmt.Fprintf(out, "  %-4s %-10s %-16s lots %d @ %d  filled %d\n",
			leg.Side, leg.Symbol, leg.Outcome, leg.BaseLots, leg.PriceLots, leg.Order.FilledBaseLots)
	}

	if n, err := prog.CrankMarkets(ctx); err != nil {
		return fmt.Errorf("crank: %w", err)
	} else if n > 0 {
		fmt.Fprintf(out, "crank          consumed %d events\n", n)
	}

	after, err := prog.Position(owner)
	if err != nil {
		return err
	}
	printPosition(out, "after", after)

	w, err := prog.Withdraw(ctx, vault.WithdrawRequest{Owner: owner, ForceCancel: true})
	if err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	fmt.Fprintf(out, "withdraw       %s %s  %s %s  %s %s  canceled %d\n",
		market.Format(w.AmountA, a.Config.Decimals), a.Config.Symbol,
		market.Format(w.AmountB, b.Config.Decimals), b.Config.Symbol,
		market.Format(w.AmountQuote, fx.QuoteDecimals), fx.QuoteSymbol,
		w.Canceled)
	return nil
}

func printPosition(out io.Writer, label string, pos vault.Position) {
	pf := pos.Portfolio
	fmt.Fprintf(out, "%-14s %s %s  %s %s  %s quote  worth %s  split %d/%d\n",
		label,
		market.Format(pos.Balances.A, pf.A.Decimals), pf.A.Symbol,
		market.Format(pos.Balances.B, pf.B.Decimals), pf.B.Symbol,
		market.Format(pos.Balances.Quote, pf.QuoteDecimals),
		market.Format(pos.Valuation.Total, pf.QuoteDecimals),
		pos.PctA, pos.PctB)
}
