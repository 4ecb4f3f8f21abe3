package main

import (
	"fmt"

	"asset-rebalancer/internal/app"
	"asset-rebalancer/internal/chain"
	"asset-rebalancer/internal/market"
	"asset-rebalancer/pkg/exchanges/common"

	"github.com/spf13/cobra"
)

var marketLevels int

var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "Print the seeded order books",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := buildStack(app.Options{})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fx := stack.Fixture
		for _, a := range fx.Assets {
			var (
				depth common.Depth
				err   error
			)
			stack.Runtime.View(func(v *chain.View) { depth, err = v.Venue().Depth(a.Market.MarketID, marketLevels) })
			if err != nil {
				return err
			}
			q, err := stack.Feed.ReadPrice(cmd.Context(), a.Config.Feed)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s  market %s  oracle %s (%s)\n", a.Market.Symbol, a.Market.MarketID.Short(), market.DisplayPrice(q), a.Config.Feed)
			fmt.Fprintf(out, "  %-14s %-14s | %-14s %-14s\n", "bid size", "bid", "ask", "ask size")
			for i := 0; i < len(depth.Bids) || i < len(depth.Asks); i++ {
				var bp, bs, ap, as string
				if i < len(depth.Bids) {
					bp = market.LotsPrice(depth.Bids[i].PriceLots, a.Config.Decimals, fx.QuoteDecimals, a.Market)
					bs = market.LotsSize(depth.Bids[i].BaseLots, a.Config.Decimals, a.Market)
				}
				if i < len(depth.Asks) {
					ap = market.LotsPrice(depth.Asks[i].PriceLots, a.Config.Decimals, fx.QuoteDecimals, a.Market)
					as = market.LotsSize(depth.Asks[i].BaseLots, a.Config.Decimals, a.Market)
				}
				fmt.Fprintf(out, "  %-14s %-14s | %-14s %-14s\n", bs, bp, ap, as)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	marketsCmd.Flags().IntVar(&marketLevels, "levels", 5, "levels per side")
}
