// scenario drives the rebalancer end to end against the seeded in-memory
// markets. It does not touch the database or the network.
//
// Usage (from the repository root):
//
//	go run ./scripts/scenario run --pct-a 300 --amount-a 1000 --amount-b 1000
//	go run ./scripts/scenario markets --levels 5
package main

import (
	"fmt"
	"os"

	"asset-rebalancer/internal/app"
	"asset-rebalancer/pkg/config"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	marketsFile string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Two-asset rebalancer scenarios on seeded markets",
	Long: `Two-asset rebalancer scenarios on seeded markets

Commands:
    run        deposit, init accounts, rebalance, withdraw
    markets    print the seeded order books and oracle prices
    health     check the database, the oracle and a running API server
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		level := zerolog.WarnLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
			Level(level).With().Timestamp().Logger()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&marketsFile, "markets", os.Getenv("MARKETS_FILE"), "markets YAML (default: built-in SOL/WETH vs USDC)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(marketsCmd)
}

// buildStack seeds a fresh in-memory stack from the markets flag.
func buildStack(opts app.Options) (*app.Stack, error) {
	markets, err := config.LoadMarkets(marketsFile)
	if err != nil {
		return nil, err
	}
	opts.Markets = markets
	return app.Build(opts)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
