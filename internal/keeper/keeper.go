// Package keeper runs the periodic maintenance jobs of the rebalancer: it
// cranks both markets and rebalances portfolios that opted in.
package keeper

import (
	"context"
	"fmt"

	"asset-rebalancer/internal/monitor"
	"asset-rebalancer/internal/vault"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Program is the part of the vault program the keeper drives.
type Program interface {
	CrankMarkets(ctx context.Context) (int, error)
	Portfolios() []vault.Portfolio
	Rebalance(ctx context.Context, req vault.RebalanceRequest) (vault.RebalanceResult, error)
}

// Keeper manages the cron jobs.
type Keeper struct {
	Cron    *cron.Cron
	Program Program
	Metrics *monitor.SystemMetrics
	Ctx     context.Context
}

// Report summarises one keeper pass.
type Report struct {
	Cranked    int
	Rebalanced int
	Failed     int
}

// NewKeeper creates a keeper. Overlapping runs of the same job are skipped.
func NewKeeper(ctx context.Context, prog Program, metrics *monitor.SystemMetrics) *Keeper {
	return &Keeper{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		Program: prog,
		Metrics: metrics,
		Ctx:     ctx,
	}
}

// Register adds the keeper pass under schedule (cron spec or descriptor such
// as "@every 30s").
func (k *Keeper) Register(schedule string) error {
	if _, err := k.Cron.AddFunc(schedule, func() { k.RunOnce(k.Ctx) }); err != nil {
		return fmt.Errorf("register keeper pass: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (k *Keeper) Start() {
	k.Cron.Start()
	log.Info().Int("jobs", len(k.Cron.Entries())).Msg("keeper started")
}

// Stop stops the scheduler and waits for a running pass to finish.
func (k *Keeper) Stop() {
	<-k.Cron.Stop().Done()
	log.Info().Msg("keeper stopped")
}

// RunOnce cranks the markets, then rebalances every opted-in portfolio.
// Failures are logged and left for the next pass.
func (k *Keeper) RunOnce(ctx context.Context) Report {
	if k.Metrics != nil {
		defer monitor.NewTimer(k.Metrics.KeeperLatency).Stop()
	}

	var rep Report
	n, err := k.Program.CrankMarkets(ctx)
	if err != nil {
		log.Error().Err(err).Msg("keeper crank failed")
	}
	rep.Cranked = n

	for _, pf := range k.Program.Portfolios() {
		if ctx.Err() != nil {
			break
		}
		if !pf.AutoRebalance || !pf.State.Allows(vault.OpRebalance) {
			continue
		}
		res, err := k.Program.Rebalance(ctx, vault.RebalanceRequest{Owner: pf.Owner, Portfolio: pf.Address})
		if err != nil {
			rep.Failed++
			log.Warn().Err(err).
				Str("portfolio", pf.Address.Short()).
				Str("kind", string(vault.KindOf(err))).
				Msg("keeper rebalance failed")
			continue
		}
		rep.Rebalanced++
		log.Debug().
			Str("portfolio", pf.Address.Short()).
			Bool("no_op", res.Event.NoOp).
			Int("orders", res.Event.OrdersPlaced).
			Msg("keeper rebalanced")
	}

	if rep.Cranked > 0 || rep.Rebalanced > 0 || rep.Failed > 0 {
		log.Info().Int("cranked", rep.Cranked).Int("rebalanced", rep.Rebalanced).Int("failed", rep.Failed).Msg("keeper pass")
	}
	return rep
}
