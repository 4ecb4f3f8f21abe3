package keeper

import (
	"context"
	"errors"
	"testing"

	"asset-rebalancer/internal/events"
	"asset-rebalancer/internal/monitor"
	"asset-rebalancer/internal/vault"
	"asset-rebalancer/pkg/address"

	"github.com/stretchr/testify/require"
)

type fakeProgram struct {
	crankErr   error
	portfolios []vault.Portfolio
	failFor    map[address.Address]error
	rebalanced []address.Address
}

func (f *fakeProgram) CrankMarkets(context.Context) (int, error) {
	if f.crankErr != nil {
		return 0, f.crankErr
	}
	return 3, nil
}

func (f *fakeProgram) Portfolios() []vault.Portfolio { return f.portfolios }

func (f *fakeProgram) Rebalance(_ context.Context, req vault.RebalanceRequest) (vault.RebalanceResult, error) {
	if err := f.failFor[req.Portfolio]; err != nil {
		return vault.RebalanceResult{}, err
	}
	f.rebalanced = append(f.rebalanced, req.Portfolio)
	return vault.RebalanceResult{Event: events.AssetsBalanced{NoOp: true}}, nil
}

func pf(state vault.State, auto bool) vault.Portfolio {
	return vault.Portfolio{Address: address.NewUnique(), Owner: address.NewUnique(), State: state, AutoRebalance: auto}
}

func TestRunOnceRebalancesOptedInPortfolios(t *testing.T) {
	idle := pf(vault.StateIdle, true)
	resting := pf(vault.StateRebalancing, true)
	manual := pf(vault.StateIdle, false)
	funded := pf(vault.StateFunded, true)
	failing := pf(vault.StateOrdersInitialized, true)

	prog := &fakeProgram{
		portfolios: []vault.Portfolio{idle, resting, manual, funded, failing},
		failFor:    map[address.Address]error{failing.Address: vault.ErrStalePrice},
	}
	metrics := monitor.NewSystemMetrics()
	k := NewKeeper(context.Background(), prog, metrics)

	rep := k.RunOnce(context.Background())
	require.Equal(t, Report{Cranked: 3, Rebalanced: 2, Failed: 1}, rep)
	require.ElementsMatch(t, []address.Address{idle.Address, resting.Address}, prog.rebalanced)
	require.Equal(t, 1, metrics.GetSnapshot().KeeperLatency.Count)
}

func TestRunOnceContinuesAfterCrankFailure(t *testing.T) {
	prog := &fakeProgram{crankErr: errors.New("venue down"), portfolios: []vault.Portfolio{pf(vault.StateIdle, true)}}
	rep := NewKeeper(context.Background(), prog, nil).RunOnce(context.Background())
	require.Equal(t, 0, rep.Cranked)
	require.Equal(t, 1, rep.Rebalanced)
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	k := NewKeeper(context.Background(), &fakeProgram{}, nil)
	require.Error(t, k.Register("not a schedule"))
	require.NoError(t, k.Register("@every 30s"))
	require.Len(t, k.Cron.Entries(), 1)
}
