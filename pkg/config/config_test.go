package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ORDER_STYLE", "IOC")
	t.Setenv("ORACLE_MAX_AGE_SECONDS", "15")
	t.Setenv("KEEPER_ENABLED", "false")
	t.Setenv("RATE_LIMIT_PER_SEC", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, "ioc", cfg.OrderStyle)
	require.Equal(t, 15*time.Second, cfg.OracleMaxAge)
	require.False(t, cfg.KeeperEnabled)
	require.Equal(t, 20.0, cfg.RateLimitPerSec)
	require.Equal(t, "@every 30s", cfg.KeeperSchedule)
}

func TestLoadMarketsFile(t *testing.T) {
	m, err := LoadMarkets(filepath.Join("..", "..", "configs", "markets.yaml"))
	require.NoError(t, err)
	require.Equal(t, "USDC", m.Quote.Symbol)
	require.Len(t, m.Assets, 2)
	require.Equal(t, "WETH", m.Assets[1].Symbol)
	require.Len(t, m.Assets[1].Bids, 5)
	require.Equal(t, LevelConfig{Price: "1799.00", Size: "100"}, m.Assets[1].Bids[0])
	require.Equal(t, LadderConfig{Levels: 10, StepBps: 10, Size: "5000"}, m.Assets[0].Ladder)
	require.Equal(t, "2000", m.Maker.Base["WETH"])

	d, err := LoadMarkets("")
	require.NoError(t, err)
	require.Equal(t, DefaultMarkets(), d)
}

func TestMarketsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Markets)
	}{
		{"no quote", func(m *Markets) { m.Quote.Symbol = "" }},
		{"one asset", func(m *Markets) { m.Assets = m.Assets[:1] }},
		{"same asset", func(m *Markets) { m.Assets[1].Symbol = m.Assets[0].Symbol }},
		{"no feed", func(m *Markets) { m.Assets[0].Feed = "" }},
		{"zero lot", func(m *Markets) { m.Assets[1].QuoteLotSize = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := DefaultMarkets()
			tc.mutate(&m)
			require.Error(t, m.Validate())
		})
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quote: {symbol: USDC}\nassets: []\n"), 0o600))
	_, err := LoadMarkets(path)
	require.ErrorContains(t, err, "exactly two assets")
}
