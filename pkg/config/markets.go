package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Markets describes the quote asset, the two traded assets and the maker
// liquidity seeded on their books. Prices and sizes are human decimals.
type Markets struct {
	Quote  QuoteConfig   `yaml:"quote"`
	Assets []AssetConfig `yaml:"assets"`
	Maker  MakerConfig   `yaml:"maker"`
}

type QuoteConfig struct {
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// AssetConfig is one risk asset and its market against the quote.
type AssetConfig struct {
	Symbol       string        `yaml:"symbol"`
	Decimals     uint8         `yaml:"decimals"`
	Feed         string        `yaml:"feed"`
	Price        string        `yaml:"price"`
	ConfBps      uint64        `yaml:"conf_bps"`
	BaseLotSize  uint64        `yaml:"base_lot_size"`
	QuoteLotSize uint64        `yaml:"quote_lot_size"`
	TakerFeeBps  uint64        `yaml:"taker_fee_bps"`
	Bids         []LevelConfig `yaml:"bids"`
	Asks         []LevelConfig `yaml:"asks"`
	Ladder       LadderConfig  `yaml:"ladder"`
}

// LevelConfig is one resting maker order.
type LevelConfig struct {
	Price string `yaml:"price"`
	Size  string `yaml:"size"`
}

// LadderConfig generates symmetric levels around the oracle price when no
// explicit levels are listed.
type LadderConfig struct {
	Levels  int    `yaml:"levels"`
	StepBps uint64 `yaml:"step_bps"`
	Size    string `yaml:"size"`
}

// MakerConfig funds the market maker, in human units.
type MakerConfig struct {
	Quote string            `yaml:"quote"`
	Base  map[string]string `yaml:"base"`
}

// DefaultMarkets mirrors the SOL/USDC and WETH/USDC fixture pair.
func DefaultMarkets() Markets {
	return Markets{
		Quote: QuoteConfig{Symbol: "USDC", Decimals: 6},
		Assets: []AssetConfig{
			{
				Symbol: "SOL", Decimals: 9, Feed: "sol-usd", Price: "24.50", ConfBps: 5,
				BaseLotSize: 100_000_000, QuoteLotSize: 100, TakerFeeBps: 10,
				Ladder: LadderConfig{Levels: 10, StepBps: 10, Size: "5000"},
			},
			{
				Symbol: "WETH", Decimals: 8, Feed: "eth-usd", Price: "1800.00", ConfBps: 5,
				BaseLotSize: 1_000_000, QuoteLotSize: 10, TakerFeeBps: 10,
				Ladder: LadderConfig{Levels: 10, StepBps: 10, Size: "100"},
			},
		},
		Maker: MakerConfig{
			Quote: "1000000000",
			Base:  map[string]string{"SOL": "100000", "WETH": "2000"},
		},
	}
}

// LoadMarkets reads a markets file, or returns DefaultMarkets when path is
// empty.
func LoadMarkets(path string) (Markets, error) {
	if path == "" {
		return DefaultMarkets(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Markets{}, err
	}
	var m Markets
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Markets{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return Markets{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Validate checks the shape of the file.
func (m Markets) Validate() error {
	if m.Quote.Symbol == "" {
		return errors.New("quote symbol required")
	}
	if len(m.Assets) != 2 {
		return fmt.Errorf("exactly two assets required, got %d", len(m.Assets))
	}
	if m.Assets[0].Symbol == m.Assets[1].Symbol {
		return errors.New("assets must differ")
	}
	for _, a := range m.Assets {
		if a.Symbol == "" || a.Feed == "" || a.Price == "" {
			return fmt.Errorf("asset %q: symbol, feed and price required", a.Symbol)
		}
		if a.BaseLotSize == 0 || a.QuoteLotSize == 0 {
			return fmt.Errorf("asset %s: lot sizes must be positive", a.Symbol)
		}
	}
	return nil
}
