// Package market builds the simulated venue the rebalancer trades on: mints,
// two listed markets with a funded market maker, and a moving price feed.
package market

import (
	"context"
	"fmt"
	"time"

	"asset-rebalancer/internal/chain"
	"asset-rebalancer/pkg/address"
	"asset-rebalancer/pkg/config"
	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/exchanges/orderbook"
	"asset-rebalancer/pkg/oracle"
	"asset-rebalancer/pkg/token"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// oracleExpo is the exponent used for seeded prices.
const oracleExpo = -8

// Asset is one listed risk asset.
type Asset struct {
	Config config.AssetConfig
	Mint   address.Address
	Market common.MarketBundle
	Price  oracle.PriceQuote
}

// Maker is the liquidity provider seeded on both books.
type Maker struct {
	Owner       address.Address
	QuoteWallet address.Address
	BaseWallets [2]address.Address
	OpenOrders  [2]address.Address
}

// Fixture is the initial simulated world. Bank and Exchange are handed to a
// chain.Runtime, which owns them from then on.
type Fixture struct {
	Bank          *token.Bank
	Exchange      *orderbook.Exchange
	Authority     address.Address
	QuoteSymbol   string
	QuoteMint     address.Address
	QuoteDecimals uint8
	Assets        [2]Asset
	Maker         Maker
}

// Setup creates mints, lists both markets, funds the maker and seeds every
// configured ask and bid level. Seeded prices are written to feed.
func Setup(m config.Markets, feed *oracle.MemoryFeed, now time.Time) (*Fixture, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	fx := &Fixture{
		Bank:          token.NewBank(),
		Authority:     address.NewUnique(),
		QuoteSymbol:   m.Quote.Symbol,
		QuoteMint:     address.NewUnique(),
		QuoteDecimals: m.Quote.Decimals,
	}
	fx.Exchange = orderbook.New(fx.Bank)
	if err := fx.Bank.CreateMint(fx.QuoteMint, fx.Authority, m.Quote.Decimals); err != nil {
		return nil, err
	}

	for i, ac := range m.Assets {
		a := Asset{Config: ac, Mint: address.NewUnique()}
		if err := fx.Bank.CreateMint(a.Mint, fx.Authority, ac.Decimals); err != nil {
			return nil, err
		}
		bundle, err := fx.Exchange.ListMarket(orderbook.MarketParams{
			Symbol:       ac.Symbol + "/" + m.Quote.Symbol,
			BaseMint:     a.Mint,
			QuoteMint:    fx.QuoteMint,
			BaseLotSize:  ac.BaseLotSize,
			QuoteLotSize: ac.QuoteLotSize,
			TakerFeeBps:  ac.TakerFeeBps,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", ac.Symbol, err)
		}
		a.Market = bundle
		if a.Price, err = OracleQuote(ac.Price, ac.ConfBps, now); err != nil {
			return nil, fmt.Errorf("%s price: %w", ac.Symbol, err)
		}
		if feed != nil {
			feed.Set(ac.Feed, a.Price)
		}
		fx.Assets[i] = a
	}

	if err := fx.fundMaker(m); err != nil {
		return nil, err
	}
	for i := range fx.Assets {
		if err := fx.seed(i); err != nil {
			return nil, err
		}
	}
	return fx, nil
}

func (fx *Fixture) fundMaker(m config.Markets) error {
	mk := Maker{Owner: address.NewUnique()}
	quote, err := Native(m.Maker.Quote, m.Quote.Decimals)
	if err != nil {
		return fmt.Errorf("maker quote: %w", err)
	}
	if mk.QuoteWallet, err = fx.mint(fx.Bank, mk.Owner, fx.QuoteMint, quote); err != nil {
		return err
	}
	for i, a := range fx.Assets {
		amount, err := Native(m.Maker.Base[a.Config.Symbol], a.Config.Decimals)
		if err != nil {
			return fmt.Errorf("maker %s: %w", a.Config.Symbol, err)
		}
		if mk.BaseWallets[i], err = fx.mint(fx.Bank, mk.Owner, a.Mint, amount); err != nil {
			return err
		}
		mk.OpenOrders[i] = address.NewUnique()
		if err := fx.Exchange.InitOpenOrders(a.Market.MarketID, mk.OpenOrders[i], mk.Owner); err != nil {
			return err
		}
	}
	fx.Maker = mk
	return nil
}

func (fx *Fixture) mint(ledger token.Ledger, owner, mint address.Address, amount uint64) (address.Address, error) {
	acct, err := ledger.CreateAssociatedAccount(owner, mint)
	if err != nil {
		return address.Zero, err
	}
	if amount == 0 {
		return acct, nil
	}
	return acct, ledger.MintTo(mint, acct, fx.Authority, amount)
}

// seed places asks then bids, every level of both sides.
func (fx *Fixture) seed(i int) error {
	a := fx.Assets[i]
	bids, asks, err := Levels(a.Config)
	if err != nil {
		return err
	}
	place := func(side common.Side, lv config.LevelConfig) error {
		price, err := PriceLots(lv.Price, a.Config.Decimals, fx.QuoteDecimals, a.Market)
		if err != nil {
			return err
		}
		size, err := SizeLots(lv.Size, a.Config.Decimals, a.Market)
		if err != nil {
			return err
		}
		if price == 0 || size == 0 {
			return fmt.Errorf("%s %s level %s x %s rounds to zero lots", a.Market.Symbol, side, lv.Price, lv.Size)
		}
		payer := fx.Maker.QuoteWallet
		if side == common.SideSell {
			payer = fx.Maker.BaseWallets[i]
		}
		res, err := fx.Exchange.PlaceOrder(context.Background(), common.OrderRequest{
			Market:     a.Market.MarketID,
			OpenOrders: fx.Maker.OpenOrders[i],
			Owner:      fx.Maker.Owner,
			Payer:      payer,
			Side:       side,
			Type:       common.OrderTypePostOnly,
			SelfTrade:  common.SelfTradeAbortTransaction,
			LimitPrice: price,
			MaxBaseQty: size,
		})
		if err != nil {
			return fmt.Errorf("seed %s %s @ %s: %w", a.Market.Symbol, side, lv.Price, err)
		}
		if res.Status == common.StatusRejected {
			return fmt.Errorf("seed %s %s @ %s: %s", a.Market.Symbol, side, lv.Price, res.Reason)
		}
		return nil
	}
	for _, lv := range asks {
		if err := place(common.SideSell, lv); err != nil {
			return err
		}
	}
	for _, lv := range bids {
		if err := place(common.SideBuy, lv); err != nil {
			return err
		}
	}
	log.Info().Str("market", a.Market.Symbol).Int("bids", len(bids)).Int("asks", len(asks)).
		Str("market_id", a.Market.MarketID.String()).Msg("market seeded")
	return nil
}

// Faucet mints amount of mint into owner's associated account through rt.
func (fx *Fixture) Faucet(ctx context.Context, rt *chain.Runtime, owner, mint address.Address, amount uint64) (address.Address, error) {
	var acct address.Address
	_, err := rt.Execute(ctx, "faucet", func(tx *chain.Tx) error {
		var err error
		acct, err = fx.mint(tx.Ledger(), owner, mint, amount)
		return err
	})
	return acct, err
}

// MintBySymbol resolves a mint from its symbol.
func (fx *Fixture) MintBySymbol(symbol string) (address.Address, uint8, bool) {
	if symbol == fx.QuoteSymbol {
		return fx.QuoteMint, fx.QuoteDecimals, true
	}
	for _, a := range fx.Assets {
		if a.Config.Symbol == symbol {
			return a.Mint, a.Config.Decimals, true
		}
	}
	return address.Zero, 0, false
}

// Levels returns the configured bid and ask levels, generating a ladder
// around the oracle price when none are listed.
func Levels(ac config.AssetConfig) (bids, asks []config.LevelConfig, err error) {
	if len(ac.Bids) > 0 || len(ac.Asks) > 0 || ac.Ladder.Levels == 0 {
		return ac.Bids, ac.Asks, nil
	}
	mid, err := decimal.NewFromString(ac.Price)
	if err != nil {
		return nil, nil, err
	}
	step := decimal.New(int64(ac.Ladder.StepBps), -4)
	for i := 1; i <= ac.Ladder.Levels; i++ {
		off := step.Mul(decimal.NewFromInt(int64(i)))
		bids = append(bids, config.LevelConfig{
			Price: mid.Mul(decimal.NewFromInt(1).Sub(off)).String(),
			Size:  ac.Ladder.Size,
		})
		asks = append(asks, config.LevelConfig{
			Price: mid.Mul(decimal.NewFromInt(1).Add(off)).String(),
			Size:  ac.Ladder.Size,
		})
	}
	return bids, asks, nil
}
