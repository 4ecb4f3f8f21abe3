package market

import (
	"fmt"
	"math/big"
	"time"

	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/oracle"

	"github.com/shopspring/decimal"
)

// Native converts a human decimal amount into native units.
func Native(amount string, decimals uint8) (uint64, error) {
	if amount == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, err
	}
	return toUint64(d.Shift(int32(decimals)).Floor())
}

// Format renders native units as a human decimal string.
func Format(native uint64, decimals uint8) string {
	return fromUint64(native).Shift(-int32(decimals)).String()
}

// PriceLots converts a human price (quote per whole base) into quote lots per
// base lot, rounded to the nearest tick.
func PriceLots(price string, baseDecimals, quoteDecimals uint8, m common.MarketBundle) (uint64, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return 0, err
	}
	lots := p.Shift(int32(quoteDecimals) - int32(baseDecimals)).
		Mul(fromUint64(m.BaseLotSize)).
		Div(fromUint64(m.QuoteLotSize)).
		Round(0)
	return toUint64(lots)
}

// SizeLots converts a human base size into whole base lots.
func SizeLots(size string, baseDecimals uint8, m common.MarketBundle) (uint64, error) {
	s, err := decimal.NewFromString(size)
	if err != nil {
		return 0, err
	}
	lots := s.Shift(int32(baseDecimals)).
		Div(fromUint64(m.BaseLotSize)).
		Floor()
	return toUint64(lots)
}

// LotsPrice renders a price in quote lots per base lot as quote per whole base.
func LotsPrice(lots uint64, baseDecimals, quoteDecimals uint8, m common.MarketBundle) string {
	if m.BaseLotSize == 0 {
		return "0"
	}
	return fromUint64(lots).
		Mul(fromUint64(m.QuoteLotSize)).
		Div(fromUint64(m.BaseLotSize)).
		Shift(int32(baseDecimals) - int32(quoteDecimals)).
		String()
}

// LotsSize renders a size in base lots as whole base units.
func LotsSize(lots uint64, baseDecimals uint8, m common.MarketBundle) string {
	return fromUint64(lots).Mul(fromUint64(m.BaseLotSize)).Shift(-int32(baseDecimals)).String()
}

// OracleQuote builds a feed quote from a human price with confidence in bps.
func OracleQuote(price string, confBps uint64, at time.Time) (oracle.PriceQuote, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return oracle.PriceQuote{}, err
	}
	raw := p.Shift(-oracleExpo).Round(0)
	if !raw.IsPositive() || !raw.BigInt().IsInt64() {
		return oracle.PriceQuote{}, fmt.Errorf("price %s out of range", price)
	}
	conf := raw.Mul(decimal.New(int64(confBps), -4)).Floor()
	return oracle.PriceQuote{
		Price:       raw.IntPart(),
		Expo:        oracleExpo,
		Conf:        uint64(conf.IntPart()),
		PublishTime: at.Unix(),
	}, nil
}

// DisplayPrice renders a feed quote as a decimal string.
func DisplayPrice(q oracle.PriceQuote) string {
	return q.Decimal().String()
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func toUint64(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", d)
	}
	b := d.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows", d)
	}
	return b.Uint64(), nil
}
