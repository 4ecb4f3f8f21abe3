// Package allocation values a two-asset portfolio against oracle prices and
// derives the trade legs that move it to its target percentages. All
// arithmetic is integer; intermediates use math/big and results must fit in
// uint64.
package allocation

import (
	"errors"
	"fmt"
	"math/big"

	"asset-rebalancer/pkg/oracle"
)

// PercentScale is the fixed-point unit of target percentages (per-mille).
const PercentScale = 1000

var (
	ErrInvalidPercentages = errors.New("allocation: percentages must sum to 1000")
	ErrOverflow           = errors.New("allocation: arithmetic overflow")
	ErrInvalidPrice       = errors.New("allocation: price must be positive")
)

var maxUint64 = new(big.Int).SetUint64(^uint64(0))

// ValidatePercentages checks that a and b split the whole.
func ValidatePercentages(a, b uint16) error {
	if uint32(a)+uint32(b) != PercentScale {
		return fmt.Errorf("%w: got %d + %d", ErrInvalidPercentages, a, b)
	}
	return nil
}

func pow10(n int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func toUint64(v *big.Int) (uint64, error) {
	if v.Sign() < 0 || v.Cmp(maxUint64) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrOverflow, v.String())
	}
	return v.Uint64(), nil
}

// Worth converts amount (native units of an asset with decimals) into native
// quote units: amount * price * 10^(expo + quoteDecimals - decimals), floored.
func Worth(amount uint64, decimals uint8, q oracle.PriceQuote, quoteDecimals uint8) (uint64, error) {
	if q.Price <= 0 || !q.ExpoInRange() {
		return 0, ErrInvalidPrice
	}
	v := new(big.Int).SetUint64(amount)
	v.Mul(v, big.NewInt(q.Price))
	exp := q.Expo + int32(quoteDecimals) - int32(decimals)
	if exp >= 0 {
		v.Mul(v, pow10(exp))
	} else {
		v.Quo(v, pow10(-exp))
	}
	return toUint64(v)
}

// Amount is the inverse of Worth: the native amount of an asset that is
// worth at most worth quote units, floored.
func Amount(worth uint64, decimals uint8, q oracle.PriceQuote, quoteDecimals uint8) (uint64, error) {
	if q.Price <= 0 || !q.ExpoInRange() {
		return 0, ErrInvalidPrice
	}
	num := new(big.Int).SetUint64(worth)
	den := big.NewInt(q.Price)
	exp := int32(decimals) - q.Expo - int32(quoteDecimals)
	if exp >= 0 {
		num.Mul(num, pow10(exp))
	} else {
		den.Mul(den, pow10(-exp))
	}
	return toUint64(num.Quo(num, den))
}

// Share returns total*pct/PercentScale, floored.
func Share(total uint64, pct uint16) uint64 {
	v := new(big.Int).SetUint64(total)
	v.Mul(v, big.NewInt(int64(pct)))
	v.Quo(v, big.NewInt(PercentScale))
	return v.Uint64()
}

// Valuation is the mark-to-market of a portfolio in native quote units.
type Valuation struct {
	WorthA     uint64 `json:"worth_a"`
	WorthB     uint64 `json:"worth_b"`
	WorthQuote uint64 `json:"worth_quote"`
	Total      uint64 `json:"total"`
}

// Percentages reports the realized per-mille split of A and B over the total
// (quote included).
func (v Valuation) Percentages() (a, b uint16) {
	if v.Total == 0 {
		return 0, 0
	}
	pa := new(big.Int).SetUint64(v.WorthA)
	pa.Mul(pa, big.NewInt(PercentScale))
	pa.Quo(pa, new(big.Int).SetUint64(v.Total))
	pb := new(big.Int).SetUint64(v.WorthB)
	pb.Mul(pb, big.NewInt(PercentScale))
	pb.Quo(pb, new(big.Int).SetUint64(v.Total))
	return uint16(pa.Uint64()), uint16(pb.Uint64())
}

// Value marks both assets and the quote balance to market.
func Value(in Input) (Valuation, error) {
	wa, err := Worth(in.A.Held, in.A.Decimals, in.A.Price, in.QuoteDecimals)
	if err != nil {
		return Valuation{}, fmt.Errorf("value %s: %w", in.A.Symbol, err)
	}
	wb, err := Worth(in.B.Held, in.B.Decimals, in.B.Price, in.QuoteDecimals)
	if err != nil {
		return Valuation{}, fmt.Errorf("value %s: %w", in.B.Symbol, err)
	}
	total := new(big.Int).SetUint64(wa)
	total.Add(total, new(big.Int).SetUint64(wb))
	total.Add(total, new(big.Int).SetUint64(in.QuoteHeld))
	t, err := toUint64(total)
	if err != nil {
		return Valuation{}, err
	}
	return Valuation{WorthA: wa, WorthB: wb, WorthQuote: in.QuoteHeld, Total: t}, nil
}
