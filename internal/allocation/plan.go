package allocation

import (
	"fmt"

	"asset-rebalancer/pkg/exchanges/common"
	"asset-rebalancer/pkg/oracle"
)

// Which identifies one of the two risk assets.
type Which int

const (
	AssetA Which = iota
	AssetB
)

func (w Which) String() string {
	if w == AssetA {
		return "A"
	}
	return "B"
}

// Asset is one risk asset as seen by the engine.
type Asset struct {
	Symbol   string
	Decimals uint8
	Price    oracle.PriceQuote
	// Held counts the vault balance plus free and locked venue escrow.
	Held    uint64
	LotSize uint64
}

// Input is everything the engine needs for one decision.
type Input struct {
	A, B          Asset
	QuoteDecimals uint8
	// QuoteHeld is quote sitting in the vault or escrow; it is counted in the
	// total and spent on the underweight side.
	QuoteHeld     uint64
	PctA, PctB    uint16
	MinTradeQuote uint64
}

func (in Input) asset(w Which) Asset {
	if w == AssetA {
		return in.A
	}
	return in.B
}

// Leg is one single-asset trade against quote.
type Leg struct {
	Asset Which       `json:"asset"`
	Side  common.Side `json:"side"`
	// Amount is the lot-aligned native amount to sell, or the most to buy.
	Amount uint64 `json:"amount"`
	// Worth is the oracle value of the leg; for buys it is the quote budget
	// the leg may spend.
	Worth uint64 `json:"worth"`
}

// Plan is the outcome of Compute. Sells run before buys so buys can spend
// their proceeds.
type Plan struct {
	Valuation
	TargetA uint64 `json:"target_a"`
	TargetB uint64 `json:"target_b"`
	Sells   []Leg  `json:"sells"`
	Buys    []Leg  `json:"buys"`
}

// NoOp reports whether no leg clears the lot and minimum-trade thresholds.
func (p Plan) NoOp() bool { return len(p.Sells) == 0 && len(p.Buys) == 0 }

// Compute values the portfolio and derives the legs toward the targets.
func Compute(in Input) (Plan, error) {
	if err := ValidatePercentages(in.PctA, in.PctB); err != nil {
		return Plan{}, err
	}
	v, err := Value(in)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{
		Valuation: v,
		TargetA:   Share(v.Total, in.PctA),
		TargetB:   Share(v.Total, in.PctB),
	}

	for _, w := range []Which{AssetA, AssetB} {
		worth, target := v.WorthA, plan.TargetA
		if w == AssetB {
			worth, target = v.WorthB, plan.TargetB
		}
		switch {
		case worth > target:
			leg, ok, err := in.sellLeg(w, worth-target)
			if err != nil {
				return Plan{}, err
			}
			if ok {
				plan.Sells = append(plan.Sells, leg)
			}
		case worth < target:
			leg, ok, err := in.buyLeg(w, target-worth)
			if err != nil {
				return Plan{}, err
			}
			if ok {
				plan.Buys = append(plan.Buys, leg)
			}
		}
	}
	return plan, nil
}

func (in Input) sellLeg(w Which, excess uint64) (Leg, bool, error) {
	a := in.asset(w)
	amount, err := Amount(excess, a.Decimals, a.Price, in.QuoteDecimals)
	if err != nil {
		return Leg{}, false, fmt.Errorf("size %s sell: %w", a.Symbol, err)
	}
	amount = lotFloor(amount, a.LotSize)
	if amount == 0 || amount > a.Held {
		return Leg{}, false, nil
	}
	worth, err := Worth(amount, a.Decimals, a.Price, in.QuoteDecimals)
	if err != nil {
		return Leg{}, false, err
	}
	if worth == 0 || worth < in.MinTradeQuote {
		return Leg{}, false, nil
	}
	return Leg{Asset: w, Side: common.SideSell, Amount: amount, Worth: worth}, true, nil
}

func (in Input) buyLeg(w Which, deficit uint64) (Leg, bool, error) {
	a := in.asset(w)
	amount, err := Amount(deficit, a.Decimals, a.Price, in.QuoteDecimals)
	if err != nil {
		return Leg{}, false, fmt.Errorf("size %s buy: %w", a.Symbol, err)
	}
	amount = lotFloor(amount, a.LotSize)
	if amount == 0 || deficit < in.MinTradeQuote {
		return Leg{}, false, nil
	}
	return Leg{Asset: w, Side: common.SideBuy, Amount: amount, Worth: deficit}, true, nil
}

func lotFloor(amount, lot uint64) uint64 {
	if lot <= 1 {
		return amount
	}
	return amount - amount%lot
}
