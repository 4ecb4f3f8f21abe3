package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownFeed     = errors.New("oracle: unknown feed")
	ErrStale           = errors.New("oracle: price is stale")
	ErrWideConfidence  = errors.New("oracle: confidence interval too wide")
	ErrNonPositive     = errors.New("oracle: price is not positive")
	ErrFutureTimestamp = errors.New("oracle: publish time is in the future")
	ErrBadExponent     = errors.New("oracle: exponent out of range")
)

// MaxExpo bounds |Expo|; published feeds use single-digit exponents.
const MaxExpo = 30

// PriceQuote is a Pyth-style fixed-point price: Price * 10^Expo.
type PriceQuote struct {
	Price       int64  `json:"price"`
	Expo        int32  `json:"expo"`
	Conf        uint64 `json:"conf"`
	PublishTime int64  `json:"publish_time"`
}

// Decimal renders the quote for display; never use it for balances.
func (q PriceQuote) Decimal() decimal.Decimal {
	return decimal.New(q.Price, q.Expo)
}

// ExpoInRange reports whether |q.Expo| <= MaxExpo.
func (q PriceQuote) ExpoInRange() bool {
	return q.Expo >= -MaxExpo && q.Expo <= MaxExpo
}

// Age returns how old the quote is at now.
func (q PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(q.PublishTime, 0))
}

// Feed reads the latest published price for a feed id. Implementations must
// not block waiting for a fresher price.
type Feed interface {
	ReadPrice(ctx context.Context, feed string) (PriceQuote, error)
}

// Policy decides whether a quote is usable.
type Policy struct {
	MaxAge     time.Duration
	MaxConfBps uint64
	// ClockSkew tolerates publishers slightly ahead of the local clock.
	ClockSkew time.Duration
}

// DefaultPolicy accepts prices up to 60 seconds old with confidence within 2%.
func DefaultPolicy() Policy {
	return Policy{MaxAge: 60 * time.Second, MaxConfBps: 200, ClockSkew: 5 * time.Second}
}

// Check validates q at time now.
func (p Policy) Check(q PriceQuote, now time.Time) error {
	if q.Price <= 0 {
		return fmt.Errorf("%w: %d", ErrNonPositive, q.Price)
	}
	if !q.ExpoInRange() {
		return fmt.Errorf("%w: %d", ErrBadExponent, q.Expo)
	}
	age := q.Age(now)
	if age < -p.ClockSkew {
		return fmt.Errorf("%w: %s ahead", ErrFutureTimestamp, -age)
	}
	if p.MaxAge > 0 && age > p.MaxAge {
		return fmt.Errorf("%w: age %s exceeds %s", ErrStale, age.Truncate(time.Second), p.MaxAge)
	}
	if p.MaxConfBps > 0 {
		// conf/price > bps/10000, compared in 128 bits without division.
		lhsHi, lhsLo := bits.Mul64(q.Conf, 10_000)
		rhsHi, rhsLo := bits.Mul64(uint64(q.Price), p.MaxConfBps)
		if lhsHi > rhsHi || (lhsHi == rhsHi && lhsLo > rhsLo) {
			return fmt.Errorf("%w: conf %d on price %d", ErrWideConfidence, q.Conf, q.Price)
		}
	}
	return nil
}

// MemoryFeed is a settable in-process Feed.
type MemoryFeed struct {
	mu     sync.RWMutex
	prices map[string]PriceQuote
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{prices: make(map[string]PriceQuote)}
}

func (f *MemoryFeed) ReadPrice(_ context.Context, feed string) (PriceQuote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.prices[feed]
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrUnknownFeed, feed)
	}
	return q, nil
}

// Set publishes q for feed.
func (f *MemoryFeed) Set(feed string, q PriceQuote) {
	f.mu.Lock()
	f.prices[feed] = q
	f.mu.Unlock()
}

// SetPrice publishes price at expo with zero confidence, stamped at t.
func (f *MemoryFeed) SetPrice(feed string, price int64, expo int32, t time.Time) {
	f.Set(feed, PriceQuote{Price: price, Expo: expo, PublishTime: t.Unix()})
}

// Feeds lists the known feed ids.
func (f *MemoryFeed) Feeds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.prices))
	for k := range f.prices {
		out = append(out, k)
	}
	return out
}
