// Package pricing turns a listing's asking price into the reserve price
// guaranteed to the seller.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"car-marketplace/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidTierTable = errors.New("invalid price tier table")
)

// Calculator maps prices onto an immutable, validated tier table.
type Calculator struct {
	tiers []domain.PriceTier
}

func NewCalculator(tiers []domain.PriceTier) (*Calculator, error) {
	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}
	return &Calculator{tiers: cloneTiers(tiers)}, nil
}

var (
	defaultCalculator = mustCalculator(DefaultTiers())
	maxReserve        = decimal.NewFromInt(math.MaxInt64)
)

func mustCalculator(tiers []domain.PriceTier) *Calculator {
	c, err := NewCalculator(tiers)
	if err != nil {
		panic(err)
	}
	return c
}

// CalculateReservePrice prices against the default schedule.
func CalculateReservePrice(price float64) (int64, error) {
	return defaultCalculator.ReservePrice(price)
}

// ValidateTiers checks that the table starts at zero, is contiguous and
// ascending, and ends with the only unbounded tier.
func ValidateTiers(tiers []domain.PriceTier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidTierTable)
	}
	if tiers[0].MinPrice != 0 {
		return fmt.Errorf("%w: first tier must start at 0, got %v", ErrInvalidTierTable, tiers[0].MinPrice)
	}

	last := len(tiers) - 1
	for i, tier := range tiers {
		if !(tier.RetainedFraction > 0 && tier.RetainedFraction < 1) {
			return fmt.Errorf("%w: tier %d retained fraction %v outside (0, 1)", ErrInvalidTierTable, i, tier.RetainedFraction)
		}
		if i == last {
			if !tier.Unbounded() {
				return fmt.Errorf("%w: last tier must be unbounded", ErrInvalidTierTable)
			}
			break
		}
		if tier.Unbounded() {
			return fmt.Errorf("%w: tier %d is unbounded but not last", ErrInvalidTierTable, i)
		}
		upper := *tier.MaxPrice
		if upper < tier.MinPrice {
			return fmt.Errorf("%w: tier %d max %v below min %v", ErrInvalidTierTable, i, upper, tier.MinPrice)
		}
		if next := tiers[i+1].MinPrice; next != upper+1 {
			return fmt.Errorf("%w: gap or overlap between tier %d (max %v) and tier %d (min %v)",
				ErrInvalidTierTable, i, upper, i+1, next)
		}
	}
	return nil
}

func validatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("%w: %v is not a finite number", ErrInvalidPrice, price)
	}
	if price < 0 {
		return fmt.Errorf("%w: %v is negative", ErrInvalidPrice, price)
	}
	return nil
}

// TierFor returns the tier whose band contains price. A price between two
// integer bands (15000.4) belongs to the higher one.
func (c *Calculator) TierFor(price float64) (domain.PriceTier, error) {
	if err := validatePrice(price); err != nil {
		return domain.PriceTier{}, err
	}

	i := sort.Search(len(c.tiers), func(i int) bool {
		t := c.tiers[i]
		return t.Unbounded() || price <= *t.MaxPrice
	})
	if i == len(c.tiers) {
		i = len(c.tiers) - 1
	}
	return c.tiers[i], nil
}

// ReservePrice returns round(price × retained fraction), rounding half away
// from zero. Prices whose reserve does not fit in an int64 are rejected.
func (c *Calculator) ReservePrice(price float64) (int64, error) {
	tier, err := c.TierFor(price)
	if err != nil {
		return 0, err
	}

	reserve := decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(tier.RetainedFraction)).
		Round(0)
	if reserve.GreaterThan(maxReserve) {
		return 0, fmt.Errorf("%w: %v is out of range", ErrInvalidPrice, price)
	}
	return reserve.IntPart(), nil
}

// Tiers returns a copy of the table.
func (c *Calculator) Tiers() []domain.PriceTier {
	return cloneTiers(c.tiers)
}

func cloneTiers(tiers []domain.PriceTier) []domain.PriceTier {
	out := make([]domain.PriceTier, len(tiers))
	for i, t := range tiers {
		out[i] = t
		if t.MaxPrice != nil {
			out[i].MaxPrice = domain.PriceLimit(*t.MaxPrice)
		}
	}
	return out
}
