package pricing

import "car-marketplace/internal/domain"

// DefaultTiers returns the reserve price schedule used when no table has
// been stored yet. Bands are inclusive on both ends in whole currency units.
func DefaultTiers() []domain.PriceTier {
	return []domain.PriceTier{
		{MinPrice: 0, MaxPrice: domain.PriceLimit(15000), RetainedFraction: 0.65},
		{MinPrice: 15001, MaxPrice: domain.PriceLimit(20000), RetainedFraction: 0.54},
		{MinPrice: 20001, MaxPrice: domain.PriceLimit(30000), RetainedFraction: 0.63},
		{MinPrice: 30001, MaxPrice: domain.PriceLimit(50000), RetainedFraction: 0.73},
		{MinPrice: 50001, MaxPrice: domain.PriceLimit(60000), RetainedFraction: 0.73},
		{MinPrice: 60001, MaxPrice: domain.PriceLimit(70000), RetainedFraction: 0.78},
		{MinPrice: 70001, MaxPrice: domain.PriceLimit(80000), RetainedFraction: 0.77},
		{MinPrice: 80001, MaxPrice: domain.PriceLimit(100000), RetainedFraction: 0.76},
		{MinPrice: 100001, MaxPrice: domain.PriceLimit(130000), RetainedFraction: 0.80},
		{MinPrice: 130001, MaxPrice: domain.PriceLimit(160000), RetainedFraction: 0.815},
		{MinPrice: 160001, MaxPrice: domain.PriceLimit(200000), RetainedFraction: 0.78},
		{MinPrice: 200001, MaxPrice: domain.PriceLimit(250000), RetainedFraction: 0.83},
		{MinPrice: 250001, MaxPrice: domain.PriceLimit(300000), RetainedFraction: 0.82},
		{MinPrice: 300001, MaxPrice: domain.PriceLimit(400000), RetainedFraction: 0.82},
		{MinPrice: 400001, MaxPrice: domain.PriceLimit(500000), RetainedFraction: 0.84},
		{MinPrice: 500001, RetainedFraction: 0.855},
	}
}
