package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"car-marketplace/internal/domain"

	"github.com/go-redis/redis/v8"
)

const tierTableKey = "reserve_price_tiers"

// TierStore keeps the reserve price tier table as one JSON document. The
// first load seeds the key with the defaults it was built with.
type TierStore struct {
	client   *redis.Client
	defaults []domain.PriceTier
}

func NewTierStore(client *redis.Client, defaults []domain.PriceTier) *TierStore {
	return &TierStore{
		client:   client,
		defaults: defaults,
	}
}

func (s *TierStore) LoadTiers(ctx context.Context) ([]domain.PriceTier, error) {
	data, err := s.client.Get(ctx, tierTableKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return s.seed(ctx)
		}
		return nil, err
	}

	var tiers []domain.PriceTier
	if err := json.Unmarshal([]byte(data), &tiers); err != nil {
		return nil, fmt.Errorf("decode %s: %w", tierTableKey, err)
	}
	return tiers, nil
}

func (s *TierStore) SaveTiers(ctx context.Context, tiers []domain.PriceTier) error {
	data, err := json.Marshal(tiers)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, tierTableKey, string(data), 0).Err()
}

func (s *TierStore) seed(ctx context.Context) ([]domain.PriceTier, error) {
	data, err := json.Marshal(s.defaults)
	if err != nil {
		return nil, err
	}
	// Another instance may have seeded or edited the table meanwhile.
	ok, err := s.client.SetNX(ctx, tierTableKey, string(data), 0).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.LoadTiers(ctx)
	}

	tiers := make([]domain.PriceTier, len(s.defaults))
	copy(tiers, s.defaults)
	return tiers, nil
}
