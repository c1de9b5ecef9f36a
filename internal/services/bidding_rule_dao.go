package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"car-marketplace/internal/domain"

	"github.com/go-redis/redis/v8"
)

const bidRulesKey = "bid_increment_rules"

// defaultIncrement applies until rules have been loaded.
const defaultIncrement = 100.0

func defaultBidRules() *domain.BidValidationRules {
	return &domain.BidValidationRules{
		Rules: map[string]float64{
			"0-5000":      100.0,
			"5000-20000":  250.0,
			"20000-50000": 500.0,
			"50000+":      1000.0,
		},
	}
}

type BiddingRuleDaoImpl struct {
	client *redis.Client
	mu     sync.RWMutex
	rules  *domain.BidValidationRules
}

func NewBiddingRuleDao(client *redis.Client) *BiddingRuleDaoImpl {
	return &BiddingRuleDaoImpl{
		client: client,
	}
}

func (v *BiddingRuleDaoImpl) LoadRules(ctx context.Context) error {
	data, err := v.client.Get(ctx, bidRulesKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			v.setRules(defaultBidRules())
			return v.saveRules(ctx)
		}
		return err
	}

	var rules domain.BidValidationRules
	if err := json.Unmarshal([]byte(data), &rules); err != nil {
		return err
	}

	v.setRules(&rules)
	return nil
}

func (v *BiddingRuleDaoImpl) setRules(rules *domain.BidValidationRules) {
	v.mu.Lock()
	v.rules = rules
	v.mu.Unlock()
}

func (v *BiddingRuleDaoImpl) saveRules(ctx context.Context) error {
	v.mu.RLock()
	data, err := json.Marshal(v.rules)
	v.mu.RUnlock()
	if err != nil {
		return err
	}

	return v.client.SetNX(ctx, bidRulesKey, string(data), 0).Err()
}

func (v *BiddingRuleDaoImpl) GetMinimumBid(currentAmount float64) float64 {
	return currentAmount + v.GetIncrementRule(currentAmount)
}

// GetIncrementRule returns the step required above amount.
func (v *BiddingRuleDaoImpl) GetIncrementRule(amount float64) float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.rules == nil {
		return defaultIncrement
	}

	var key string
	switch {
	case amount < 5000:
		key = "0-5000"
	case amount < 20000:
		key = "5000-20000"
	case amount < 50000:
		key = "20000-50000"
	default:
		key = "50000+"
	}
	if inc, ok := v.rules.Rules[key]; ok && inc > 0 {
		return inc
	}
	return defaultIncrement
}
