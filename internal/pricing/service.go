package pricing

import (
	"context"
	"reflect"
	"sync"

	"car-marketplace/internal/domain"
	"car-marketplace/pkg/logger"
)

// Service serves reserve prices from the stored tier table and swaps the
// table in place when it changes.
type Service struct {
	store domain.TierStore
	log   logger.Logger

	mu   sync.RWMutex
	calc *Calculator
}

func NewService(store domain.TierStore, log logger.Logger) *Service {
	return &Service{
		store: store,
		log:   log,
		calc:  defaultCalculator,
	}
}

// Refresh reloads the table from the store and reports whether it changed.
// A stored table that fails validation is logged and ignored.
func (s *Service) Refresh(ctx context.Context) (bool, error) {
	tiers, err := s.store.LoadTiers(ctx)
	if err != nil {
		return false, err
	}

	calc, err := NewCalculator(tiers)
	if err != nil {
		s.log.Error("Stored tier table rejected, keeping current table", "error", err)
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if reflect.DeepEqual(s.calc.tiers, calc.tiers) {
		return false, nil
	}
	s.calc = calc
	s.log.Info("Reserve price tiers updated", "tiers", len(calc.tiers))
	return true, nil
}

// UpdateTiers validates and stores a new table, then activates it.
func (s *Service) UpdateTiers(ctx context.Context, tiers []domain.PriceTier) error {
	calc, err := NewCalculator(tiers)
	if err != nil {
		return err
	}
	if err := s.store.SaveTiers(ctx, tiers); err != nil {
		return err
	}

	s.mu.Lock()
	s.calc = calc
	s.mu.Unlock()
	return nil
}

func (s *Service) Calculator() *Calculator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calc
}

func (s *Service) ReservePrice(price float64) (int64, error) {
	return s.Calculator().ReservePrice(price)
}

func (s *Service) Tiers() []domain.PriceTier {
	return s.Calculator().Tiers()
}
