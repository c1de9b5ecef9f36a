package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"car-marketplace/internal/domain"
	"car-marketplace/internal/observability"
	"car-marketplace/pkg/logger"
	"car-marketplace/pkg/utils"
)

// ReservePricer quotes the reserve price for an asking price.
type ReservePricer interface {
	ReservePrice(price float64) (int64, error)
}

type CreateListingRequest struct {
	SellerID string  `json:"seller_id"`
	VIN      string  `json:"vin"`
	Make     string  `json:"make"`
	Model    string  `json:"model"`
	Year     int     `json:"year"`
	Mileage  int     `json:"mileage"`
	Price    float64 `json:"price"`
}

const firstModelYear = 1886

// reserveEditable lists the statuses whose reserve follows the tier table.
var reserveEditable = []domain.ListingStatus{domain.ListingDraft, domain.ListingInReview, domain.ListingApproved}

type ListingService struct {
	repo      domain.ListingRepository
	pricer    ReservePricer
	bidCache  domain.BidCache
	rules     domain.BiddingRuleDao
	publisher domain.EventPublisher
	metrics   *observability.Metrics
	log       logger.Logger
	now       func() time.Time
}

func NewListingService(
	repo domain.ListingRepository,
	pricer ReservePricer,
	bidCache domain.BidCache,
	rules domain.BiddingRuleDao,
	publisher domain.EventPublisher,
	metrics *observability.Metrics,
	log logger.Logger,
) *ListingService {
	return &ListingService{
		repo:      repo,
		pricer:    pricer,
		bidCache:  bidCache,
		rules:     rules,
		publisher: publisher,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

func (s *ListingService) CreateListing(ctx context.Context, req CreateListingRequest) (*domain.Listing, error) {
	vin, err := NormalizeVIN(req.VIN)
	if err != nil {
		return nil, err
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}

	reserve, err := s.QuoteReservePrice(req.Price)
	if err != nil {
		return nil, err
	}

	now := s.now()
	listing := &domain.Listing{
		ID:           utils.GenerateID("listing"),
		SellerID:     req.SellerID,
		VIN:          vin,
		Make:         strings.TrimSpace(req.Make),
		Model:        strings.TrimSpace(req.Model),
		Year:         req.Year,
		Mileage:      req.Mileage,
		Price:        req.Price,
		ReservePrice: reserve,
		Status:       domain.ListingDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateListing(ctx, listing); err != nil {
		return nil, err
	}

	s.log.Info("Listing created", "listing_id", listing.ID, "price", listing.Price, "reserve_price", reserve)
	return listing, nil
}

func (s *ListingService) validate(req CreateListingRequest) error {
	switch {
	case req.SellerID == "":
		return fmt.Errorf("%w: seller_id is required", domain.ErrInvalidListing)
	case strings.TrimSpace(req.Make) == "" || strings.TrimSpace(req.Model) == "":
		return fmt.Errorf("%w: make and model are required", domain.ErrInvalidListing)
	case req.Year < firstModelYear || req.Year > s.now().Year()+1:
		return fmt.Errorf("%w: year %d out of range", domain.ErrInvalidListing, req.Year)
	case req.Mileage < 0:
		return fmt.Errorf("%w: mileage must not be negative", domain.ErrInvalidListing)
	}
	return nil
}

func (s *ListingService) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	return s.repo.GetListing(ctx, listingID)
}

// UpdatePrice changes the asking price. The reserve is recomputed only when
// the price actually changes.
func (s *ListingService) UpdatePrice(ctx context.Context, listingID string, price float64) (*domain.Listing, error) {
	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !listing.Status.ReservePriceEditable() {
		return nil, fmt.Errorf("%w: listing is %s", domain.ErrPriceLocked, listing.Status)
	}
	if price == listing.Price {
		return listing, nil
	}

	reserve, err := s.QuoteReservePrice(price)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdatePrice(ctx, listingID, price, reserve); err != nil {
		return nil, err
	}

	listing.Price = price
	listing.ReservePrice = reserve
	listing.UpdatedAt = s.now()

	s.publish(ctx, listingID, domain.PriceChanged, domain.PriceChangedPayload{Price: price, ReservePrice: reserve})
	s.log.Info("Listing price updated", "listing_id", listingID, "price", price, "reserve_price", reserve)
	return listing, nil
}

// ChangeStatus moves a listing through its lifecycle. Entering an auction
// opens bidding in the cache; leaving it closes bidding.
func (s *ListingService) ChangeStatus(ctx context.Context, listingID string, next domain.ListingStatus) (*domain.Listing, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidStatusTransition, next)
	}

	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	prev := listing.Status
	if !prev.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidStatusTransition, prev, next)
	}

	if next == domain.ListingInAuction {
		if err := s.bidCache.InitializeBidding(ctx, listingID, 0, s.rules.GetIncrementRule(0)); err != nil {
			return nil, fmt.Errorf("open bidding: %w", err)
		}
	}

	if err := s.repo.UpdateStatus(ctx, listingID, next); err != nil {
		return nil, err
	}

	if prev == domain.ListingInAuction && next != domain.ListingSold {
		if err := s.bidCache.CloseBidding(ctx, listingID); err != nil {
			s.log.Error("Failed to close bidding", "listing_id", listingID, "error", err)
		}
	}

	listing.Status = next
	listing.UpdatedAt = s.now()

	s.publish(ctx, listingID, domain.StatusChanged, domain.StatusChangedPayload{From: prev, To: next})
	s.log.Info("Listing status changed", "listing_id", listingID, "from", prev, "to", next)
	return listing, nil
}

// RecalculateReserves reprices every listing whose reserve still follows
// the tier table and returns how many changed.
func (s *ListingService) RecalculateReserves(ctx context.Context) (int, error) {
	listings, err := s.repo.ListByStatus(ctx, reserveEditable...)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, listing := range listings {
		reserve, err := s.pricer.ReservePrice(listing.Price)
		if err != nil {
			s.log.Error("Cannot reprice listing", "listing_id", listing.ID, "price", listing.Price, "error", err)
			continue
		}
		if reserve == listing.ReservePrice {
			continue
		}
		if err := s.repo.UpdatePrice(ctx, listing.ID, listing.Price, reserve); err != nil {
			return updated, fmt.Errorf("reprice %s: %w", listing.ID, err)
		}
		updated++
	}

	s.log.Info("Reserve prices recalculated", "checked", len(listings), "updated", updated)
	return updated, nil
}

// QuoteReservePrice prices an amount without touching any listing.
func (s *ListingService) QuoteReservePrice(price float64) (int64, error) {
	reserve, err := s.pricer.ReservePrice(price)
	if s.metrics != nil {
		result := "ok"
		if err != nil {
			result = "invalid"
		}
		s.metrics.ReserveQuotes.WithLabelValues(result).Inc()
	}
	return reserve, err
}

func (s *ListingService) publish(ctx context.Context, listingID string, eventType domain.ChangeEventType, payload interface{}) {
	publishEvent(ctx, s.publisher, s.log, listingID, eventType, payload, s.now())
}

// NormalizeVIN upper-cases a VIN and checks it is 17 characters of the
// VIN alphabet, which excludes I, O and Q.
func NormalizeVIN(vin string) (string, error) {
	vin = strings.ToUpper(strings.TrimSpace(vin))
	if len(vin) != 17 {
		return "", fmt.Errorf("%w: must be 17 characters", domain.ErrInvalidVIN)
	}
	for _, r := range vin {
		switch {
		case r == 'I' || r == 'O' || r == 'Q':
			return "", fmt.Errorf("%w: %q is not allowed", domain.ErrInvalidVIN, r)
		case (r < 'A' || r > 'Z') && (r < '0' || r > '9'):
			return "", fmt.Errorf("%w: %q is not allowed", domain.ErrInvalidVIN, r)
		}
	}
	return vin, nil
}
