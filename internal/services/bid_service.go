package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"car-marketplace/internal/domain"
	"car-marketplace/internal/observability"
	"car-marketplace/pkg/logger"
	"car-marketplace/pkg/utils"
)

const revertTimeout = 2 * time.Second

type BidService struct {
	listings  domain.ListingRepository
	bids      domain.BidRepository
	bidCache  domain.BidCache
	rules     domain.BiddingRuleDao
	publisher domain.EventPublisher
	metrics   *observability.Metrics
	log       logger.Logger
	now       func() time.Time
}

func NewBidService(
	listings domain.ListingRepository,
	bids domain.BidRepository,
	bidCache domain.BidCache,
	rules domain.BiddingRuleDao,
	publisher domain.EventPublisher,
	metrics *observability.Metrics,
	log logger.Logger,
) *BidService {
	return &BidService{
		listings:  listings,
		bids:      bids,
		bidCache:  bidCache,
		rules:     rules,
		publisher: publisher,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// PlaceBid records a dealer bid on a listing in auction. A bid must be at
// least the current top bid plus the increment for that level.
func (s *BidService) PlaceBid(ctx context.Context, listingID, dealerID string, amount float64) (*domain.Bid, error) {
	s.log.Info("Placing bid", "listing_id", listingID, "dealer_id", dealerID, "amount", amount)

	if dealerID == "" || amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		s.record("invalid")
		return nil, domain.ErrInvalidAmount
	}

	listing, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != domain.ListingInAuction {
		s.record("rejected")
		return nil, domain.ErrAuctionNotActive
	}

	accepted, previous, err := s.bidCache.AtomicBidUpdate(ctx, listingID, dealerID, amount, s.rules.GetIncrementRule(amount))
	if err != nil {
		if errors.Is(err, domain.ErrBiddingNotOpen) {
			s.record("rejected")
			return nil, fmt.Errorf("%w: %w", domain.ErrAuctionNotActive, err)
		}
		s.log.Error("Failed to update bid", "listing_id", listingID, "error", err)
		return nil, err
	}
	if !accepted {
		s.record("rejected")
		if current, err := s.bidCache.GetCurrentBid(ctx, listingID); err == nil {
			return nil, fmt.Errorf("%w: minimum is %.2f", domain.ErrBidTooLow, current.Amount+current.IncrementRule)
		}
		return nil, domain.ErrBidTooLow
	}

	bid := &domain.Bid{
		ID:        utils.GenerateID("bid"),
		ListingID: listingID,
		DealerID:  dealerID,
		Amount:    amount,
		CreatedAt: s.now(),
	}
	if err := s.bids.SaveBid(ctx, bid); err != nil {
		s.log.Error("Failed to persist accepted bid", "listing_id", listingID, "bid_id", bid.ID, "error", err)
		s.revertTopBid(ctx, listingID, dealerID, amount, previous)
		return nil, err
	}
	s.record("accepted")

	s.publish(ctx, listingID, domain.BidAccepted, domain.BidAcceptedPayload{
		BidID:    bid.ID,
		DealerID: dealerID,
		Amount:   amount,
	})
	return bid, nil
}

// revertTopBid undoes a cache swap whose bid never reached the database.
// A newer bid that already replaced it is left alone.
func (s *BidService) revertTopBid(ctx context.Context, listingID, dealerID string, amount float64, previous *domain.CurrentBid) {
	if previous == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revertTimeout)
	defer cancel()

	reverted, err := s.bidCache.RevertBid(ctx, listingID, dealerID, amount, previous)
	if err != nil {
		s.log.Error("Failed to revert top bid", "listing_id", listingID, "dealer_id", dealerID, "error", err)
		return
	}
	if !reverted {
		s.log.Warn("Top bid moved on before revert", "listing_id", listingID, "dealer_id", dealerID)
	}
}

func (s *BidService) BidHistory(ctx context.Context, listingID string) ([]*domain.Bid, error) {
	if _, err := s.listings.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	return s.bids.GetBidHistory(ctx, listingID)
}

func (s *BidService) CurrentBid(ctx context.Context, listingID string) (*domain.CurrentBid, error) {
	return s.bidCache.GetCurrentBid(ctx, listingID)
}

func (s *BidService) publish(ctx context.Context, listingID string, eventType domain.ChangeEventType, payload interface{}) {
	publishEvent(ctx, s.publisher, s.log, listingID, eventType, payload, s.now())
}

func (s *BidService) record(outcome string) {
	if s.metrics != nil {
		s.metrics.BidsPlaced.WithLabelValues(outcome).Inc()
	}
}

// publishEvent logs instead of failing: the write it announces has already happened.
func publishEvent(ctx context.Context, publisher domain.EventPublisher, log logger.Logger,
	listingID string, eventType domain.ChangeEventType, payload interface{}, at time.Time) {
	event, err := domain.NewChangeEvent(listingID, eventType, payload, at)
	if err == nil {
		err = publisher.Publish(ctx, event)
	}
	if err != nil {
		log.Error("Failed to publish event", "listing_id", listingID, "type", eventType, "error", err)
	}
}
