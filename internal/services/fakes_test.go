package services

import (
	"context"
	"sync"

	"car-marketplace/internal/domain"
)

type memListingRepo struct {
	mu       sync.Mutex
	listings map[string]*domain.Listing
	priceOps int
}

func newMemListingRepo(listings ...*domain.Listing) *memListingRepo {
	r := &memListingRepo{listings: make(map[string]*domain.Listing)}
	for _, l := range listings {
		r.listings[l.ID] = l
	}
	return r
}

func (r *memListingRepo) CreateListing(_ context.Context, l *domain.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *l
	r.listings[l.ID] = &copied
	return nil
}

func (r *memListingRepo) GetListing(_ context.Context, id string) (*domain.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, domain.ErrListingNotFound
	}
	copied := *l
	return &copied, nil
}

func (r *memListingRepo) UpdatePrice(_ context.Context, id string, price float64, reserve int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return domain.ErrListingNotFound
	}
	l.Price, l.ReservePrice = price, reserve
	r.priceOps++
	return nil
}

func (r *memListingRepo) UpdateStatus(_ context.Context, id string, status domain.ListingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return domain.ErrListingNotFound
	}
	l.Status = status
	return nil
}

func (r *memListingRepo) ListByStatus(_ context.Context, statuses ...domain.ListingStatus) ([]*domain.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Listing
	for _, l := range r.listings {
		for _, s := range statuses {
			if l.Status == s {
				copied := *l
				out = append(out, &copied)
			}
		}
	}
	return out, nil
}

type memBidRepo struct {
	mu      sync.Mutex
	bids    []*domain.Bid
	saveErr error
}

func (r *memBidRepo) SaveBid(_ context.Context, bid *domain.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.bids = append(r.bids, bid)
	return nil
}

func (r *memBidRepo) GetBidHistory(_ context.Context, listingID string) ([]*domain.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Bid
	for _, b := range r.bids {
		if b.ListingID == listingID {
			out = append(out, b)
		}
	}
	return out, nil
}

// memBidCache mirrors the compare-and-swap of the Redis script.
type memBidCache struct {
	mu   sync.Mutex
	bids map[string]*domain.CurrentBid
}

func newMemBidCache() *memBidCache {
	return &memBidCache{bids: make(map[string]*domain.CurrentBid)}
}

func (c *memBidCache) AtomicBidUpdate(_ context.Context, listingID, dealerID string, amount, nextIncrement float64) (bool, *domain.CurrentBid, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.bids[listingID]
	if !ok {
		return false, nil, domain.ErrBiddingNotOpen
	}
	if amount < cur.Amount+cur.IncrementRule {
		return false, nil, nil
	}
	previous := *cur
	cur.Amount, cur.DealerID, cur.IncrementRule = amount, dealerID, nextIncrement
	return true, &previous, nil
}

func (c *memBidCache) RevertBid(_ context.Context, listingID, dealerID string, amount float64, previous *domain.CurrentBid) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.bids[listingID]
	if !ok || cur.Amount != amount || cur.DealerID != dealerID {
		return false, nil
	}
	restored := *previous
	c.bids[listingID] = &restored
	return true, nil
}

func (c *memBidCache) GetCurrentBid(_ context.Context, listingID string) (*domain.CurrentBid, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.bids[listingID]
	if !ok {
		return nil, domain.ErrBiddingNotOpen
	}
	copied := *cur
	return &copied, nil
}

func (c *memBidCache) InitializeBidding(_ context.Context, listingID string, startingBid, increment float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bids[listingID] = &domain.CurrentBid{ListingID: listingID, Amount: startingBid, IncrementRule: increment}
	return nil
}

func (c *memBidCache) CloseBidding(_ context.Context, listingID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bids, listingID)
	return nil
}

func (c *memBidCache) open(listingID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.bids[listingID]
	return ok
}

type flatRules struct{ increment float64 }

func (flatRules) LoadRules(context.Context) error { return nil }
func (r flatRules) GetMinimumBid(current float64) float64 { return current + r.increment }
func (r flatRules) GetIncrementRule(float64) float64 { return r.increment }

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e *domain.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []domain.ChangeEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.ChangeEventType
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages map[string][]map[string]interface{}
	closed   []string
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{messages: make(map[string][]map[string]interface{})}
}

func (b *recordingBroadcaster) BroadcastToListing(_ context.Context, listingID string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[listingID] = append(b.messages[listingID], message.(map[string]interface{}))
	return nil
}

func (b *recordingBroadcaster) NotifyUser(context.Context, string, interface{}) error { return nil }

func (b *recordingBroadcaster) CloseListing(_ context.Context, listingID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, listingID)
	return nil
}

func (b *recordingBroadcaster) ofType(listingID, msgType string) []map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]interface{}
	for _, m := range b.messages[listingID] {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

type pricerFunc func(float64) (int64, error)

func (f pricerFunc) ReservePrice(price float64) (int64, error) { return f(price) }
