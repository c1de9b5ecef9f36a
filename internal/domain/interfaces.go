package domain

import (
	"context"
)

// Repository interfaces
type ListingRepository interface {
	CreateListing(ctx context.Context, listing *Listing) error
	GetListing(ctx context.Context, listingID string) (*Listing, error)
	UpdatePrice(ctx context.Context, listingID string, price float64, reservePrice int64) error
	UpdateStatus(ctx context.Context, listingID string, status ListingStatus) error
	ListByStatus(ctx context.Context, statuses ...ListingStatus) ([]*Listing, error)
}

type BidRepository interface {
	SaveBid(ctx context.Context, bid *Bid) error
	GetBidHistory(ctx context.Context, listingID string) ([]*Bid, error)
}

// Cache interfaces
// BidCache holds the live top bid of each listing in auction. AtomicBidUpdate
// accepts amount only when it is at least the current bid plus the stored
// increment; nextIncrement replaces the increment when the bid is accepted,
// and the replaced top bid is returned. RevertBid restores that previous bid
// only while dealerID still holds the top at amount.
type BidCache interface {
	AtomicBidUpdate(ctx context.Context, listingID, dealerID string, amount, nextIncrement float64) (bool, *CurrentBid, error)
	RevertBid(ctx context.Context, listingID, dealerID string, amount float64, previous *CurrentBid) (bool, error)
	GetCurrentBid(ctx context.Context, listingID string) (*CurrentBid, error)
	InitializeBidding(ctx context.Context, listingID string, startingBid float64, incrementRule float64) error
	CloseBidding(ctx context.Context, listingID string) error
}

type TierStore interface {
	LoadTiers(ctx context.Context) ([]PriceTier, error)
	SaveTiers(ctx context.Context, tiers []PriceTier) error
}

type BiddingRuleDao interface {
	LoadRules(ctx context.Context) error
	GetMinimumBid(currentAmount float64) float64
	GetIncrementRule(amount float64) float64
}

// Event interfaces
type EventPublisher interface {
	Publish(ctx context.Context, event *ChangeEvent) error
}

type ChangeHandler func(event *ChangeEvent)

// Subscription is an opaque handle to one registration on a feed.
type Subscription interface {
	Topic() string
}

// FeedClient is the push-subscription boundary of the managed backend.
// onClose is called at most once, when the subscription drops without the
// caller asking for it.
type FeedClient interface {
	Subscribe(ctx context.Context, topic string, handler ChangeHandler, onClose func(error)) (Subscription, error)
	Unsubscribe(ctx context.Context, sub Subscription) error
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	UserID() string
	ListingID() string
}

// ListingBroadcaster pushes JSON messages to the watchers of a listing.
type ListingBroadcaster interface {
	BroadcastToListing(ctx context.Context, listingID string, message interface{}) error
	NotifyUser(ctx context.Context, userID string, message interface{}) error
	CloseListing(ctx context.Context, listingID string) error
}

// ConnectionManager indexes live connections by listing and by user. A user
// may hold several connections to the same listing.
type ConnectionManager interface {
	RegisterConnection(conn WebSocketConnection) error
	UnregisterConnection(conn WebSocketConnection) error
	GetConnectionsForListing(listingID string) []WebSocketConnection
	BroadcastToListing(listingID string, message interface{}) error
	NotifyUser(userID string, message interface{}) error
	CloseAndUnregisterConnections(listingID string) error
}
