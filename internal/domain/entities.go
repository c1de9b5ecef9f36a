package domain

import (
	"encoding/json"
	"time"
)

// PriceTier is one band of the reserve price schedule. MaxPrice is an
// inclusive upper bound; nil (no max_price in JSON) means unbounded.
type PriceTier struct {
	MinPrice         float64  `json:"min_price"`
	MaxPrice         *float64 `json:"max_price,omitempty"`
	RetainedFraction float64  `json:"retained_fraction"`
}

func (t PriceTier) Unbounded() bool {
	return t.MaxPrice == nil
}

// PriceLimit returns an upper bound for PriceTier.MaxPrice.
func PriceLimit(v float64) *float64 {
	return &v
}

type Listing struct {
	ID           string
	SellerID     string
	VIN          string
	Make         string
	Model        string
	Year         int
	Mileage      int
	Price        float64
	ReservePrice int64
	Status       ListingStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ListingStatus string

const (
	ListingDraft     ListingStatus = "draft"
	ListingInReview  ListingStatus = "in_review"
	ListingApproved  ListingStatus = "approved"
	ListingInAuction ListingStatus = "in_auction"
	ListingSold      ListingStatus = "sold"
	ListingWithdrawn ListingStatus = "withdrawn"
)

func (s ListingStatus) String() string {
	return string(s)
}

func (s ListingStatus) Valid() bool {
	switch s {
	case ListingDraft, ListingInReview, ListingApproved, ListingInAuction, ListingSold, ListingWithdrawn:
		return true
	default:
		return false
	}
}

var listingTransitions = map[ListingStatus][]ListingStatus{
	ListingDraft:     {ListingInReview, ListingWithdrawn},
	ListingInReview:  {ListingApproved, ListingDraft, ListingWithdrawn},
	ListingApproved:  {ListingInAuction, ListingWithdrawn},
	ListingInAuction: {ListingSold, ListingApproved, ListingWithdrawn},
}

// CanTransitionTo reports whether a listing may move from s to next.
func (s ListingStatus) CanTransitionTo(next ListingStatus) bool {
	for _, allowed := range listingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ReservePriceEditable is true while the seller can still change the asking price.
func (s ListingStatus) ReservePriceEditable() bool {
	return s == ListingDraft || s == ListingInReview || s == ListingApproved
}

type Bid struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	DealerID  string    `json:"dealer_id"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// CurrentBid is the cached top of a listing's auction.
type CurrentBid struct {
	ListingID     string
	Amount        float64
	DealerID      string
	IncrementRule float64
	LastUpdated   time.Time
}

type BidValidationRules struct {
	Rules map[string]float64 `json:"rules"`
}

type ChangeEventType string

const (
	BidAccepted   ChangeEventType = "bid_accepted"
	StatusChanged ChangeEventType = "status_changed"
	PriceChanged  ChangeEventType = "price_changed"
)

// ChangeEvent is one message on a push feed topic.
type ChangeEvent struct {
	Topic     string          `json:"topic"`
	Type      ChangeEventType `json:"type"`
	ListingID string          `json:"listing_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type BidAcceptedPayload struct {
	BidID    string  `json:"bid_id"`
	DealerID string  `json:"dealer_id"`
	Amount   float64 `json:"amount"`
}

type StatusChangedPayload struct {
	From ListingStatus `json:"from"`
	To   ListingStatus `json:"to"`
}

type PriceChangedPayload struct {
	Price        float64 `json:"price"`
	ReservePrice int64   `json:"reserve_price"`
}

// NewChangeEvent builds an event on the listing's topic with payload encoded as JSON.
func NewChangeEvent(listingID string, eventType ChangeEventType, payload interface{}, at time.Time) (*ChangeEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &ChangeEvent{
		Topic:     ListingTopic(listingID),
		Type:      eventType,
		ListingID: listingID,
		Payload:   data,
		Timestamp: at,
	}, nil
}

// ListingTopic is the feed topic carrying every change for one listing.
func ListingTopic(listingID string) string {
	return "listing:" + listingID
}
