package domain

import "errors"

var (
	ErrListingNotFound         = errors.New("listing not found")
	ErrInvalidListing          = errors.New("invalid listing")
	ErrInvalidVIN              = errors.New("invalid VIN")
	ErrInvalidAmount           = errors.New("invalid bid amount")
	ErrInvalidStatusTransition = errors.New("invalid listing status transition")
	ErrPriceLocked             = errors.New("price can no longer be changed")
	ErrAuctionNotActive        = errors.New("listing is not in auction")
	ErrBiddingNotOpen          = errors.New("bidding has not been opened for listing")
	ErrBidTooLow               = errors.New("bid does not meet the minimum increment")
)
