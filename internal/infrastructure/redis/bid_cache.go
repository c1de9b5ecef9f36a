package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"car-marketplace/internal/domain"

	"github.com/go-redis/redis/v8"
)

// atomicBidScript compares and swaps the top bid of one listing and returns
// the fields it replaced.
// KEYS[1] listing hash; ARGV amount, dealer, unix time, next increment.
var atomicBidScript = redis.NewScript(`
local current_amount = redis.call('HGET', KEYS[1], 'current_bid')
if current_amount == false then
    return {0, "bidding_not_open"}
end

local increment_raw = redis.call('HGET', KEYS[1], 'increment_rule') or "0"
local dealer = redis.call('HGET', KEYS[1], 'dealer_id') or ""
local updated = redis.call('HGET', KEYS[1], 'last_updated') or "0"

local current = tonumber(current_amount)
local increment = tonumber(increment_raw)
local new_amount = tonumber(ARGV[1])

if new_amount >= (current + increment) then
    redis.call('HSET', KEYS[1],
        'current_bid', ARGV[1],
        'dealer_id', ARGV[2],
        'last_updated', ARGV[3],
        'increment_rule', ARGV[4])
    return {1, "success", current_amount, dealer, increment_raw, updated}
end
return {0, "insufficient_increment"}
`)

// revertBidScript puts back the replaced top bid, but only while the hash
// still holds the bid being undone.
// KEYS[1] listing hash; ARGV amount, dealer, then previous amount, dealer,
// increment, unix time.
var revertBidScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'current_bid') ~= ARGV[1] then
    return 0
end
if redis.call('HGET', KEYS[1], 'dealer_id') ~= ARGV[2] then
    return 0
end
redis.call('HSET', KEYS[1],
    'current_bid', ARGV[3],
    'dealer_id', ARGV[4],
    'increment_rule', ARGV[5],
    'last_updated', ARGV[6])
return 1
`)

type BidCache struct {
	client *redis.Client
}

func NewBidCache(client *redis.Client) *BidCache {
	return &BidCache{client: client}
}

func bidKey(listingID string) string {
	return fmt.Sprintf("listing:%s:bid", listingID)
}

func (r *BidCache) InitializeBidding(ctx context.Context, listingID string, startingBid float64, incrementRule float64) error {
	return r.client.HSet(ctx, bidKey(listingID),
		"current_bid", formatAmount(startingBid),
		"dealer_id", "",
		"increment_rule", formatAmount(incrementRule),
		"last_updated", time.Now().Unix(),
	).Err()
}

func (r *BidCache) CloseBidding(ctx context.Context, listingID string) error {
	return r.client.Del(ctx, bidKey(listingID)).Err()
}

func (r *BidCache) AtomicBidUpdate(ctx context.Context, listingID, dealerID string, amount, nextIncrement float64) (bool, *domain.CurrentBid, error) {
	result, err := atomicBidScript.Run(ctx, r.client, []string{bidKey(listingID)},
		formatAmount(amount),
		dealerID,
		strconv.FormatInt(time.Now().Unix(), 10),
		formatAmount(nextIncrement),
	).Slice()
	if err != nil {
		return false, nil, err
	}
	if len(result) < 2 {
		return false, nil, fmt.Errorf("unexpected bid script reply: %v", result)
	}

	accepted, _ := result[0].(int64)
	if accepted == 1 {
		if len(result) != 6 {
			return false, nil, fmt.Errorf("unexpected bid script reply: %v", result)
		}
		previous := &domain.CurrentBid{ListingID: listingID}
		previous.Amount, _ = strconv.ParseFloat(replyString(result[2]), 64)
		previous.DealerID = replyString(result[3])
		previous.IncrementRule, _ = strconv.ParseFloat(replyString(result[4]), 64)
		unix, _ := strconv.ParseInt(replyString(result[5]), 10, 64)
		previous.LastUpdated = time.Unix(unix, 0)
		return true, previous, nil
	}
	if reason, _ := result[1].(string); reason == "bidding_not_open" {
		return false, nil, domain.ErrBiddingNotOpen
	}
	return false, nil, nil
}

func (r *BidCache) RevertBid(ctx context.Context, listingID, dealerID string, amount float64, previous *domain.CurrentBid) (bool, error) {
	reverted, err := revertBidScript.Run(ctx, r.client, []string{bidKey(listingID)},
		formatAmount(amount),
		dealerID,
		formatAmount(previous.Amount),
		previous.DealerID,
		formatAmount(previous.IncrementRule),
		strconv.FormatInt(previous.LastUpdated.Unix(), 10),
	).Int()
	if err != nil {
		return false, err
	}
	return reverted == 1, nil
}

func (r *BidCache) GetCurrentBid(ctx context.Context, listingID string) (*domain.CurrentBid, error) {
	result, err := r.client.HMGet(ctx, bidKey(listingID), "current_bid", "dealer_id", "increment_rule", "last_updated").Result()
	if err != nil {
		return nil, err
	}
	if result[0] == nil {
		return nil, domain.ErrBiddingNotOpen
	}

	current := &domain.CurrentBid{ListingID: listingID}
	current.Amount, _ = strconv.ParseFloat(result[0].(string), 64)
	if result[1] != nil {
		current.DealerID = result[1].(string)
	}
	if result[2] != nil {
		current.IncrementRule, _ = strconv.ParseFloat(result[2].(string), 64)
	}
	if result[3] != nil {
		unix, _ := strconv.ParseInt(result[3].(string), 10, 64)
		current.LastUpdated = time.Unix(unix, 0)
	}
	return current, nil
}

func replyString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
