package services

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBiddingRuleDao(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	dao := NewBiddingRuleDao(client)
	assert.Equal(t, defaultIncrement, dao.GetIncrementRule(30000), "before load")

	require.NoError(t, dao.LoadRules(context.Background()))
	assert.True(t, mr.Exists(bidRulesKey))

	assert.Equal(t, 100.0, dao.GetIncrementRule(0))
	assert.Equal(t, 250.0, dao.GetIncrementRule(5000))
	assert.Equal(t, 500.0, dao.GetIncrementRule(49999))
	assert.Equal(t, 1000.0, dao.GetIncrementRule(80000))
	assert.Equal(t, 12750.0, dao.GetMinimumBid(12500))

	require.NoError(t, mr.Set(bidRulesKey, `{"rules":{"0-5000":50,"5000-20000":50,"20000-50000":50,"50000+":50}}`))
	require.NoError(t, dao.LoadRules(context.Background()))
	assert.Equal(t, 50.0, dao.GetIncrementRule(80000))
}
