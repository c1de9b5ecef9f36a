package leader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const DefaultKey = "listing_service_leader"

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisLeaderElection holds a SETNX lease on key and keeps it alive with a
// heartbeat while this process is leader.
type RedisLeaderElection struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu         sync.Mutex
	heartbeats map[string]chan struct{}
}

func NewRedisLeaderElection(client *redis.Client, key string, ttl time.Duration) *RedisLeaderElection {
	if key == "" {
		key = DefaultKey
	}
	return &RedisLeaderElection{
		client:     client,
		key:        key,
		ttl:        ttl,
		heartbeats: make(map[string]chan struct{}),
	}
}

// BecomeLeader acquires the lease, or reports true when instanceID already holds it.
func (r *RedisLeaderElection) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	acquired, err := r.client.SetNX(ctx, r.key, instanceID, r.ttl).Result()
	if err != nil {
		return false, err
	}
	if !acquired {
		return r.IsLeader(ctx, instanceID)
	}

	r.startHeartbeat(instanceID)
	return true, nil
}

func (r *RedisLeaderElection) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	currentLeader, err := r.client.Get(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}

	return currentLeader == instanceID, nil
}

func (r *RedisLeaderElection) ReleaseLeadership(ctx context.Context, instanceID string) error {
	r.stopHeartbeat(instanceID)
	return releaseScript.Run(ctx, r.client, []string{r.key}, instanceID).Err()
}

func (r *RedisLeaderElection) startHeartbeat(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, running := r.heartbeats[instanceID]; running {
		return
	}
	stop := make(chan struct{})
	r.heartbeats[instanceID] = stop
	go r.maintainLeadership(instanceID, stop)
}

func (r *RedisLeaderElection) stopHeartbeat(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stop, running := r.heartbeats[instanceID]; running {
		close(stop)
		delete(r.heartbeats, instanceID)
	}
}

func (r *RedisLeaderElection) maintainLeadership(instanceID string, stop chan struct{}) {
	ticker := time.NewTicker(r.ttl / 3) // Refresh at 1/3 of TTL
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		extended, err := extendScript.Run(ctx, r.client, []string{r.key}, instanceID, r.ttl.Milliseconds()).Int64()
		cancel()

		if err != nil || extended == 0 {
			// Lost leadership, stop heartbeat
			r.mu.Lock()
			if r.heartbeats[instanceID] == stop {
				delete(r.heartbeats, instanceID)
			}
			r.mu.Unlock()
			return
		}
	}
}
