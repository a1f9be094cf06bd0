package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	runLockPrefix  = "adsec:lock:run:" // Key holding the owner of a running analysis: adsec:lock:run:{assessment_id}
	DefaultLockTTL = 10 * time.Minute
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RunLock guards an assessment against concurrent runs across instances.
// The key expires after ttl unless refreshed, so a crashed instance does not
// block resumption forever.
type RunLock struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
}

// NewRunLock creates a lock held under owner, typically an instance id
func NewRunLock(client *redis.Client, owner string, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RunLock{client: client, owner: owner, ttl: ttl}
}

// TTL is the lease length; holders refresh well before it elapses
func (l *RunLock) TTL() time.Duration { return l.ttl }

// Acquire reports whether the lock was taken
func (l *RunLock) Acquire(ctx context.Context, assessmentID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, runLockPrefix+assessmentID, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

// Refresh extends a lock this owner still holds
func (l *RunLock) Refresh(ctx context.Context, assessmentID string) (bool, error) {
	n, err := refreshScript.Run(ctx, l.client, []string{runLockPrefix + assessmentID}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to refresh run lock: %w", err)
	}
	return n == 1, nil
}

// Release drops the lock if this owner holds it
func (l *RunLock) Release(ctx context.Context, assessmentID string) error {
	if err := releaseScript.Run(ctx, l.client, []string{runLockPrefix + assessmentID}, l.owner).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
