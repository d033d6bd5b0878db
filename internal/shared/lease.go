// Package shared holds cross-cutting pipeline infrastructure.
package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PassLockKey builds the redis key guarding one scheduled pass.
func PassLockKey(pass string) string {
	return fmt.Sprintf("einvois:pass:%s:lock", pass)
}

// PassLease is a best-effort cross-process lock for scheduled passes. It
// keeps overlapping cron fires from running the same pass concurrently; the
// row-level claims in the staging store remain the correctness guarantee.
type PassLease struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPassLease constructs a lease manager. The TTL bounds how long a crashed
// holder blocks the next run.
func NewPassLease(client *redis.Client, ttl time.Duration) *PassLease {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PassLease{client: client, ttl: ttl}
}

// Acquire attempts to take the lease for a pass. It returns false without
// error when another holder has it.
func (l *PassLease) Acquire(ctx context.Context, pass, holder string) (bool, error) {
	return l.client.SetNX(ctx, PassLockKey(pass), holder, l.ttl).Result()
}

// Release frees the lease if this holder still owns it. A lease that expired
// and was re-acquired by another process is left alone.
func (l *PassLease) Release(ctx context.Context, pass, holder string) error {
	const script = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`
	return l.client.Eval(ctx, script, []string{PassLockKey(pass)}, holder).Err()
}
