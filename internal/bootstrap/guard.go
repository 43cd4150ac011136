package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunGuard serialises bootstrap runs that share a form store. A lease expires
// after its TTL so a crashed holder cannot block later runs forever.
type RunGuard interface {
	// Acquire takes the lease for owner. It returns false when another owner
	// holds an unexpired lease.
	Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)

	// Release gives the lease up if owner still holds it.
	Release(ctx context.Context, owner string) error
}

// --- MemoryRunGuard ---

// MemoryRunGuard is a RunGuard for a single process.
type MemoryRunGuard struct {
	mu        sync.Mutex
	owner     string
	expiresAt time.Time
	now       func() time.Time
}

// NewMemoryRunGuard creates a new in-memory run guard.
func NewMemoryRunGuard() *MemoryRunGuard {
	return &MemoryRunGuard{now: time.Now}
}

// Acquire takes the lease for owner.
func (g *MemoryRunGuard) Acquire(_ context.Context, owner string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.owner != "" && g.owner != owner && now.Before(g.expiresAt) {
		return false, nil
	}
	g.owner = owner
	g.expiresAt = now.Add(ttl)
	return true, nil
}

// Release gives the lease up.
func (g *MemoryRunGuard) Release(_ context.Context, owner string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.owner == owner {
		g.owner = ""
		g.expiresAt = time.Time{}
	}
	return nil
}

// --- RedisRunGuard ---

// releaseScript deletes the lease only when it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRunGuard is a Redis-backed RunGuard shared by every process of a
// deployment. The key format is "fieldform:bootstrap:{deployment}".
type RedisRunGuard struct {
	client redis.Cmdable
	key    string
}

// NewRedisRunGuard creates a run guard for the given deployment.
func NewRedisRunGuard(client redis.Cmdable, deployment string) *RedisRunGuard {
	return &RedisRunGuard{
		client: client,
		key:    "fieldform:bootstrap:" + deployment,
	}
}

// Acquire takes the lease with SET NX.
func (g *RedisRunGuard) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %q: %w", g.key, err)
	}
	return ok, nil
}

// Release deletes the lease if owner still holds it.
func (g *RedisRunGuard) Release(ctx context.Context, owner string) error {
	if err := releaseScript.Run(ctx, g.client, []string{g.key}, owner).Err(); err != nil {
		return fmt.Errorf("redis release %q: %w", g.key, err)
	}
	return nil
}

// Holder returns the current lease owner, or "" when the lease is free.
func (g *RedisRunGuard) Holder(ctx context.Context) (string, error) {
	owner, err := g.client.Get(ctx, g.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %q: %w", g.key, err)
	}
	return owner, nil
}
