package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// NonceLedger records consumed flow nonces. Consume returns true only for
// the first caller presenting a nonce within ttl.
type NonceLedger interface {
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// MemoryLedger is a process-local ledger
type MemoryLedger struct {
	cache *cache.Cache
}

// NewMemoryLedger creates a ledger that purges expired nonces every cleanup interval
func NewMemoryLedger(cleanup time.Duration) *MemoryLedger {
	return &MemoryLedger{cache: cache.New(cache.NoExpiration, cleanup)}
}

func (l *MemoryLedger) Consume(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	if nonce == "" {
		return false, nil
	}
	// Add fails when the key is present and not expired
	return l.cache.Add(nonceKey(nonce), struct{}{}, ttl) == nil, nil
}

// RedisLedger shares consumed nonces between server instances
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLedger(client redis.UniversalClient, prefix string) *RedisLedger {
	return &RedisLedger{client: client, prefix: prefix + "nonce:"}
}

func (l *RedisLedger) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if nonce == "" {
		return false, nil
	}
	ok, err := l.client.SetNX(ctx, l.prefix+nonceKey(nonce), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume nonce: %w", err)
	}
	return ok, nil
}

// nonceKey avoids keeping live nonces in the ledger
func nonceKey(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}
