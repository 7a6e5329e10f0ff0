package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

const (
	revokedTokenPrefix = "auth:revoked:"
	scanBatch          = 200
)

// CacheRepository stores JSON values in Redis under a shared key prefix and
// keeps the access token revocation list. With a nil client every read
// misses and every write is dropped.
type CacheRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewCacheRepository(client *redis.Client, prefix string, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, prefix: prefix, logger: logger}
}

// Enabled reports whether a Redis client is configured.
func (r *CacheRepository) Enabled() bool {
	return r != nil && r.client != nil
}

func (r *CacheRepository) key(k string) string { return r.prefix + k }

// Get decodes the value at key into dest. A missing key is ErrCacheMiss.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if !r.Enabled() {
		return appErrors.ErrCacheMiss
	}
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return appErrors.ErrCacheMiss
	case err != nil:
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("cache decode %s: %w", key, err)
	}
	return nil
}

// Set encodes value as JSON and stores it for ttl.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !r.Enabled() {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return r.client.Set(ctx, r.key(key), payload, ttl).Err()
}

// DeleteByPattern unlinks every key matching the glob pattern, in batches.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) error {
	if !r.Enabled() {
		return nil
	}
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.key(pattern), scanBatch).Result()
		if err != nil {
			return fmt.Errorf("cache scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := r.client.Unlink(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache unlink %s: %w", pattern, err)
			}
			removed += len(keys)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	r.logger.Debug("cache keys purged", zap.String("pattern", pattern), zap.Int("removed", removed))
	return nil
}

// Revoke blacklists a token id for ttl, the remaining lifetime of the token.
func (r *CacheRepository) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if !r.Enabled() || jti == "" || ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(revokedTokenPrefix+jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether the token id is blacklisted. Lookup failures
// are logged and count as not revoked, so a Redis outage does not sign
// everyone out.
func (r *CacheRepository) IsRevoked(ctx context.Context, jti string) bool {
	if !r.Enabled() || jti == "" {
		return false
	}
	n, err := r.client.Exists(ctx, r.key(revokedTokenPrefix+jti)).Result()
	if err != nil {
		r.logger.Warn("token revocation lookup failed", zap.Error(err))
		return false
	}
	return n > 0
}

// Ping checks the connection for readiness probes.
func (r *CacheRepository) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

// Close releases the connection.
func (r *CacheRepository) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.client.Close()
}
