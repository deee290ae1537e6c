package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	redisCacheTTL  = 5 * time.Minute
	redisKeyPrefix = "relay:key:"
)

// KeyStore looks up gateway key metadata by hash. A nil result with a nil
// error means the key is unknown, revoked or expired.
type KeyStore interface {
	Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error)
}

// Querier is the subset of pgxpool.Pool used by the store.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CachedKeyStore implements KeyStore with PostgreSQL and a Redis read-through cache.
type CachedKeyStore struct {
	db    Querier
	redis *redis.Client
	now   func() time.Time
}

func NewCachedKeyStore(db *pgxpool.Pool, rdb *redis.Client) *CachedKeyStore {
	if db == nil {
		return newCachedKeyStore(nil, rdb)
	}
	return newCachedKeyStore(db, rdb)
}

func newCachedKeyStore(db Querier, rdb *redis.Client) *CachedKeyStore {
	return &CachedKeyStore{db: db, redis: rdb, now: time.Now}
}

func (s *CachedKeyStore) Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, redisKeyPrefix+keyHash).Bytes()
		if err == nil {
			var meta KeyMetadata
			if err := json.Unmarshal(cached, &meta); err == nil && meta.ExpiresAt.After(s.now()) {
				return &meta, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			slog.Warn("key cache read failed", "error", err)
		}
	}

	meta, err := s.lookupDB(ctx, keyHash)
	if err != nil || meta == nil {
		return nil, err
	}

	if s.redis != nil {
		ttl := redisCacheTTL
		if until := meta.ExpiresAt.Sub(s.now()); until < ttl {
			ttl = until
		}
		if data, err := json.Marshal(meta); err == nil && ttl > 0 {
			if err := s.redis.Set(ctx, redisKeyPrefix+keyHash, data, ttl).Err(); err != nil {
				slog.Warn("key cache write failed", "error", err)
			}
		}
	}
	return meta, nil
}

func (s *CachedKeyStore) lookupDB(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	if s.db == nil {
		return nil, fmt.Errorf("key store has no database")
	}

	var meta KeyMetadata
	err := s.db.QueryRow(ctx, `
		SELECT id, name, rpm_limit, max_budget_tokens, expires_at
		FROM api_keys
		WHERE key_hash = $1
		  AND status = 'active'
		  AND expires_at > NOW()
	`, keyHash).Scan(
		&meta.ID,
		&meta.Name,
		&meta.RPMLimit,
		&meta.MaxBudgetTokens,
		&meta.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query api_keys: %w", err)
	}
	return &meta, nil
}
