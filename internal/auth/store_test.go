package auth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

type fakeRow struct {
	meta *KeyMetadata
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.meta.ID
	*dest[1].(*string) = r.meta.Name
	*dest[2].(**int) = r.meta.RPMLimit
	*dest[3].(**int) = r.meta.MaxBudgetTokens
	*dest[4].(*time.Time) = r.meta.ExpiresAt
	return nil
}

type fakeDB struct {
	rows    map[string]*KeyMetadata
	err     error
	queries int
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.queries++
	if db.err != nil {
		return fakeRow{err: db.err}
	}
	meta, ok := db.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{meta: meta}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestCachedKeyStore_ReadThrough(t *testing.T) {
	mr, rdb := newTestRedis(t)
	db := &fakeDB{rows: map[string]*KeyMetadata{
		"hash-1": {ID: "key-1", Name: "ci", ExpiresAt: time.Now().Add(24 * time.Hour)},
	}}
	store := newCachedKeyStore(db, rdb)

	meta, err := store.Lookup(context.Background(), "hash-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if meta == nil || meta.ID != "key-1" {
		t.Fatalf("expected key-1, got %+v", meta)
	}
	if !mr.Exists(redisKeyPrefix + "hash-1") {
		t.Fatal("expected key to be cached")
	}
	if ttl := mr.TTL(redisKeyPrefix + "hash-1"); ttl != redisCacheTTL {
		t.Errorf("expected ttl %s, got %s", redisCacheTTL, ttl)
	}

	if _, err := store.Lookup(context.Background(), "hash-1"); err != nil {
		t.Fatalf("second Lookup: %v", err)
	}
	if db.queries != 1 {
		t.Errorf("expected 1 database query, got %d", db.queries)
	}
}

func TestCachedKeyStore_CacheHit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	data, _ := json.Marshal(KeyMetadata{ID: "cached", ExpiresAt: time.Now().Add(time.Hour)})
	mr.Set(redisKeyPrefix+"hash-2", string(data))

	db := &fakeDB{}
	meta, err := newCachedKeyStore(db, rdb).Lookup(context.Background(), "hash-2")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if meta.ID != "cached" {
		t.Errorf("expected cached metadata, got %+v", meta)
	}
	if db.queries != 0 {
		t.Errorf("expected no database query, got %d", db.queries)
	}
}

func TestCachedKeyStore_UnknownKey(t *testing.T) {
	_, rdb := newTestRedis(t)
	meta, err := newCachedKeyStore(&fakeDB{}, rdb).Lookup(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected no error for unknown key, got %v", err)
	}
	if meta != nil {
		t.Errorf("expected nil metadata, got %+v", meta)
	}
}

func TestCachedKeyStore_DatabaseError(t *testing.T) {
	store := newCachedKeyStore(&fakeDB{err: errors.New("connection reset")}, nil)
	if _, err := store.Lookup(context.Background(), "hash"); err == nil {
		t.Error("expected database error to propagate")
	}
}

func TestCachedKeyStore_NoRedis(t *testing.T) {
	db := &fakeDB{rows: map[string]*KeyMetadata{
		"h": {ID: "key-3", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	meta, err := newCachedKeyStore(db, nil).Lookup(context.Background(), "h")
	if err != nil || meta == nil || meta.ID != "key-3" {
		t.Errorf("expected key-3, got %+v (%v)", meta, err)
	}
}
