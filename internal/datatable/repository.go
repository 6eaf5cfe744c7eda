package datatable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrConflict is returned when an update keeps losing the race against
// concurrent writers of the same owner.
var ErrConflict = errors.New("datatable: concurrent update conflict")

const maxUpdateAttempts = 10

// Repository persists the stores of table owners between requests.
type Repository interface {
	Load(ctx context.Context, scope string) (*Store, error)
	// Update applies fn to the owner's latest store and commits the result
	// atomically. fn may run more than once. written reports whether fn
	// changed the store.
	Update(ctx context.Context, scope string, fn func(*Store) error) (store *Store, written bool, err error)
}

// RedisRepository keeps one JSON document per owner in Redis.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRepository constructs a RedisRepository. A zero ttl keeps state forever.
func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{client: client, ttl: ttl}
}

type storedTables struct {
	Tables map[string]State `json:"tables"`
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Load returns the owner's store, or an empty store when nothing was saved.
func (r *RedisRepository) Load(ctx context.Context, scope string) (*Store, error) {
	return r.read(ctx, r.client, scope)
}

// Update runs fn inside a WATCH on the owner's key. A write by another
// request between the read and the commit aborts the transaction and fn is
// replayed on the fresh store. An unchanged store is not written.
func (r *RedisRepository) Update(ctx context.Context, scope string, fn func(*Store) error) (*Store, bool, error) {
	key := r.key(scope)
	var (
		result  *Store
		written bool
	)
	txf := func(tx *redis.Tx) error {
		store, err := r.read(ctx, tx, scope)
		if err != nil {
			return err
		}
		before := store.Version()
		if err := fn(store); err != nil {
			return err
		}
		result, written = store, false
		if store.Version() == before {
			return nil
		}
		data, err := json.Marshal(storedTables{Tables: store.Snapshot()})
		if err != nil {
			return fmt.Errorf("datatable: encode %s: %w", scope, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		written = true
		return nil
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("datatable: update %s: %w", scope, err)
		}
		return result, written, nil
	}
	return nil, false, fmt.Errorf("datatable: update %s: %w", scope, ErrConflict)
}

func (r *RedisRepository) read(ctx context.Context, db getter, scope string) (*Store, error) {
	payload, err := db.Get(ctx, r.key(scope)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return NewStore(), nil
		}
		return nil, fmt.Errorf("datatable: load %s: %w", scope, err)
	}
	var stored storedTables
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("datatable: decode %s: %w", scope, err)
	}
	return NewStoreFrom(stored.Tables), nil
}

func (r *RedisRepository) key(scope string) string {
	return "datatable:" + scope
}

var _ Repository = (*RedisRepository)(nil)
