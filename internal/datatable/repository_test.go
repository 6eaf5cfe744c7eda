package datatable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T, ttl time.Duration) (*RedisRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRepository(client, ttl), mr
}

func TestRedisRepositoryLoadMissing(t *testing.T) {
	repo, _ := newTestRepository(t, time.Hour)

	store, err := repo.Load(context.Background(), "user:1")

	require.NoError(t, err)
	assert.Empty(t, store.Tables())
}

func TestRedisRepositoryRoundTrip(t *testing.T) {
	repo, mr := newTestRepository(t, time.Hour)
	ctx := context.Background()

	store, written, err := repo.Update(ctx, "user:1", func(s *Store) error {
		s.InitTable("tasks", State{Page: 2, PageSize: 20, Sort: "title", Order: OrderDesc, Filters: []Filter{
			{Key: "status", Value: Text("active")},
			{Key: "archive_date", Value: Range("2024-01-01", "")},
		}})
		return nil
	})
	require.NoError(t, err)
	assert.True(t, written)

	assert.True(t, mr.Exists("datatable:user:1"))
	assert.Equal(t, time.Hour, mr.TTL("datatable:user:1"))

	loaded, err := repo.Load(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, store.Snapshot(), loaded.Snapshot())

	other, err := repo.Load(ctx, "user:2")
	require.NoError(t, err)
	_, ok := other.Get("tasks")
	assert.False(t, ok)
}

func TestRedisRepositoryExpires(t *testing.T) {
	repo, mr := newTestRepository(t, time.Minute)
	ctx := context.Background()

	_, _, err := repo.Update(ctx, "user:1", func(s *Store) error {
		s.InitTable("tasks", DefaultState())
		return nil
	})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	loaded, err := repo.Load(ctx, "user:1")
	require.NoError(t, err)
	assert.Empty(t, loaded.Tables())
}

func TestRedisRepositoryUpdateSkipsUnchangedStore(t *testing.T) {
	repo, mr := newTestRepository(t, 0)

	store, written, err := repo.Update(context.Background(), "user:1", func(s *Store) error {
		s.State("tasks")
		return nil
	})

	require.NoError(t, err)
	assert.False(t, written)
	assert.Empty(t, store.Tables())
	assert.False(t, mr.Exists("datatable:user:1"))
}

func TestRedisRepositoryUpdateAbortsOnCallbackError(t *testing.T) {
	repo, mr := newTestRepository(t, 0)
	invalid := errors.New("invalid filter")

	_, _, err := repo.Update(context.Background(), "user:1", func(s *Store) error {
		s.SetParams("tasks", Params{Search: Ptr("draft")})
		return invalid
	})

	require.ErrorIs(t, err, invalid)
	assert.False(t, mr.Exists("datatable:user:1"))
}

func TestRedisRepositoryUpdateReplaysAfterInterleavedWrite(t *testing.T) {
	repo, _ := newTestRepository(t, 0)
	ctx := context.Background()

	attempts := 0
	store, written, err := repo.Update(ctx, "user:1", func(s *Store) error {
		attempts++
		if attempts == 1 {
			// Another request commits a filter after this one has read.
			_, _, err := repo.Update(ctx, "user:1", func(other *Store) error {
				other.SetParams("tasks", Params{Filters: []Filter{{Key: "status", Value: Text("active")}}})
				return nil
			})
			require.NoError(t, err)
		}
		s.SetParams("tasks", Params{Sort: Ptr("title"), Order: Ptr(OrderAsc)})
		return nil
	})

	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, 2, attempts)

	loaded, err := repo.Load(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, store.Snapshot(), loaded.Snapshot())
	st := loaded.State("tasks")
	assert.Equal(t, "title", st.Sort)
	assert.Equal(t, OrderAsc, st.Order)
	status, ok := st.Filter("status")
	require.True(t, ok)
	assert.Equal(t, "active", status.String())
}

func TestRedisRepositoryConcurrentUpdatesKeepEveryWrite(t *testing.T) {
	repo, _ := newTestRepository(t, 0)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := repo.Update(ctx, "user:1", func(s *Store) error {
				s.SetParams("tasks", Params{Filters: []Filter{{Key: fmt.Sprintf("f%d", i), Value: Text("x")}}})
				return nil
			})
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	loaded, err := repo.Load(ctx, "user:1")
	require.NoError(t, err)
	st := loaded.State("tasks")
	require.Len(t, st.Filters, writers)
	for i := 0; i < writers; i++ {
		_, ok := st.Filter(fmt.Sprintf("f%d", i))
		assert.True(t, ok, "filter f%d lost", i)
	}
}

func TestRedisRepositoryRejectsCorruptPayload(t *testing.T) {
	repo, mr := newTestRepository(t, 0)
	require.NoError(t, mr.Set("datatable:user:1", "{not json"))

	_, err := repo.Load(context.Background(), "user:1")
	assert.Error(t, err)
}
