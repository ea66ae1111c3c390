package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, "")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore_SaveAndLoad(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	snapshot := &Snapshot{
		ID:        "ckpt_run_r_v1",
		RunID:     "run_r",
		Version:   1,
		State:     []byte(`{"status":"running"}`),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Save(ctx, snapshot))

	loaded, err := store.Load(ctx, snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshot.ID, loaded.ID)
	assert.Equal(t, snapshot.RunID, loaded.RunID)
	assert.Equal(t, snapshot.Version, loaded.Version)
	assert.JSONEq(t, string(snapshot.State), string(loaded.State))
}

func TestRedisStore_LoadNotFound(t *testing.T) {
	store := setupRedisStore(t)

	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_LoadLatestUsesVersionIndex(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	// Saved out of order; the sorted set decides what latest means.
	for _, version := range []int{2, 1, 3} {
		require.NoError(t, store.Save(ctx, snapshotFor("run_s", version)))
	}

	latest, err := store.LoadLatest(ctx, "run_s")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)
}

func TestRedisStore_LoadLatestEmptyRun(t *testing.T) {
	store := setupRedisStore(t)

	_, err := store.LoadLatest(context.Background(), "run_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ListVersionOrder(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	for _, version := range []int{3, 1, 2} {
		require.NoError(t, store.Save(ctx, snapshotFor("run_t", version)))
	}

	snapshots, err := store.List(ctx, "run_t")
	require.NoError(t, err)
	require.Len(t, snapshots, 3)
	for i, snapshot := range snapshots {
		assert.Equal(t, i+1, snapshot.Version)
	}
}

func TestRedisStore_Delete(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, snapshotFor("run_u", 1)))
	require.NoError(t, store.Save(ctx, snapshotFor("run_u", 2)))

	require.NoError(t, store.Delete(ctx, "ckpt_run_u_v2"))

	_, err := store.Load(ctx, "ckpt_run_u_v2")
	assert.ErrorIs(t, err, ErrNotFound)

	// The index entry is gone too: latest falls back to v1.
	latest, err := store.LoadLatest(ctx, "run_u")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
}

func TestRedisStore_DeleteRun(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, snapshotFor("run_v", 1)))
	require.NoError(t, store.Save(ctx, snapshotFor("run_v", 2)))
	require.NoError(t, store.Save(ctx, snapshotFor("run_w", 1)))

	require.NoError(t, store.DeleteRun(ctx, "run_v"))

	_, err := store.LoadLatest(ctx, "run_v")
	assert.ErrorIs(t, err, ErrNotFound)
	snapshots, err := store.List(ctx, "run_v")
	require.NoError(t, err)
	assert.Empty(t, snapshots)

	_, err = store.LoadLatest(ctx, "run_w")
	assert.NoError(t, err)
}

func TestRedisStore_ManagerIntegration(t *testing.T) {
	store := setupRedisStore(t)
	manager := NewManager(store, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := manager.SaveState(ctx, "run_x", runDoc{Status: "running"})
		require.NoError(t, err)
	}

	snapshots, err := manager.History(ctx, "run_x")
	require.NoError(t, err)
	require.Len(t, snapshots, 3)
	assert.Equal(t, snapshots[1].ID, snapshots[2].ParentID)
}
