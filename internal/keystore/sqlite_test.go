package keystore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesmerverse/maci-keyvault/internal/vaulterr"
)

// setupTestStore opens a named shared in-memory database unique to the test.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := OpenMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewSQLiteStore(db)
}

func testRecord(pk string) Record {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return Record{
		PublicKey:  pk,
		PrivateKey: "bm9uY2V8Y2lwaGVydGV4dA==",
		Status:     StatusActive,
		CreatedAt:  &now,
	}
}

func TestSQLiteStore_AddAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, testRecord("pk-1")))

	rec, err := store.Get(ctx, "pk-1")
	require.NoError(t, err)
	assert.Equal(t, "pk-1", rec.PublicKey)
	assert.Equal(t, StatusActive, rec.Status)
	require.NotNil(t, rec.CreatedAt)
	assert.True(t, rec.CreatedAt.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestSQLiteStore_AddDuplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, testRecord("pk-1")))

	err := store.Add(ctx, testRecord("pk-1"))
	assert.ErrorIs(t, err, vaulterr.ErrConflict)
}

func TestSQLiteStore_AddInvalid(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord("pk-1")
	rec.Status = "lost"
	assert.ErrorIs(t, store.Add(ctx, rec), vaulterr.ErrValidation)

	rec = testRecord("")
	assert.ErrorIs(t, store.Add(ctx, rec), vaulterr.ErrValidation)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, vaulterr.ErrNotFound)
}

func TestSQLiteStore_List(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	empty, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, store.Add(ctx, testRecord("pk-1")))
	noDate := testRecord("pk-2")
	noDate.CreatedAt = nil
	noDate.Name = "second"
	require.NoError(t, store.Add(ctx, noDate))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "pk-1", records[0].PublicKey)
	assert.Equal(t, "pk-2", records[1].PublicKey)
	assert.Equal(t, "second", records[1].Name)
	assert.Nil(t, records[1].CreatedAt)
}

func TestSQLiteStore_Replace(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, testRecord("pk-1")))

	rec, err := store.Get(ctx, "pk-1")
	require.NoError(t, err)
	rec.Status = StatusDiscarded
	rec.Name = "old vote key"
	require.NoError(t, store.Replace(ctx, *rec))

	got, err := store.Get(ctx, "pk-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDiscarded, got.Status)
	assert.Equal(t, "old vote key", got.Name)

	err = store.Replace(ctx, testRecord("missing"))
	assert.ErrorIs(t, err, vaulterr.ErrNotFound)
}

func TestSQLiteStore_RemoveIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, testRecord("pk-1")))
	require.NoError(t, store.Remove(ctx, "pk-1"))
	require.NoError(t, store.Remove(ctx, "pk-1"))
	require.NoError(t, store.Remove(ctx, "never-existed"))

	_, err := store.Get(ctx, "pk-1")
	assert.ErrorIs(t, err, vaulterr.ErrNotFound)
}

func TestKeyLocks_SerialisesSameKey(t *testing.T) {
	locks := NewKeyLocks()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("pk-1")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 0, locks.Len())
}

func TestKeyLocks_IndependentKeys(t *testing.T) {
	locks := NewKeyLocks()

	unlockA := locks.Lock("pk-a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("pk-b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key should not block")
	}
	unlockA()
	unlockA()
	assert.Equal(t, 0, locks.Len())
}
