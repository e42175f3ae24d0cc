package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kodix/kodix-server/internal/models"
)

func openCacheTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CacheEntry{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	store := NewDatabaseStore(openCacheTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "teams:u1:list", []byte("payload"), time.Minute))

	value, found, err := store.Get(ctx, "teams:u1:list")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("payload"), value)

	require.NoError(t, store.Delete(ctx, "teams:u1:list"))

	_, found, err = store.Get(ctx, "teams:u1:list")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDatabaseStoreExpiry(t *testing.T) {
	store := NewDatabaseStore(openCacheTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("x"), -time.Second))

	_, found, err := store.Get(ctx, "short")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDatabaseStoreDeleteByPrefix(t *testing.T) {
	store := NewDatabaseStore(openCacheTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "team:t1:todos", []byte("a"), time.Minute))
	require.NoError(t, store.Set(ctx, "team:t1:events", []byte("b"), time.Minute))
	require.NoError(t, store.Set(ctx, "team:t2:todos", []byte("c"), time.Minute))

	require.NoError(t, store.DeleteByPrefix(ctx, "team:t1:"))

	_, found, err := store.Get(ctx, "team:t1:todos")
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = store.Get(ctx, "team:t2:todos")
	require.NoError(t, err)
	require.True(t, found)
}

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	store := NewDatabaseStore(openCacheTestDB(t))
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rate:ip", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Greater(t, ttl, time.Duration(0))

	count, _, err = store.IncrementWithTTL(ctx, "rate:ip", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}
