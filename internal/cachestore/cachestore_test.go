package cachestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgcache/internal/storage"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		"https://cdn.example.com/clinic-1.jpg": {
			Data:      "data:image/jpeg;base64,AAAA",
			Timestamp: 2000,
			ExpiresAt: 2000 + 7_200_000,
			Size:      20,
		},
		"https://cdn.example.com/logo.png": {
			Data:      "data:image/png;base64,BBBB",
			Timestamp: 1000,
			ExpiresAt: 1000 + 7_200_000,
			Size:      19,
		},
	}
}

// exerciseStore runs the shared Store contract against any backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "empty store should load nil")

	want := sampleSnapshot()
	require.NoError(t, store.Save(ctx, want))

	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// A second save replaces the blob wholesale.
	replacement := Snapshot{"https://cdn.example.com/only.webp": {Data: "data:image/webp;base64,CC", Timestamp: 5, ExpiresAt: 10, Size: 18}}
	require.NoError(t, store.Save(ctx, replacement))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, replacement, got)

	require.NoError(t, store.Delete(ctx))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting twice is fine.
	require.NoError(t, store.Delete(ctx))
}

func TestSnapshotKeys_InsertionOrder(t *testing.T) {
	snap := sampleSnapshot()
	snap["https://cdn.example.com/b.png"] = Entry{Timestamp: 1000}

	assert.Equal(t, []string{
		"https://cdn.example.com/b.png",
		"https://cdn.example.com/logo.png",
		"https://cdn.example.com/clinic-1.jpg",
	}, snap.Keys())
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_SaveCopiesData(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	snap := sampleSnapshot()
	require.NoError(t, store.Save(ctx, snap))
	delete(snap, "https://cdn.example.com/logo.png")

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestLocalStore(t *testing.T) {
	t.Run("Contract", func(t *testing.T) {
		exerciseStore(t, NewLocalStore(filepath.Join(t.TempDir(), "imageCache.json")))
	})

	t.Run("CreateDirectoryIfNeeded", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "nested", "dir", "imageCache.json")
		store := NewLocalStore(cacheFile)

		require.NoError(t, store.Save(context.Background(), Snapshot{}))

		_, err := os.Stat(cacheFile)
		require.NoError(t, err, "cache file was not created")
		_, err = os.Stat(cacheFile + ".tmp")
		assert.True(t, os.IsNotExist(err), "temp file should be renamed away")
	})

	t.Run("EmptyFilePath", func(t *testing.T) {
		store := NewLocalStore("")
		ctx := context.Background()

		got, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, store.Save(ctx, sampleSnapshot()))
		require.NoError(t, store.Delete(ctx))
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "imageCache.json")
		require.NoError(t, os.WriteFile(cacheFile, []byte("not valid json"), 0o644))

		_, err := NewLocalStore(cacheFile).Load(context.Background())
		require.Error(t, err)
	})

	t.Run("PersistedFormat", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "imageCache.json")
		store := NewLocalStore(cacheFile)
		require.NoError(t, store.Save(context.Background(), Snapshot{
			"u": {Data: "data:image/png;base64,AA", Timestamp: 1, ExpiresAt: 2, Size: 3},
		}))

		raw, err := os.ReadFile(cacheFile)
		require.NoError(t, err)
		assert.JSONEq(t, `{"u":{"data":"data:image/png;base64,AA","timestamp":1,"expiresAt":2,"size":3}}`, string(raw))
	})
}

func TestSQLiteStore(t *testing.T) {
	conn, err := storage.NewSQLite(storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	defer conn.Close()

	store, err := NewSQLiteStore(conn.SQLiteDB(), "")
	require.NoError(t, err)
	exerciseStore(t, store)

	t.Run("KeysAreIsolated", func(t *testing.T) {
		ctx := context.Background()
		a, err := NewSQLiteStore(conn.SQLiteDB(), "a")
		require.NoError(t, err)
		b, err := NewSQLiteStore(conn.SQLiteDB(), "b")
		require.NoError(t, err)

		require.NoError(t, a.Save(ctx, sampleSnapshot()))
		got, err := b.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("DefaultsToLocal", func(t *testing.T) {
		res, err := New(ctx, Config{LocalPath: filepath.Join(t.TempDir(), "c.json")})
		require.NoError(t, err)
		defer res.Close()
		assert.Equal(t, TypeLocal, res.Store.Name())
		assert.Nil(t, res.Storage)
	})

	t.Run("Memory", func(t *testing.T) {
		res, err := New(ctx, Config{Type: TypeMemory})
		require.NoError(t, err)
		defer res.Close()
		assert.Equal(t, TypeMemory, res.Store.Name())
	})

	t.Run("SQLiteOwnsConnection", func(t *testing.T) {
		res, err := New(ctx, Config{
			Type: TypeSQLite,
			Storage: storage.Config{
				SQLite: storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "c.db")},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, TypeSQLite, res.Store.Name())
		require.NotNil(t, res.Storage)
		require.NoError(t, res.Close())
	})

	t.Run("InvalidRedisURL", func(t *testing.T) {
		_, err := New(ctx, Config{Type: TypeRedis, Redis: RedisConfig{URL: "not-a-url"}})
		require.Error(t, err)
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := New(ctx, Config{Type: "dynamodb"})
		require.ErrorContains(t, err, "unknown cache store type")
	})
}

func TestNewWithSharedStorage_Nil(t *testing.T) {
	_, err := NewWithSharedStorage(context.Background(), nil, "")
	require.Error(t, err)
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		size    int
		want    []string
	}{
		{"empty payload keeps one chunk", "", 4, []string{""}},
		{"smaller than chunk", "abc", 4, []string{"abc"}},
		{"exact multiple", "abcdefgh", 4, []string{"abcd", "efgh"}},
		{"remainder", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := splitChunks([]byte(tt.payload), tt.size)
			got := make([]string, len(parts))
			for i, p := range parts {
				got[i] = string(p)
				assert.LessOrEqual(t, len(p), tt.size)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitChunks_FitsMongoDocumentLimit(t *testing.T) {
	const maxBSONDocument = 16 * 1024 * 1024
	// Room for the chunk's other fields.
	assert.Less(t, mongoChunkSize, maxBSONDocument-1024)

	payload := make([]byte, 2*mongoChunkSize+1)
	parts := splitChunks(payload, mongoChunkSize)
	require.Len(t, parts, 3)
	assert.Len(t, parts[2], 1)
}
