//go:build integration

package cachestore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/bson"

	"imgcache/internal/storage"
)

func TestPostgreSQLStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("imgcache_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	res, err := New(ctx, Config{
		Type:    TypePostgreSQL,
		Storage: storage.Config{PostgreSQL: storage.PostgreSQLConfig{URL: url}},
	})
	require.NoError(t, err)
	defer res.Close()

	exerciseStore(t, res.Store)
	exerciseLargeSnapshot(t, res.Store)
}

func TestMongoDBStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	res, err := New(ctx, Config{
		Type:    TypeMongoDB,
		Storage: storage.Config{MongoDB: storage.MongoDBConfig{URL: url, Database: "imgcache_test"}},
	})
	require.NoError(t, err)
	defer res.Close()

	exerciseStore(t, res.Store)
	exerciseLargeSnapshot(t, res.Store)

	// Replacing a snapshot leaves only the current generation behind.
	mongoStore := res.Store.(*MongoDBStore)
	require.NoError(t, mongoStore.Save(ctx, sampleSnapshot()))
	require.NoError(t, mongoStore.Save(ctx, sampleSnapshot()))
	n, err := mongoStore.chunks.CountDocuments(ctx, bson.M{"cache_key": mongoStore.key})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	res, err := New(ctx, Config{
		Type:  TypeRedis,
		Redis: RedisConfig{URL: fmt.Sprintf("redis://%s:%s/0", host, port.Port())},
	})
	require.NoError(t, err)
	defer res.Close()

	exerciseStore(t, res.Store)
}

// exerciseLargeSnapshot round-trips a snapshot larger than a single MongoDB
// document may be.
func exerciseLargeSnapshot(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	big := Snapshot{}
	for i := range 3 {
		data := "data:image/jpeg;base64," + strings.Repeat(string(rune('A'+i)), 8*1024*1024)
		big[fmt.Sprintf("https://cdn.example.com/clinic-%d/hero.jpg", i)] = Entry{
			Data:      data,
			Timestamp: int64(1000 + i),
			ExpiresAt: int64(1000 + i + 7_200_000),
			Size:      int64(len(data) * 3 / 4),
		}
	}

	require.NoError(t, store.Save(ctx, big))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, len(big))
	for key, entry := range big {
		assert.Equal(t, entry, got[key], key)
	}

	require.NoError(t, store.Delete(ctx))
}
