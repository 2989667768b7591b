//go:build integration

package testutil

import (
	"context"
	"testing"

	chfsredis "github.com/ethpandaops/chfs/pkg/redis"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// RedisConnection is a Redis container with a connected client
type RedisConnection struct {
	Client *redis.Client
	Config chfsredis.Config
}

// NewRedisContainer starts a Redis container that is terminated with the test
func NewRedisContainer(t *testing.T) *RedisConnection {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get Redis connection string: %v", err)
	}

	cfg := chfsredis.Config{URL: uri, Prefix: chfsredis.DefaultPrefix}

	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("invalid Redis container config: %v", err)
	}

	client := redis.NewClient(opts)
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("failed to close Redis client: %v", err)
		}
	})

	return &RedisConnection{Client: client, Config: cfg}
}
