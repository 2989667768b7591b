package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	chfsredis "github.com/ethpandaops/chfs/pkg/redis"
	"github.com/redis/go-redis/v9"
)

// NewMiniredis starts an in-memory Redis that stops with the test
func NewMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	return miniredis.RunT(t)
}

// NewMiniredisClient starts an in-memory Redis and a client closed with the test
func NewMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, cfg := NewRedisConfig(t)

	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("invalid miniredis config: %v", err)
	}

	client := redis.NewClient(opts)
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("failed to close miniredis client: %v", err)
		}
	})

	return mr, client
}

// NewRedisConfig starts an in-memory Redis and returns a config pointing at
// it with the default key prefix
func NewRedisConfig(t *testing.T) (*miniredis.Miniredis, chfsredis.Config) {
	t.Helper()

	mr := miniredis.RunT(t)

	return mr, chfsredis.Config{
		URL:    "redis://" + mr.Addr(),
		Prefix: chfsredis.DefaultPrefix,
	}
}
