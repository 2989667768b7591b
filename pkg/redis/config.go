// Package redis provides Redis client and Asynq connection configuration
package redis

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Define static errors
var (
	ErrURLRequired = errors.New("redis URL is required")
)

// DefaultPrefix namespaces every key and queue when no prefix is configured
const DefaultPrefix = "chfs"

// Config holds Redis client configuration
type Config struct {
	URL    string `yaml:"url" validate:"required,url"`
	Prefix string `yaml:"prefix" default:"chfs"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrURLRequired
	}

	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}

	return nil
}

// Options parses the URL into go-redis options
func (c *Config) Options() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return opts, nil
}

// AsynqOptions parses the URL into an Asynq connection for the task queue
func (c *Config) AsynqOptions() (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(c.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL for asynq: %w", err)
	}

	return opt, nil
}

// PrefixKey adds the configured prefix to a Redis key
func (c *Config) PrefixKey(key string) string {
	return PrefixKey(c.Prefix, key)
}

// PrefixQueue adds the configured prefix to an Asynq queue name
func (c *Config) PrefixQueue(queue string) string {
	return PrefixKey(c.Prefix, queue)
}

// PrefixKey joins a prefix and a key with a colon. An empty prefix leaves
// the key unchanged.
func PrefixKey(prefix, key string) string {
	if prefix == "" {
		return key
	}

	return fmt.Sprintf("%s:%s", prefix, key)
}
