package worker

import (
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

var (
	// ErrInvalidConcurrency is returned when concurrency is not positive
	ErrInvalidConcurrency = errors.New("concurrency must be positive")
	// ErrInvalidShutdownTimeout is returned when the shutdown timeout is negative
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must not be negative")
	// ErrInvalidRetryDelay is returned when the retry delay is negative
	ErrInvalidRetryDelay = errors.New("retry delay must not be negative")
)

// Config controls how pipeline runs are pulled off the queue. A single
// concurrent run is the norm since runs overwrite the same tables.
type Config struct {
	Concurrency     int           `yaml:"concurrency" default:"1"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"30s"`
	// RetryDelay is the wait before a failed run is retried; zero keeps
	// Asynq's exponential backoff
	RetryDelay time.Duration `yaml:"retryDelay" default:"1m"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch {
	case c.Concurrency <= 0:
		return ErrInvalidConcurrency
	case c.ShutdownTimeout < 0:
		return ErrInvalidShutdownTimeout
	case c.RetryDelay < 0:
		return ErrInvalidRetryDelay
	}

	return nil
}

func (c *Config) retryDelayFunc() asynq.RetryDelayFunc {
	if c.RetryDelay == 0 {
		return asynq.DefaultRetryDelayFunc
	}

	delay := c.RetryDelay

	return func(int, error, *asynq.Task) time.Duration { return delay }
}
