package feed

import (
	"errors"
	"io"
	"log/slog"
	"time"
)

type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

type Config struct {
	// Name identifies the tracker being driven. It keys the lease and appears
	// in logs.
	Name            string
	BatchSize       int
	Concurrency     int
	PollInterval    time.Duration
	Retry           RetryConfig
	CheckpointEvery int
	// FlushTimeout bounds the final checkpoint written on shutdown.
	FlushTimeout time.Duration
	Logger       *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = time.Second
	}
	if c.CheckpointEvery == 0 {
		c.CheckpointEvery = 100
	}
	if c.FlushTimeout == 0 {
		c.FlushTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

func (c Config) validate() error {
	if c.Name == "" {
		return errors.New("tracker name is required")
	}
	if c.BatchSize < 1 {
		return errors.New("batch size must be >= 1")
	}
	if c.Concurrency < 1 {
		return errors.New("concurrency must be >= 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry max attempts must be >= 1")
	}
	if c.CheckpointEvery < 1 {
		return errors.New("checkpointEvery must be >= 1")
	}
	return nil
}
