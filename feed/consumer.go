// Package feed drives a handler over an upstream feed and records progress in
// a sequence number tracker, so a restarted consumer resumes strictly after
// the last checkpointed entry.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pratilipi/sequence-tracker-go/lease"
	"github.com/pratilipi/sequence-tracker-go/tracker"
)

type HandlerFunc func(ctx context.Context, entry Entry) error
type BatchHandlerFunc func(ctx context.Context, entries []Entry) error

type Consumer struct {
	cfg          Config
	source       Source
	tracker      tracker.SequenceNumberTracker
	handler      HandlerFunc
	batchHandler BatchHandlerFunc
	lease        *LeaseConfig
	conflict     ConflictPolicy
	logger       *slog.Logger
}

func New(cfg Config, source Source, tr tracker.SequenceNumberTracker, handler HandlerFunc, opts ...Option) (*Consumer, error) {
	if source == nil {
		return nil, errors.New("feed source is required")
	}
	if tr == nil {
		return nil, errors.New("sequence number tracker is required")
	}

	var set settings
	for _, opt := range opts {
		if opt != nil {
			opt(&set)
		}
	}
	if handler == nil && set.batchHandler == nil {
		return nil, errors.New("handler is required (provide WithBatchHandler for batch processing)")
	}
	if set.conflict != AdoptStored && set.conflict != FailOnConflict {
		return nil, fmt.Errorf("unknown conflict policy %d", set.conflict)
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if set.lease != nil {
		l := set.lease.withDefaults()
		if err := l.validate(cfg); err != nil {
			return nil, err
		}
		set.lease = &l
	}

	return &Consumer{
		cfg:          cfg,
		source:       source,
		tracker:      tr,
		handler:      handler,
		batchHandler: set.batchHandler,
		lease:        set.lease,
		conflict:     set.conflict,
		logger:       cfg.Logger,
	}, nil
}

// Start consumes until ctx is cancelled or a handler exhausts its retries.
// Cancellation is a clean stop and returns nil after the last processed entry
// has been checkpointed.
func (c *Consumer) Start(ctx context.Context) error {
	if c.lease != nil {
		return c.consumeWithLease(ctx)
	}
	return c.consume(ctx)
}

func (c *Consumer) consumeWithLease(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		l, acquired, err := c.lease.Manager.Acquire(ctx, c.cfg.Name, c.lease.Owner, c.lease.TTL)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("tracker %s lease acquire: %w", c.cfg.Name, err)
		}
		if !acquired {
			if err := sleepWithContext(ctx, c.lease.RetryInterval); err != nil {
				return nil
			}
			continue
		}

		c.logger.Info("acquired tracker lease", slog.String("tracker", c.cfg.Name), slog.String("owner", c.lease.Owner))
		err = c.consumeWithLeaseRenewal(ctx, l)
		if err != nil {
			if errors.Is(err, lease.ErrNotOwned) {
				c.logger.Warn("lost tracker lease", slog.String("tracker", c.cfg.Name), slog.String("owner", c.lease.Owner))
				continue
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) consumeWithLeaseRenewal(ctx context.Context, l lease.Lease) error {
	leaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	renewErrCh := make(chan error, 1)
	go c.renewLeaseLoop(leaseCtx, l, renewErrCh, cancel)

	err := c.consume(leaseCtx)

	var renewErr error
	select {
	case renewErr = <-renewErrCh:
	default:
	}

	if releaseErr := l.Release(context.WithoutCancel(ctx)); releaseErr != nil && !errors.Is(releaseErr, lease.ErrNotOwned) {
		if err == nil {
			err = fmt.Errorf("tracker %s release lease: %w", c.cfg.Name, releaseErr)
		} else {
			err = fmt.Errorf("%w; tracker %s release lease: %v", err, c.cfg.Name, releaseErr)
		}
	}

	if err == nil && renewErr != nil {
		err = fmt.Errorf("tracker %s lease renewal: %w", c.cfg.Name, renewErr)
	} else if renewErr != nil {
		err = fmt.Errorf("%w; tracker %s lease renewal: %v", err, c.cfg.Name, renewErr)
	}
	return err
}

func (c *Consumer) renewLeaseLoop(ctx context.Context, l lease.Lease, errCh chan<- error, cancel context.CancelFunc) {
	ticker := time.NewTicker(c.lease.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Renew(ctx, c.lease.TTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case errCh <- err:
				default:
				}
				cancel()
				return
			}
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	last, err := c.tracker.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("tracker %s read: %w", c.cfg.Name, err)
	}
	c.logger.Info("resuming from checkpoint", slog.String("tracker", c.cfg.Name), slog.Int64("sequence_number", last))

	checkpointed := last
	processedSinceCheckpoint := 0

	for {
		select {
		case <-ctx.Done():
			return c.flush(ctx, last, checkpointed)
		default:
		}

		entries, err := c.source.Fetch(ctx, last, c.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return c.flush(ctx, last, checkpointed)
			}
			return fmt.Errorf("tracker %s fetch after %d: %w", c.cfg.Name, last, err)
		}
		entries = c.dropConsumed(entries, last)

		if len(entries) == 0 {
			if err := sleepWithContext(ctx, c.cfg.PollInterval); err != nil {
				return c.flush(ctx, last, checkpointed)
			}
			continue
		}

		var handled int64
		if c.batchHandler != nil {
			err = c.handleBatchWithRetry(ctx, entries)
		} else {
			handled, err = c.handleEntries(ctx, entries)
		}
		if err != nil {
			if handled > last {
				last = handled
			}
			if ctx.Err() != nil {
				return c.flush(ctx, last, checkpointed)
			}
			if flushErr := c.flush(ctx, last, checkpointed); flushErr != nil {
				c.logger.Error("checkpoint after handler failure", slog.String("tracker", c.cfg.Name), slog.String("error", flushErr.Error()))
			}
			return fmt.Errorf("tracker %s handler: %w", c.cfg.Name, err)
		}

		last = entries[len(entries)-1].SequenceNumber
		processedSinceCheckpoint += len(entries)

		if processedSinceCheckpoint >= c.cfg.CheckpointEvery {
			current, err := c.checkpoint(ctx, last)
			if err != nil {
				if ctx.Err() != nil {
					return c.flush(ctx, last, checkpointed)
				}
				return err
			}
			checkpointed = current
			if current > last {
				last = current
			}
			processedSinceCheckpoint = processedSinceCheckpoint % c.cfg.CheckpointEvery
		}
	}
}

// dropConsumed filters entries a misbehaving source returned at or below the
// resume point.
func (c *Consumer) dropConsumed(entries []Entry, last int64) []Entry {
	for i, e := range entries {
		if e.SequenceNumber > last {
			if i > 0 {
				c.logger.Debug("skipping consumed entries", slog.String("tracker", c.cfg.Name), slog.Int("count", i))
			}
			return entries[i:]
		}
	}
	return nil
}

// checkpoint advances the tracker to seq and returns the value now stored.
// A rejected advance means another writer moved the tracker; under
// AdoptStored the consumer continues from the stored value.
func (c *Consumer) checkpoint(ctx context.Context, seq int64) (int64, error) {
	err := c.tracker.Advance(ctx, seq)
	if err == nil {
		return seq, nil
	}
	if !errors.Is(err, tracker.ErrInvalidArgument) || c.conflict == FailOnConflict {
		return 0, fmt.Errorf("tracker %s checkpoint: %w", c.cfg.Name, err)
	}

	current, readErr := c.tracker.Read(ctx)
	if readErr != nil {
		return 0, fmt.Errorf("tracker %s resync: %w", c.cfg.Name, readErr)
	}
	c.logger.Warn("tracker moved by another writer",
		slog.String("tracker", c.cfg.Name),
		slog.Int64("proposed", seq),
		slog.Int64("stored", current))
	return current, nil
}

// flush writes the final checkpoint on shutdown, detached from the cancelled
// consumer context.
func (c *Consumer) flush(ctx context.Context, last, checkpointed int64) error {
	if last <= checkpointed {
		return nil
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FlushTimeout)
	defer cancel()

	if _, err := c.checkpoint(flushCtx, last); err != nil {
		return err
	}
	c.logger.Info("flushed checkpoint", slog.String("tracker", c.cfg.Name), slog.Int64("sequence_number", last))
	return nil
}

// handleEntries returns the sequence number of the last entry known to be
// handled, which on failure is only meaningful for sequential processing.
func (c *Consumer) handleEntries(ctx context.Context, entries []Entry) (int64, error) {
	if c.cfg.Concurrency <= 1 {
		var handled int64
		for _, entry := range entries {
			if err := c.handleWithRetry(ctx, entry); err != nil {
				return handled, err
			}
			handled = entry.SequenceNumber
		}
		return handled, nil
	}

	if err := c.handleEntriesConcurrently(ctx, entries); err != nil {
		return 0, err
	}
	return entries[len(entries)-1].SequenceNumber, nil
}

func (c *Consumer) handleEntriesConcurrently(ctx context.Context, entries []Entry) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerLimit := c.cfg.Concurrency
	if workerLimit > len(entries) {
		workerLimit = len(entries)
	}

	sem := make(chan struct{}, workerLimit)
	var wg sync.WaitGroup
	var firstErr error
	var once sync.Once

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(e Entry) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := c.handleWithRetry(ctx, e); err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(entry)
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (c *Consumer) handleBatchWithRetry(ctx context.Context, entries []Entry) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		if err := c.batchHandler(ctx, entries); err != nil {
			lastErr = err
			if attempt == c.cfg.Retry.MaxAttempts {
				break
			}
			backoff := time.Duration(attempt) * c.cfg.Retry.Backoff
			if err := sleepWithContext(ctx, backoff); err != nil {
				return err
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("batch handler failed after %d attempts: %w", c.cfg.Retry.MaxAttempts, lastErr)
}

func (c *Consumer) handleWithRetry(ctx context.Context, entry Entry) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		if err := c.handler(ctx, entry); err != nil {
			lastErr = err
			c.logger.Debug("handler attempt failed",
				slog.String("tracker", c.cfg.Name),
				slog.Int64("sequence_number", entry.SequenceNumber),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			if attempt == c.cfg.Retry.MaxAttempts {
				break
			}
			backoff := time.Duration(attempt) * c.cfg.Retry.Backoff
			if err := sleepWithContext(ctx, backoff); err != nil {
				return err
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("handler failed after %d attempts: %w", c.cfg.Retry.MaxAttempts, lastErr)
}

func defaultOwner() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().UnixNano())
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
