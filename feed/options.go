package feed

import (
	"errors"
	"time"

	"github.com/pratilipi/sequence-tracker-go/lease"
)

// ConflictPolicy decides what the consumer does when the tracker rejects a
// checkpoint because another writer already stored a value at or past it.
type ConflictPolicy int

const (
	// AdoptStored resumes from the value the other writer stored.
	AdoptStored ConflictPolicy = iota
	// FailOnConflict stops the consumer with the tracker's rejection.
	FailOnConflict
)

// LeaseConfig makes the consumer hold a lease on its tracker while running.
type LeaseConfig struct {
	Manager lease.Manager
	// Owner identifies this process. Empty selects host-pid-timestamp.
	Owner string
	// TTL is the lease lifetime, RenewInterval how often it is extended and
	// RetryInterval how often to retry while another owner holds it.
	TTL           time.Duration
	RenewInterval time.Duration
	RetryInterval time.Duration
}

func (l LeaseConfig) withDefaults() LeaseConfig {
	if l.Owner == "" {
		l.Owner = defaultOwner()
	}
	if l.TTL == 0 {
		l.TTL = 30 * time.Second
	}
	if l.RenewInterval == 0 {
		l.RenewInterval = l.TTL / 3
	}
	if l.RetryInterval == 0 {
		l.RetryInterval = 5 * time.Second
	}
	return l
}

// validate checks the lease against the consumer's checkpoint cadence: a lease
// must survive one missed renewal tick plus the shutdown flush, so the final
// checkpoint is written while the lease is still held.
func (l LeaseConfig) validate(cfg Config) error {
	if l.Manager == nil {
		return errors.New("lease manager cannot be nil")
	}
	if l.TTL <= 0 || l.RenewInterval <= 0 || l.RetryInterval <= 0 {
		return errors.New("lease durations must be positive")
	}
	if l.RenewInterval+cfg.FlushTimeout >= l.TTL {
		return errors.New("lease ttl must exceed renew interval plus flush timeout")
	}
	return nil
}

// Option configures optional consumer features.
type Option func(*settings)

type settings struct {
	batchHandler BatchHandlerFunc
	lease        *LeaseConfig
	conflict     ConflictPolicy
}

// WithBatchHandler switches the consumer to call the provided batch handler
// once per fetched batch instead of invoking the per-entry handler.
func WithBatchHandler(handler BatchHandlerFunc) Option {
	return func(s *settings) {
		s.batchHandler = handler
	}
}

// WithLease enables tracker leasing so only one process drives a tracker at a
// time. Zero durations select defaults.
func WithLease(cfg LeaseConfig) Option {
	return func(s *settings) {
		s.lease = &cfg
	}
}

// WithConflictPolicy overrides the default AdoptStored.
func WithConflictPolicy(p ConflictPolicy) Option {
	return func(s *settings) {
		s.conflict = p
	}
}
