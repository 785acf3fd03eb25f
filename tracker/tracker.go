// Package tracker durably records the last sequence number a consumer has
// processed from an upstream feed.
//
// The stored value only moves forward. Advance is a single conditional write
// that succeeds when no row exists yet or when the stored value is strictly
// smaller than the proposed one, so concurrent writers sharing a tracker name
// can neither regress nor duplicate it. Reset is the only way back to zero.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pratilipi/sequence-tracker-go/store"
)

// SequenceNumberTracker is the surface consumers resume from.
type SequenceNumberTracker interface {
	Read(ctx context.Context) (int64, error)
	Advance(ctx context.Context, sequenceNumber int64) error
	Reset(ctx context.Context) error
}

type Tracker struct {
	cfg    Config
	store  store.Store
	logger *slog.Logger
}

var _ SequenceNumberTracker = (*Tracker)(nil)

// New binds a tracker to st and makes sure the backing table exists. A
// bootstrap interrupted by ctx is reported as ErrFatal.
func New(ctx context.Context, cfg Config, st store.Store) (*Tracker, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	cfg = cfg.withDefaults()
	if table := st.Table(); table != "" {
		if cfg.TableName != "" && cfg.TableName != table {
			return nil, fmt.Errorf("table name %q does not match store table %q", cfg.TableName, table)
		}
		cfg.TableName = table
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := st.EnsureTable(ctx); err != nil {
		// Only the caller's own cancellation is fatal. A transport timeout
		// that merely wraps context.DeadlineExceeded passes through.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: table %s bootstrap interrupted: %w", ErrFatal, cfg.TableName, err)
		}
		return nil, err
	}

	cfg.Logger.Debug("tracker ready", slog.String("table", cfg.TableName), slog.String("tracker", cfg.Name))

	return &Tracker{
		cfg:    cfg,
		store:  st,
		logger: cfg.Logger,
	}, nil
}

func (t *Tracker) Name() string {
	return t.cfg.Name
}

// Read returns the last consumed sequence number, or 0 if none was recorded.
func (t *Tracker) Read(ctx context.Context) (int64, error) {
	rec, found, err := t.store.Get(ctx, t.cfg.Name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return rec.SequenceNumber, nil
}

// Advance records sequenceNumber as the last consumed one. It fails with an
// *ArgumentError when sequenceNumber is negative or not strictly greater
// than the stored value. Replaying a successful Advance therefore fails.
func (t *Tracker) Advance(ctx context.Context, sequenceNumber int64) error {
	if sequenceNumber < 0 {
		return &ArgumentError{SequenceNumber: sequenceNumber, Reason: ReasonNegative}
	}

	cond := store.AttributeNotExists(store.AttrName).
		Or(store.LessThan(store.AttrSequenceNumber, sequenceNumber))

	err := t.store.ConditionalPut(ctx, store.Record{Name: t.cfg.Name, SequenceNumber: sequenceNumber}, cond)
	if errors.Is(err, store.ErrPreconditionFailed) {
		return &ArgumentError{SequenceNumber: sequenceNumber, Reason: ReasonNotGreater}
	}
	return err
}

// Reset unconditionally sets the tracker back to 0.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.store.Put(ctx, store.Record{Name: t.cfg.Name, SequenceNumber: 0}); err != nil {
		return err
	}
	t.logger.Info("tracker reset", slog.String("table", t.cfg.TableName), slog.String("tracker", t.cfg.Name))
	return nil
}
