// Package lease lets a single process own a tracker at a time so that
// competing consumers do not burn writes on rejected advances. Ownership is
// advisory: the tracker's conditional write still decides every update.
package lease

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotOwned = errors.New("lease not owned by caller")
)

// Manager hands out exclusive, expiring ownership of a tracker.
type Manager interface {
	// Acquire tries to claim trackerName for owner. acquired is false when
	// another owner currently holds it.
	Acquire(ctx context.Context, trackerName, owner string, ttl time.Duration) (l Lease, acquired bool, err error)
}

// Lease is held ownership that can be renewed or released.
type Lease interface {
	// Renew extends the lease. It returns ErrNotOwned once ownership has been
	// lost.
	Renew(ctx context.Context, ttl time.Duration) error
	// Release gives the tracker up. It returns ErrNotOwned when the caller is
	// no longer the owner.
	Release(ctx context.Context) error
}
