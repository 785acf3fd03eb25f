package store

import (
	"context"
	"errors"
)

const (
	AttrName           = "name"
	AttrSequenceNumber = "sequenceNumber"
)

// ErrPreconditionFailed is returned by ConditionalPut when the condition does
// not hold against the currently stored row.
var ErrPreconditionFailed = errors.New("precondition failed")

// Record is the persisted row of a single tracker.
type Record struct {
	Name           string `dynamodbav:"name" bson:"name" json:"name"`
	SequenceNumber int64  `dynamodbav:"sequenceNumber" bson:"sequenceNumber" json:"sequenceNumber"`
}

// Store binds trackers to a backing key-value table whose partition key is
// the string attribute "name".
type Store interface {
	// Table names the backing table, or "" when the store is not bound to one.
	Table() string
	// EnsureTable creates the table if it is missing and blocks until it is
	// usable. It is safe to call repeatedly.
	EnsureTable(ctx context.Context) error
	// Get returns the record stored under name. found is false when no record
	// exists.
	Get(ctx context.Context, name string) (rec Record, found bool, err error)
	// ConditionalPut writes rec iff cond holds on the current row. A failed
	// condition is reported as ErrPreconditionFailed.
	ConditionalPut(ctx context.Context, rec Record, cond Condition) error
	// Put writes rec unconditionally.
	Put(ctx context.Context, rec Record) error
}
