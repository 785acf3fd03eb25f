package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks a rejected Advance: the caller supplied a
	// negative sequence number or one not greater than the stored value.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrFatal marks an unrecoverable bootstrap failure.
	ErrFatal = errors.New("fatal")
)

type Reason int

const (
	ReasonNegative Reason = iota + 1
	ReasonNotGreater
)

// ArgumentError reports why Advance rejected a sequence number. Its message
// is stable and safe to show to users.
type ArgumentError struct {
	SequenceNumber int64
	Reason         Reason
}

func (e *ArgumentError) Error() string {
	switch e.Reason {
	case ReasonNegative:
		return fmt.Sprintf("Illegal sequenceNumber [%d] - last consumed sequence number cannot be negative", e.SequenceNumber)
	default:
		return fmt.Sprintf("Illegal sequenceNumber [%d] - last consumed sequence number must be greater than current", e.SequenceNumber)
	}
}

func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}
