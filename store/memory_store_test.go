package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreConditionalPut(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, found, err := s.Get(ctx, "orders"); err != nil || found {
		t.Fatalf("expected no record, got found=%v err=%v", found, err)
	}

	cond := AttributeNotExists(AttrName).Or(LessThan(AttrSequenceNumber, 5))
	if err := s.ConditionalPut(ctx, Record{Name: "orders", SequenceNumber: 5}, cond); err != nil {
		t.Fatalf("first put: %v", err)
	}
	err := s.ConditionalPut(ctx, Record{Name: "orders", SequenceNumber: 5}, cond)
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}

	rec, found, err := s.Get(ctx, "orders")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if rec.SequenceNumber != 5 {
		t.Errorf("expected 5, got %d", rec.SequenceNumber)
	}

	if err := s.Put(ctx, Record{Name: "orders", SequenceNumber: 0}); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec, _, _ = s.Get(ctx, "orders")
	if rec.SequenceNumber != 0 {
		t.Errorf("expected 0 after unconditional put, got %d", rec.SequenceNumber)
	}
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryStore()
	if err := s.EnsureTable(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := s.Put(ctx, Record{Name: "orders"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
