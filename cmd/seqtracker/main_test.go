package main

import (
	"context"
	"errors"
	"testing"

	"github.com/pratilipi/sequence-tracker-go/store"
	"github.com/pratilipi/sequence-tracker-go/tracker"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args    []string
		want    command
		wantErr bool
	}{
		{args: []string{"read"}, want: command{name: "read"}},
		{args: []string{"reset"}, want: command{name: "reset"}},
		{args: []string{"advance", "42"}, want: command{name: "advance", sequenceNumber: 42}},
		{args: []string{"advance", "-1"}, want: command{name: "advance", sequenceNumber: -1}},
		{args: nil, wantErr: true},
		{args: []string{"advance"}, wantErr: true},
		{args: []string{"advance", "ten"}, wantErr: true},
		{args: []string{"read", "extra"}, wantErr: true},
		{args: []string{"rewind"}, wantErr: true},
	}

	for _, tc := range tests {
		got, err := parseCommand(tc.args)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%v: expected error", tc.args)
			}
			continue
		}
		if err != nil {
			t.Errorf("%v: unexpected error %v", tc.args, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%v: expected %+v, got %+v", tc.args, tc.want, got)
		}
	}
}

func TestCommandExec(t *testing.T) {
	ctx := context.Background()
	tr, err := tracker.New(ctx, tracker.Config{TableName: "t", Name: "orders"}, store.NewMemoryStore())
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}

	if err := (command{name: "advance", sequenceNumber: 3}).exec(ctx, tr); err != nil {
		t.Fatalf("advance: %v", err)
	}
	err = (command{name: "advance", sequenceNumber: 3}).exec(ctx, tr)
	if !errors.Is(err, tracker.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := (command{name: "reset"}).exec(ctx, tr); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := tr.Read(ctx); n != 0 {
		t.Errorf("expected 0 after reset, got %d", n)
	}
}

func TestOpenStoreRejectsUnknownKind(t *testing.T) {
	if _, _, err := openStore(context.Background(), "cassandra", "t"); err == nil {
		t.Error("expected error for unknown store")
	}
}
