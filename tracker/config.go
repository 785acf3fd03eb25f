package tracker

import (
	"errors"
	"io"
	"log/slog"
)

type Config struct {
	// TableName is the backing table. It may be left empty when the store
	// reports its own table; otherwise the two must agree.
	TableName string
	// Name identifies the tracker row within the table.
	Name   string
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

func (c Config) validate() error {
	if c.TableName == "" {
		return errors.New("table name is required")
	}
	if c.Name == "" {
		return errors.New("tracker name is required")
	}
	return nil
}
