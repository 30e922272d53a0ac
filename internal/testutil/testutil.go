// Package testutil provides shared testing utilities for the quarry
// project: a deterministic embedder, database fixtures, and a pgvector
// test container helper.
package testutil

import (
	"log/slog"
)

// DiscardLogger returns a slog.Logger that discards all output. Use it
// in tests to reduce noise; for components taking log.Logger (an alias
// for *slog.Logger), log.NewNop() returns the same thing.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
