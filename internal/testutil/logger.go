package testutil

import (
	"log/slog"
)

// DiscardLogger returns a logger that drops every record, keeping test
// output clean when a component requires a logger but the test asserts
// nothing about what it logs.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
