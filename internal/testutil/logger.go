package testutil

import "log/slog"

// DiscardLogger returns a slog.Logger that drops everything. Equivalent to
// log.NewNop(); defined here so testutil does not depend on internal/log.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
