// SPDX-License-Identifier: Unlicense OR MIT

// Package log holds the process-wide logger shared by the sink, window and
// test source packages. By default nothing is logged.
package log

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(slog.New(nopHandler{}))
}

// SetLogger replaces the logger. A nil logger restores silent output.
//
// Levels in use:
//   - Debug: message traffic and per-frame state.
//   - Info: lifecycle transitions of windows, contexts and elements.
//   - Warn: ignored configuration and recoverable anomalies.
//   - Error: fatal errors as they are surfaced to callers.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	logger.Store(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return logger.Load()
}

// For returns the current logger tagged with a component name.
func For(component string) *slog.Logger {
	return logger.Load().With("component", component)
}
