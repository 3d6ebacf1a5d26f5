package matgraph

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/matgraph/backend/native"
	"github.com/gogpu/matgraph/reload"
	"github.com/gogpu/matgraph/technique"
)

// nopHandler is a slog.Handler that silently discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for matgraph and its sub-packages.
// By default, matgraph produces no log output. Pass nil to restore the
// silent default.
//
// SetLogger is safe for concurrent use. Directory depots created by New
// keep the logger that was current when they were created.
//
// Log levels used by matgraph:
//   - [slog.LevelDebug]: compile steps, discarded stale results
//   - [slog.LevelInfo]: lifecycle (cache created or closed, watcher started)
//   - [slog.LevelWarn]: compile failures, watcher errors
//
// Example:
//
//	matgraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	technique.SetLogger(l)
	reload.SetLogger(l)
	native.SetLogger(l)
}

// Logger returns the current logger used by matgraph.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
