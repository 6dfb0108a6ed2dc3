// Package safego launches background work that must neither crash the
// process nor die with the request that triggered it.
package safego

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// Go runs fn on a new goroutine. A panic in fn is recovered and logged.
func Go(fn func()) {
	go run("", fn)
}

// Detached runs fn on a new goroutine with a context that keeps ctx's values
// but not its cancellation, bounded by timeout. name labels panic logs.
func Detached(ctx context.Context, name string, timeout time.Duration, fn func(context.Context)) {
	base := context.WithoutCancel(ctx)
	go run(name, func() {
		ctx, cancel := context.WithTimeout(base, timeout)
		defer cancel()
		fn(ctx)
	})
}

// Runner matches Detached so callers can substitute a synchronous one in tests.
type Runner func(ctx context.Context, name string, timeout time.Duration, fn func(context.Context))

func run(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background goroutine",
				"task", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
