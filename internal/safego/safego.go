// Package safego provides a panic-recovering goroutine launcher.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn in a new goroutine. A panic inside fn is recovered and logged
// with its stack instead of taking the process down. Panel fetches and other
// fire-and-forget work go through here.
func Go(fn func()) {
	GoNamed("", fn, nil)
}

// GoNamed is Go with a task name for the log record and an optional onPanic
// hook that receives the recovered value. onPanic runs on the same goroutine
// after the panic has been logged, so callers can settle any state the
// panicking task owned.
func GoNamed(name string, fn func(), onPanic func(recovered any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine",
					"task", name,
					"panic", r,
					"stack", string(debug.Stack()))
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
