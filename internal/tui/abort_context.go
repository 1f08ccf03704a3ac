package tui

import (
	"context"
	"sync"
)

// abortState holds the process-wide context that tears down running TUI
// screens on cancellation (Ctrl+C, SIGTERM). One shared context keeps every
// wizard's abort behavior identical without per-screen signal plumbing.
var abortState struct {
	mu  sync.RWMutex
	ctx context.Context
}

// SetAbortContext installs the context new Apps bind their shutdown to.
// Passing nil clears it. Apps created before the call are not retroactively
// bound.
func SetAbortContext(ctx context.Context) {
	abortState.mu.Lock()
	abortState.ctx = ctx
	abortState.mu.Unlock()
}

func getAbortContext() context.Context {
	abortState.mu.RLock()
	defer abortState.mu.RUnlock()
	return abortState.ctx
}

// bindAbortContext stops app once the registered context is canceled. With no
// context registered the app only stops through its own event loop.
func bindAbortContext(app *App) {
	ctx := getAbortContext()
	if ctx == nil {
		return
	}
	go func() {
		<-ctx.Done()
		app.Stop()
	}()
}
