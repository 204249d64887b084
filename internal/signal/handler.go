// Package signal provides signal handling for graceful shutdown of the appboot CLI.
//
// Watch registers handlers for SIGINT and SIGTERM. On the first signal it
// runs the optional callback and cancels the context it handed out, which
// stops in-flight collaborator calls and lets queued progress writes drain.
package signal

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Interrupt tracks one registration.
type Interrupt struct {
	ctx    context.Context
	cancel context.CancelFunc
	sigCh  chan os.Signal
	done   chan struct{}
	fired  atomic.Bool
}

// Watch returns an Interrupt whose context is derived from parent and is
// canceled on SIGINT or SIGTERM. onInterrupt, if non-nil, runs before the
// cancellation. Call Stop to release the handler.
func Watch(parent context.Context, onInterrupt func()) *Interrupt {
	ctx, cancel := context.WithCancel(parent)
	i := &Interrupt{
		ctx:    ctx,
		cancel: cancel,
		sigCh:  make(chan os.Signal, 1),
		done:   make(chan struct{}),
	}
	signal.Notify(i.sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(i.done)
		select {
		case <-i.sigCh:
			i.fired.Store(true)
			if onInterrupt != nil {
				onInterrupt()
			}
			cancel()
		case <-ctx.Done():
		}
	}()
	return i
}

// Context is canceled when a signal arrives or Stop is called.
func (i *Interrupt) Context() context.Context { return i.ctx }

// Interrupted reports whether a signal arrived.
func (i *Interrupt) Interrupted() bool { return i.fired.Load() }

// Stop unregisters the handler and waits for its goroutine.
func (i *Interrupt) Stop() {
	signal.Stop(i.sigCh)
	i.cancel()
	<-i.done
}
