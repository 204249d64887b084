// Package resume persists onboarding progress so a restarted app continues
// where the user left off.
//
// The Bridge watches state transitions and queues writes for a single worker
// goroutine. Dispatch never waits on a write, writes are applied in the order
// their transitions happened, and failures are logged and dropped.
package resume

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CodexForgeBR/appboot/internal/logging"
	"github.com/CodexForgeBR/appboot/internal/machine"
	"github.com/CodexForgeBR/appboot/internal/model"
	"github.com/CodexForgeBR/appboot/internal/retry"
	"github.com/CodexForgeBR/appboot/internal/state"
)

// Writer stores onboarding progress remotely and locally.
type Writer interface {
	PersistOnboardingStep(ctx context.Context, userID string, step model.Step) error
	PersistPhoneType(ctx context.Context, userID string, phone model.PhoneType) error
	MarkStepDone(ctx context.Context, userID string, step model.Step) error
	CompleteOnboarding(ctx context.Context, userID string, at time.Time) error
}

// Options tune a Bridge.
type Options struct {
	// StateDir receives a progress mirror for the status command. Empty
	// disables it.
	StateDir string
	Retry    retry.Config
	// Timeout bounds each write attempt. Zero means no bound.
	Timeout time.Duration
	Now     func() time.Time
}

type job struct {
	name string
	run  func(ctx context.Context) error
}

// Bridge forwards onboarding progress to a Writer.
type Bridge struct {
	store *machine.Store
	w     Writer
	opts  Options

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	queue       []job
	closed      bool
	unsubscribe func()
	wake        chan struct{}
	done        chan struct{}
	pending     sync.WaitGroup
}

// New returns a bridge that persists onboarding progress from store
// through w. Writes are queued and applied one at a time in transition
// order; a failed write is retried per opts.Retry.
//
// Parameters:
//   - store: The state container to observe
//   - w: The local and remote profile writer
//   - opts: Progress mirror directory, retry policy, per-write timeout and clock
//
// Example usage:
//
//	b := resume.New(store, svc, resume.Options{Retry: retry.Config{MaxRetries: 3}})
//	b.Start(context.WithoutCancel(ctx))
//	defer b.Stop()
func New(store *machine.Store, w Writer, opts Options) *Bridge {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bridge{
		store: store,
		w:     w,
		opts:  opts,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Start launches the worker and subscribes to the store.
func (b *Bridge) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	go b.loop()

	b.mu.Lock()
	b.unsubscribe = b.store.Subscribe(b.onTransition)
	b.mu.Unlock()
}

// Wait blocks until every queued write has finished.
func (b *Bridge) Wait() {
	b.pending.Wait()
}

// Stop unsubscribes, lets queued writes finish, and stops the worker.
func (b *Bridge) Stop() {
	b.mu.Lock()
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()
	if unsubscribe == nil {
		return
	}
	unsubscribe()

	b.pending.Wait()
	b.cancel()
	<-b.done
}

func (b *Bridge) onTransition(prev, next machine.State, a machine.Action) {
	b.recordProgress(next)

	if done, ok := a.(machine.OnboardingStepComplete); ok {
		if p, ok := prev.(*machine.Onboarding); ok && !p.CompletedSteps.Has(done.Step) && done.Step != model.StepPhoneType {
			b.markDone(p.User.ID, done.Step)
		}
	}

	switch n := next.(type) {
	case *machine.Onboarding:
		p, wasOnboarding := prev.(*machine.Onboarding)
		userID := n.User.ID
		if wasOnboarding && p.SelectedPhoneType != n.SelectedPhoneType && n.SelectedPhoneType != "" {
			b.persistPhone(userID, n.SelectedPhoneType)
		}
		switch {
		case wasOnboarding && p.Step != n.Step:
			b.persistStep(userID, n.Step)
		case !wasOnboarding && n.User.CurrentOnboardingStep != n.Step:
			// The loaded snapshot disagreed with the resolved step; store
			// the corrected value.
			b.persistStep(userID, n.Step)
		}

	case *machine.Ready:
		userID := n.CurrentUser.ID
		switch p := prev.(type) {
		case *machine.Onboarding:
			if p.SelectedPhoneType != n.CurrentUser.Phone && n.CurrentUser.Phone != "" {
				b.persistPhone(userID, n.CurrentUser.Phone)
			}
			b.complete(userID)
		case *machine.Loading:
			if n.CurrentUser.OnboardingCompletedAt == nil {
				b.complete(userID)
			}
		}
	}
}

func (b *Bridge) persistStep(userID string, step model.Step) {
	b.enqueue(job{
		name: fmt.Sprintf("persist onboarding step %s for %s", step, userID),
		run: func(ctx context.Context) error {
			return b.w.PersistOnboardingStep(ctx, userID, step)
		},
	})
}

func (b *Bridge) markDone(userID string, step model.Step) {
	b.enqueue(job{
		name: fmt.Sprintf("mark step %s done for %s", step, userID),
		run: func(ctx context.Context) error {
			return b.w.MarkStepDone(ctx, userID, step)
		},
	})
}

func (b *Bridge) persistPhone(userID string, phone model.PhoneType) {
	b.enqueue(job{
		name: fmt.Sprintf("persist phone type %s for %s", phone, userID),
		run: func(ctx context.Context) error {
			return b.w.PersistPhoneType(ctx, userID, phone)
		},
	})
}

func (b *Bridge) complete(userID string) {
	at := b.opts.Now().UTC()
	b.enqueue(job{
		name: fmt.Sprintf("complete onboarding for %s", userID),
		run: func(ctx context.Context) error {
			return b.w.CompleteOnboarding(ctx, userID, at)
		},
	})
}

func (b *Bridge) recordProgress(s machine.State) {
	if b.opts.StateDir == "" {
		return
	}
	var userID, step string
	switch v := s.(type) {
	case *machine.Onboarding:
		userID, step = v.User.ID, string(v.Step)
	case *machine.Ready:
		userID = v.CurrentUser.ID
	}
	name := s.String()
	b.enqueue(job{
		name: "record launch progress",
		run: func(context.Context) error {
			return state.RecordProgress(b.opts.StateDir, userID, step, name)
		},
	})
}

func (b *Bridge) enqueue(j job) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		logging.Debug("Bridge stopped, dropping: " + j.name)
		return
	}
	b.pending.Add(1)
	b.queue = append(b.queue, j)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) next() (job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return job{}, false
	}
	j := b.queue[0]
	b.queue = b.queue[1:]
	return j, true
}

func (b *Bridge) loop() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			b.mu.Lock()
			b.closed = true
			dropped := len(b.queue)
			b.queue = nil
			b.mu.Unlock()
			for i := 0; i < dropped; i++ {
				b.pending.Done()
			}
			return
		case <-b.wake:
		}

		for {
			j, ok := b.next()
			if !ok {
				break
			}
			b.run(j)
			b.pending.Done()
		}
	}
}

func (b *Bridge) run(j job) {
	cfg := b.opts.Retry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		logging.Debug(fmt.Sprintf("Retrying %s (attempt %d in %s): %v", j.name, attempt, delay, err))
	}
	err := retry.Do(b.ctx, cfg, func(ctx context.Context) error {
		if b.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
			defer cancel()
		}
		return j.run(ctx)
	})
	if err != nil {
		logging.Warn(fmt.Sprintf("Failed to %s: %v", j.name, err))
		return
	}
	logging.Debug("Done: " + j.name)
}
