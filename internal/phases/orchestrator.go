// Package phases runs the side effects of the loading pipeline.
//
// The Orchestrator subscribes to the state store. When the machine enters a
// loading phase it starts that phase's collaborator call exactly once, on its
// own goroutine, and dispatches the outcome back as an action. Results that
// arrive after the machine has moved on are dropped.
package phases

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CodexForgeBR/appboot/internal/logging"
	"github.com/CodexForgeBR/appboot/internal/machine"
	"github.com/CodexForgeBR/appboot/internal/model"
	"github.com/CodexForgeBR/appboot/internal/onboarding"
	"github.com/CodexForgeBR/appboot/internal/state"
)

// Collaborators are the external calls the loading pipeline depends on.
type Collaborators interface {
	// InitializeSecureStorage reports failure in its result, never by panicking.
	InitializeSecureStorage(ctx context.Context) model.InitResult
	GetStoredSession(ctx context.Context) (*model.Session, error)
	GetCurrentUser(ctx context.Context) (model.User, error)
	CheckAllPermissions(ctx context.Context) (model.PermissionStatus, error)
}

type effect string

const (
	effectInitDB      effect = "initializing-db"
	effectLoadAuth    effect = "loading-auth"
	effectLoadUser    effect = "loading-user-data"
	effectPermissions effect = "permissions-recheck"
)

// Options tune an Orchestrator.
type Options struct {
	// StateDir holds the launch-state file consulted for the permission
	// restart flag. Empty disables the check.
	StateDir string
	// Timeout bounds each collaborator call. Zero means no bound.
	Timeout time.Duration
	// Now is the clock used to evaluate onboarding decisions for logging.
	Now func() time.Time
}

// Orchestrator is the only component that calls Collaborators.
type Orchestrator struct {
	store *machine.Store
	svc   Collaborators
	opts  Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	fired       map[effect]bool
	generation  map[effect]uint64
	unsubscribe func()
}

// New returns an orchestrator that drives store through the loading
// pipeline by calling svc. Nothing runs until Start is called.
//
// Parameters:
//   - store: The state container whose transitions trigger effects
//   - svc: The backends for storage, session, profile and permission checks
//   - opts: Restart-flag directory, per-call timeout and clock
//
// Example usage:
//
//	store := machine.NewStore(machine.Initial(p))
//	o := phases.New(store, svc, phases.Options{StateDir: dir, Timeout: 10 * time.Second})
//	o.Start(ctx)
//	defer o.Stop()
func New(store *machine.Store, svc Collaborators, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		store:      store,
		svc:        svc,
		opts:       opts,
		fired:      make(map[effect]bool),
		generation: make(map[effect]uint64),
	}
}

// Start subscribes to the store and runs whatever the current state needs.
//
// Each effect runs in its own goroutine at most once per phase entry and
// inherits ctx. Canceling ctx abandons in-flight effects without
// dispatching their results. Stop unsubscribes and waits for them.
//
// Example usage:
//
//	o.Start(ctx)
//	o.Consent() // keychain platforms wait for this before opening the vault
//	o.Wait()
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.unsubscribe = o.store.Subscribe(o.onTransition)
	o.mu.Unlock()

	o.Reconcile()
}

// Stop unsubscribes, cancels in-flight effects and waits for them.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	unsubscribe, cancel := o.unsubscribe, o.cancel
	o.unsubscribe, o.cancel = nil, nil
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
}

// Wait blocks until every started effect has dispatched or been dropped.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Consent records the user's go-ahead to open the OS credential vault. On
// keychain platforms secure storage is only initialized after this.
func (o *Orchestrator) Consent() {
	o.store.Dispatch(machine.DBInitStarted{})
}

// Reconcile runs the effect for the current state if it has not fired for
// this phase entry. Calling it repeatedly is harmless.
func (o *Orchestrator) Reconcile() {
	o.handle(o.store.State())
}

// RecheckPermissions probes OS permissions while the permissions step is
// showing and completes the step when everything is granted. It can be
// called again after a check that found access missing; a call made while
// a check is still running is ignored.
func (o *Orchestrator) RecheckPermissions() {
	ob, ok := o.store.State().(*machine.Onboarding)
	if !ok || ob.Step != model.StepPermissions {
		return
	}
	o.fire(effectPermissions, o.checkPermissions)
}

func (o *Orchestrator) onTransition(prev, next machine.State, a machine.Action) {
	logging.Debug(fmt.Sprintf("%s: %s -> %s", a.Type(), prev, next))

	for _, e := range []effect{effectInitDB, effectLoadAuth, effectLoadUser, effectPermissions} {
		if active(prev, e) && !active(next, e) {
			o.reset(e)
		}
	}
	if ob, ok := next.(*machine.Onboarding); ok && ob.Step == model.StepPermissions && !active(prev, effectPermissions) {
		o.maybeResumePermissionRestart()
	}
	o.handle(next)
}

// active reports whether s is inside the window in which e may run.
func active(s machine.State, e effect) bool {
	switch e {
	case effectInitDB:
		return machine.IsLoadingPhase(s, machine.PhaseInitializingDB)
	case effectLoadAuth:
		return machine.IsLoadingPhase(s, machine.PhaseLoadingAuth)
	case effectLoadUser:
		return machine.IsLoadingPhase(s, machine.PhaseLoadingUserData)
	case effectPermissions:
		ob, ok := s.(*machine.Onboarding)
		return ok && ob.Step == model.StepPermissions
	}
	return false
}

func (o *Orchestrator) reset(e effect) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.fired, e)
	o.generation[e]++
}

// release lets e fire again within the same phase entry.
func (o *Orchestrator) release(e effect, gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation[e] == gen {
		delete(o.fired, e)
	}
}

func (o *Orchestrator) handle(s machine.State) {
	l, ok := s.(*machine.Loading)
	if !ok {
		return
	}

	switch l.Phase {
	case machine.PhaseCheckingStorage:
		o.store.Dispatch(machine.StorageChecked{})

	case machine.PhaseInitializingDB:
		if l.DBStatus == machine.DBIdle {
			if l.Platform.UsesSilentVault() {
				o.store.Dispatch(machine.DBInitStarted{})
			} else {
				logging.Info(fmt.Sprintf("Waiting for consent to open the %s", l.Platform.VaultName()))
			}
			return
		}
		o.fire(effectInitDB, o.initDB)

	case machine.PhaseLoadingAuth:
		o.fire(effectLoadAuth, o.loadAuth)

	case machine.PhaseLoadingUserData:
		o.fire(effectLoadUser, o.loadUser)
	}
}

// fire starts run for e unless it already ran in the current phase entry.
// run returns the action to dispatch, or nil for none.
func (o *Orchestrator) fire(e effect, run func(ctx context.Context) machine.Action) {
	o.mu.Lock()
	if o.fired[e] || o.ctx == nil {
		o.mu.Unlock()
		return
	}
	o.fired[e] = true
	gen := o.generation[e]
	ctx := o.ctx
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		if e == effectPermissions {
			// Permission checks may be repeated on demand; only one runs
			// at a time.
			defer o.release(e, gen)
		}
		action := o.call(ctx, e, run)
		if action == nil || ctx.Err() != nil {
			return
		}
		if !o.current(e, gen) {
			logging.Debug(fmt.Sprintf("Dropping stale %s result", action.Type()))
			return
		}
		o.store.Dispatch(action)
	}()
}

func (o *Orchestrator) call(ctx context.Context, e effect, run func(ctx context.Context) machine.Action) (action machine.Action) {
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			action = failure(e, fmt.Sprintf("%s panicked: %v", e, r))
		}
	}()
	return run(ctx)
}

// current reports whether a result for e started at gen still applies.
func (o *Orchestrator) current(e effect, gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation[e] == gen && active(o.store.State(), e)
}

func failure(e effect, msg string) machine.Action {
	switch e {
	case effectInitDB:
		return machine.DBInitComplete{Success: false, Err: msg}
	case effectLoadAuth:
		return machine.AuthLoadFailed{Err: msg}
	case effectLoadUser:
		return machine.UserDataLoadFailed{Err: msg}
	}
	logging.Warn(msg)
	return nil
}

func (o *Orchestrator) initDB(ctx context.Context) machine.Action {
	logging.Phase("Initializing secure storage")
	res := o.svc.InitializeSecureStorage(ctx)
	if !res.Success {
		logging.Error(fmt.Sprintf("Secure storage initialization failed: %s", res.Error))
	}
	return machine.DBInitComplete{Success: res.Success, Err: res.Error}
}

func (o *Orchestrator) loadAuth(ctx context.Context) machine.Action {
	logging.Phase("Loading session")
	sess, err := o.svc.GetStoredSession(ctx)
	if err != nil {
		logging.Error(fmt.Sprintf("Failed to load session: %v", err))
		return machine.AuthLoadFailed{Err: err.Error()}
	}
	if sess == nil {
		logging.Info("No stored session")
	}
	return machine.AuthLoaded{Session: sess}
}

func (o *Orchestrator) loadUser(ctx context.Context) machine.Action {
	logging.Phase("Loading user data")
	user, err := o.svc.GetCurrentUser(ctx)
	if err != nil {
		logging.Error(fmt.Sprintf("Failed to load user data: %v", err))
		return machine.UserDataLoadFailed{Err: err.Error()}
	}

	now := o.opts.Now()
	p := o.store.State().PlatformInfo()
	d := onboarding.Decide(user, p, now)
	if d.Note != "" {
		logging.Warn(d.Note)
	}
	logging.Debug(fmt.Sprintf("Onboarding decision for %s: step=%q done=%v source=%s", user.ID, d.Step, d.Done, d.Source))
	return machine.UserDataLoaded{User: user, At: now}
}

func (o *Orchestrator) checkPermissions(ctx context.Context) machine.Action {
	status, err := o.svc.CheckAllPermissions(ctx)
	if err != nil {
		logging.Warn(fmt.Sprintf("Permission check failed: %v", err))
		return nil
	}
	if !status.AllGranted() {
		logging.Warn(fmt.Sprintf("Permissions still missing (full disk access: %v, contacts: %v)",
			status.FullDiskAccess, status.Contacts))
		return nil
	}
	logging.Success("All permissions granted")
	return machine.OnboardingStepComplete{Step: model.StepPermissions}
}

// maybeResumePermissionRestart re-verifies permissions instead of prompting
// again when the previous run quit to let the OS apply a grant.
func (o *Orchestrator) maybeResumePermissionRestart() {
	if o.opts.StateDir == "" {
		return
	}
	pending, err := state.ConsumePermissionRestart(o.opts.StateDir)
	if err != nil {
		logging.Warn(fmt.Sprintf("Failed to read permission restart flag: %v", err))
		return
	}
	if !pending {
		return
	}
	logging.Info("Resuming after permission restart, re-checking access")
	o.fire(effectPermissions, o.checkPermissions)
}
