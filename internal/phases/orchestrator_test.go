package phases

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/CodexForgeBR/appboot/internal/machine"
	"github.com/CodexForgeBR/appboot/internal/model"
	"github.com/CodexForgeBR/appboot/internal/platform"
	"github.com/CodexForgeBR/appboot/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	windows = platform.Info{IsWindows: true}
	macOS   = platform.Info{IsMacOS: true}
)

type fakeServices struct {
	mu sync.Mutex

	initResult  model.InitResult
	session     *model.Session
	sessionErr  error
	user        model.User
	userErr     error
	perms       model.PermissionStatus
	userGate    chan struct{}
	panicOnAuth bool

	initCalls, authCalls, userCalls, permCalls atomic.Int32
}

func (f *fakeServices) InitializeSecureStorage(ctx context.Context) model.InitResult {
	f.initCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initResult
}

func (f *fakeServices) GetStoredSession(ctx context.Context) (*model.Session, error) {
	f.authCalls.Add(1)
	if f.panicOnAuth {
		panic("transport exploded")
	}
	return f.session, f.sessionErr
}

func (f *fakeServices) GetCurrentUser(ctx context.Context) (model.User, error) {
	f.userCalls.Add(1)
	if f.userGate != nil {
		select {
		case <-f.userGate:
		case <-ctx.Done():
			return model.User{}, ctx.Err()
		}
	}
	return f.user, f.userErr
}

func (f *fakeServices) CheckAllPermissions(ctx context.Context) (model.PermissionStatus, error) {
	f.permCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perms, nil
}

func (f *fakeServices) grant(p model.PermissionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perms = p
}

func completedUser() model.User {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return model.User{ID: "u-1", OnboardingCompletedAt: &at}
}

func start(t *testing.T, p platform.Info, svc *fakeServices, opts Options) (*machine.Store, *Orchestrator) {
	t.Helper()
	store := machine.NewStore(machine.Initial(p))
	o := New(store, svc, opts)
	o.Start(context.Background())
	t.Cleanup(o.Stop)
	return store, o
}

func eventuallyKind(t *testing.T, store *machine.Store, kind machine.Kind) {
	t.Helper()
	require.Eventually(t, func() bool { return store.State().Kind() == kind },
		2*time.Second, 5*time.Millisecond, "state is %s", store.State())
}

func TestWindows_RunsPipelineToReady(t *testing.T) {
	svc := &fakeServices{
		initResult: model.InitResult{Success: true},
		session:    &model.Session{UserID: "u-1"},
		user:       completedUser(),
	}
	store, o := start(t, windows, svc, Options{})
	o.Wait()

	eventuallyKind(t, store, machine.KindReady)
	assert.Equal(t, int32(1), svc.initCalls.Load())
	assert.Equal(t, int32(1), svc.authCalls.Load())
	assert.Equal(t, int32(1), svc.userCalls.Load())
}

func TestNoSession_EndsUnauthenticated(t *testing.T) {
	svc := &fakeServices{initResult: model.InitResult{Success: true}}
	store, o := start(t, windows, svc, Options{})
	o.Wait()

	eventuallyKind(t, store, machine.KindUnauthenticated)
	assert.Zero(t, svc.userCalls.Load())
}

func TestMacOS_WaitsForConsent(t *testing.T) {
	svc := &fakeServices{
		initResult: model.InitResult{Success: true},
		session:    &model.Session{UserID: "u-1"},
		user:       completedUser(),
	}
	store, o := start(t, macOS, svc, Options{})
	o.Wait()

	l, ok := store.State().(*machine.Loading)
	require.True(t, ok)
	assert.Equal(t, machine.PhaseInitializingDB, l.Phase)
	assert.Equal(t, machine.DBIdle, l.DBStatus)
	assert.Zero(t, svc.initCalls.Load())

	o.Reconcile()
	o.Wait()
	assert.Zero(t, svc.initCalls.Load())

	o.Consent()
	o.Wait()
	eventuallyKind(t, store, machine.KindReady)
	assert.Equal(t, int32(1), svc.initCalls.Load())
}

func TestInitFailure_RetryReentersInitializingDB(t *testing.T) {
	svc := &fakeServices{initResult: model.InitResult{Error: "Keychain access denied"}}
	store, o := start(t, windows, svc, Options{})
	o.Wait()

	eventuallyKind(t, store, machine.KindError)
	e := store.State().(*machine.Error)
	assert.Equal(t, machine.CodeDBInitFailed, e.Code)
	assert.Equal(t, "Keychain access denied", e.Message)
	assert.True(t, e.Recoverable)

	svc.mu.Lock()
	svc.initResult = model.InitResult{Success: true}
	svc.mu.Unlock()

	store.Dispatch(machine.Retry{})
	o.Wait()
	eventuallyKind(t, store, machine.KindUnauthenticated)
	assert.Equal(t, int32(2), svc.initCalls.Load())
}

func TestCollaboratorError_BecomesFailureAction(t *testing.T) {
	svc := &fakeServices{
		initResult: model.InitResult{Success: true},
		session:    &model.Session{UserID: "u-1"},
		userErr:    errors.New("profile service unavailable"),
	}
	store, o := start(t, windows, svc, Options{})
	o.Wait()

	eventuallyKind(t, store, machine.KindError)
	e := store.State().(*machine.Error)
	assert.Equal(t, machine.CodeUserDataLoadFailed, e.Code)
	assert.Equal(t, machine.PhaseLoadingUserData, e.FailedPhase)
	assert.Contains(t, e.Message, "profile service unavailable")
}

func TestPanic_IsConvertedToFailure(t *testing.T) {
	svc := &fakeServices{initResult: model.InitResult{Success: true}, panicOnAuth: true}
	store, o := start(t, windows, svc, Options{})
	o.Wait()

	eventuallyKind(t, store, machine.KindError)
	e := store.State().(*machine.Error)
	assert.Equal(t, machine.CodeAuthLoadFailed, e.Code)
	assert.Contains(t, e.Message, "transport exploded")
}

func TestEffectFiresOncePerPhaseEntry(t *testing.T) {
	gate := make(chan struct{})
	svc := &fakeServices{
		initResult: model.InitResult{Success: true},
		session:    &model.Session{UserID: "u-1"},
		user:       completedUser(),
		userGate:   gate,
	}
	store, o := start(t, windows, svc, Options{})

	require.Eventually(t, func() bool { return svc.userCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	for i := 0; i < 10; i++ {
		o.Reconcile()
	}
	close(gate)
	o.Wait()

	eventuallyKind(t, store, machine.KindReady)
	assert.Equal(t, int32(1), svc.userCalls.Load())
}

func TestStaleResultIsDropped(t *testing.T) {
	gate := make(chan struct{})
	svc := &fakeServices{
		initResult: model.InitResult{Success: true},
		session:    &model.Session{UserID: "u-1"},
		user:       completedUser(),
		userGate:   gate,
	}
	store, o := start(t, windows, svc, Options{})
	require.Eventually(t, func() bool { return svc.userCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	store.Dispatch(machine.Logout{})
	close(gate)
	o.Wait()

	assert.Equal(t, machine.KindUnauthenticated, store.State().Kind())
}

func TestPermissionRestart_ReverifiesAndAdvances(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, state.MarkPermissionRestart(dir))

	svc := &fakeServices{
		initResult: model.InitResult{Success: true},
		session:    &model.Session{UserID: "u-1"},
		user: model.User{
			ID:                    "u-1",
			Phone:                 model.PhoneIPhone,
			HasSecureStorageSetup: true,
			CurrentOnboardingStep: model.StepPermissions,
		},
		perms: model.PermissionStatus{FullDiskAccess: true, Contacts: true},
	}
	store, o := start(t, macOS, svc, Options{StateDir: dir})
	o.Consent()

	require.Eventually(t, func() bool {
		ob, ok := store.State().(*machine.Onboarding)
		return ok && ob.Step == model.StepEmailConnect
	}, 2*time.Second, 5*time.Millisecond, "state is %s", store.State())
	o.Wait()
	assert.Equal(t, int32(1), svc.permCalls.Load())

	pending, err := state.ConsumePermissionRestart(dir)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestPermissionRecheck_StaysWhenMissing(t *testing.T) {
	svc := &fakeServices{
		initResult: model.InitResult{Success: true},
		session:    &model.Session{UserID: "u-1"},
		user: model.User{
			ID:                    "u-1",
			CurrentOnboardingStep: model.StepPermissions,
		},
		perms: model.PermissionStatus{FullDiskAccess: true},
	}
	store, o := start(t, macOS, svc, Options{StateDir: t.TempDir()})
	o.Consent()
	eventuallyKind(t, store, machine.KindOnboarding)
	o.Wait()
	assert.Zero(t, svc.permCalls.Load())

	o.RecheckPermissions()
	o.Wait()

	ob := store.State().(*machine.Onboarding)
	assert.Equal(t, model.StepPermissions, ob.Step)
	assert.Equal(t, int32(1), svc.permCalls.Load())
}

func TestPermissionRecheck_RunsAgainAfterGrant(t *testing.T) {
	svc := &fakeServices{
		initResult: model.InitResult{Success: true},
		session:    &model.Session{UserID: "u-1"},
		user: model.User{
			ID:                    "u-1",
			Phone:                 model.PhoneIPhone,
			HasSecureStorageSetup: true,
			CurrentOnboardingStep: model.StepPermissions,
		},
		perms: model.PermissionStatus{FullDiskAccess: true},
	}
	store, o := start(t, macOS, svc, Options{StateDir: t.TempDir()})
	o.Consent()
	eventuallyKind(t, store, machine.KindOnboarding)
	o.Wait()

	o.RecheckPermissions()
	o.Wait()
	assert.Equal(t, model.StepPermissions, store.State().(*machine.Onboarding).Step)

	svc.grant(model.PermissionStatus{FullDiskAccess: true, Contacts: true})
	o.RecheckPermissions()
	o.Wait()

	assert.Equal(t, int32(2), svc.permCalls.Load())
	ob, ok := store.State().(*machine.Onboarding)
	require.True(t, ok, "state is %s", store.State())
	assert.Equal(t, model.StepEmailConnect, ob.Step)
	assert.True(t, ob.CompletedSteps.Has(model.StepPermissions))
}

func TestPermissionRestart_MissingGrantCanBeRechecked(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, state.MarkPermissionRestart(dir))

	svc := &fakeServices{
		initResult: model.InitResult{Success: true},
		session:    &model.Session{UserID: "u-1"},
		user: model.User{
			ID:                    "u-1",
			HasSecureStorageSetup: true,
			Phone:                 model.PhoneAndroid,
			CurrentOnboardingStep: model.StepPermissions,
		},
	}
	store, o := start(t, macOS, svc, Options{StateDir: dir})
	o.Consent()
	require.Eventually(t, func() bool { return svc.permCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	o.Wait()

	svc.grant(model.PermissionStatus{FullDiskAccess: true, Contacts: true})
	o.RecheckPermissions()
	o.Wait()

	assert.Equal(t, int32(2), svc.permCalls.Load())
	assert.Equal(t, model.StepEmailConnect, store.State().(*machine.Onboarding).Step)
}

func TestStopCancelsInFlightEffect(t *testing.T) {
	svc := &fakeServices{
		initResult: model.InitResult{Success: true},
		session:    &model.Session{UserID: "u-1"},
		userGate:   make(chan struct{}),
	}
	store := machine.NewStore(machine.Initial(windows))
	o := New(store, svc, Options{})
	o.Start(context.Background())
	require.Eventually(t, func() bool { return svc.userCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	o.Stop()
	assert.True(t, machine.IsLoadingPhase(store.State(), machine.PhaseLoadingUserData))
}
