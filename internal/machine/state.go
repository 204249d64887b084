// Package machine holds the application state machine: the closed set of
// state variants, the actions that drive them, the pure Reduce function and
// the Store that serializes dispatch.
//
// State values are never mutated after construction. Every transition
// produces a new value; a rejected or irrelevant action returns the very
// same pointer it was given.
package machine

import (
	"fmt"
	"strings"

	"github.com/CodexForgeBR/appboot/internal/model"
	"github.com/CodexForgeBR/appboot/internal/onboarding"
	"github.com/CodexForgeBR/appboot/internal/platform"
)

// Kind tags a state variant.
type Kind string

const (
	KindLoading         Kind = "loading"
	KindUnauthenticated Kind = "unauthenticated"
	KindOnboarding      Kind = "onboarding"
	KindReady           Kind = "ready"
	KindError           Kind = "error"
)

// Phase is a loading sub-phase.
type Phase string

const (
	PhaseCheckingStorage Phase = "checking-storage"
	PhaseInitializingDB  Phase = "initializing-db"
	PhaseLoadingAuth     Phase = "loading-auth"
	PhaseLoadingUserData Phase = "loading-user-data"
)

// DBStatus refines PhaseInitializingDB for spinner text.
type DBStatus string

const (
	DBIdle         DBStatus = "idle"
	DBInitializing DBStatus = "initializing"
)

// ErrorCode classifies an Error state.
type ErrorCode string

const (
	CodeDBInitFailed       ErrorCode = "DB_INIT_FAILED"
	CodeAuthLoadFailed     ErrorCode = "AUTH_LOAD_FAILED"
	CodeUserDataLoadFailed ErrorCode = "USER_DATA_LOAD_FAILED"
)

// State is one of *Loading, *Unauthenticated, *Onboarding, *Ready, *Error.
// The unexported method closes the set.
type State interface {
	Kind() Kind
	PlatformInfo() platform.Info
	fmt.Stringer
	sealed()
}

// Loading is the startup pipeline.
type Loading struct {
	Phase    Phase
	DBStatus DBStatus
	Platform platform.Info
}

// Unauthenticated means no usable session exists.
type Unauthenticated struct {
	Platform platform.Info
}

// Onboarding is the first-run wizard.
type Onboarding struct {
	Step              model.Step
	CompletedSteps    onboarding.StepSet
	SelectedPhoneType model.PhoneType
	User              model.User
	Platform          platform.Info
}

// Ready is the steady state of an authenticated, onboarded user.
type Ready struct {
	CurrentUser model.User
	Platform    platform.Info
}

// Error is a failed loading phase.
type Error struct {
	Code        ErrorCode
	Message     string
	Recoverable bool
	// FailedPhase is where Retry resumes.
	FailedPhase Phase
	Platform    platform.Info
}

// Initial returns the state every process starts in.
func Initial(p platform.Info) State {
	return &Loading{Phase: PhaseCheckingStorage, DBStatus: DBIdle, Platform: p}
}

func (*Loading) Kind() Kind         { return KindLoading }
func (*Unauthenticated) Kind() Kind { return KindUnauthenticated }
func (*Onboarding) Kind() Kind      { return KindOnboarding }
func (*Ready) Kind() Kind           { return KindReady }
func (*Error) Kind() Kind           { return KindError }

func (s *Loading) PlatformInfo() platform.Info         { return s.Platform }
func (s *Unauthenticated) PlatformInfo() platform.Info { return s.Platform }
func (s *Onboarding) PlatformInfo() platform.Info      { return s.Platform }
func (s *Ready) PlatformInfo() platform.Info           { return s.Platform }
func (s *Error) PlatformInfo() platform.Info           { return s.Platform }

func (*Loading) sealed()         {}
func (*Unauthenticated) sealed() {}
func (*Onboarding) sealed()      {}
func (*Ready) sealed()           {}
func (*Error) sealed()           {}

func (s *Loading) String() string {
	if s.Phase == PhaseInitializingDB {
		return fmt.Sprintf("loading{%s, %s}", s.Phase, s.DBStatus)
	}
	return fmt.Sprintf("loading{%s}", s.Phase)
}

func (s *Unauthenticated) String() string { return "unauthenticated" }

func (s *Onboarding) String() string {
	done := make([]string, 0, len(s.CompletedSteps))
	for _, st := range s.CompletedSteps.Sorted() {
		done = append(done, string(st))
	}
	return fmt.Sprintf("onboarding{step=%s, completed=[%s]}", s.Step, strings.Join(done, ","))
}

func (s *Ready) String() string { return fmt.Sprintf("ready{user=%s}", s.CurrentUser.ID) }

func (s *Error) String() string {
	return fmt.Sprintf("error{%s: %s, recoverable=%t}", s.Code, s.Message, s.Recoverable)
}

// IsLoadingPhase reports whether s is Loading in phase p.
func IsLoadingPhase(s State, p Phase) bool {
	l, ok := s.(*Loading)
	return ok && l.Phase == p
}
