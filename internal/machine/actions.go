package machine

import (
	"time"

	"github.com/CodexForgeBR/appboot/internal/model"
)

// ActionType names an action for logs.
type ActionType string

const (
	TypeStorageChecked         ActionType = "STORAGE_CHECKED"
	TypeDBInitStarted          ActionType = "DB_INIT_STARTED"
	TypeDBInitComplete         ActionType = "DB_INIT_COMPLETE"
	TypeAuthLoaded             ActionType = "AUTH_LOADED"
	TypeAuthLoadFailed         ActionType = "AUTH_LOAD_FAILED"
	TypeUserDataLoaded         ActionType = "USER_DATA_LOADED"
	TypeUserDataLoadFailed     ActionType = "USER_DATA_LOAD_FAILED"
	TypeOnboardingStepComplete ActionType = "ONBOARDING_STEP_COMPLETE"
	TypeRetry                  ActionType = "RETRY"
	TypeLogout                 ActionType = "LOGOUT"
)

// Action is anything Reduce understands. Unknown implementations are no-ops.
type Action interface {
	Type() ActionType
}

// StorageChecked leaves checking-storage. It carries no I/O result.
type StorageChecked struct{}

// DBInitStarted marks secure storage initialization as underway. On
// keychain platforms it is the user's consent to proceed.
type DBInitStarted struct{}

// DBInitComplete reports the secure storage result.
type DBInitComplete struct {
	Success bool
	Err     string
}

// AuthLoaded carries the stored session, nil if there is none.
type AuthLoaded struct {
	Session *model.Session
}

// AuthLoadFailed reports a transport failure while reading the session.
type AuthLoadFailed struct {
	Err string
}

// UserDataLoaded carries the user snapshot. At is the evaluation time for
// token validity; zero means now.
type UserDataLoaded struct {
	User model.User
	At   time.Time
}

// UserDataLoadFailed reports a failure while fetching the user.
type UserDataLoadFailed struct {
	Err string
}

// OnboardingStepComplete records a finished wizard step. PhoneType is the
// user's explicit selection and only meaningful for the phone-type step.
type OnboardingStepComplete struct {
	Step      model.Step
	PhoneType model.PhoneType
}

// Retry re-enters the loading phase that failed.
type Retry struct{}

// Logout drops all user and onboarding state.
type Logout struct{}

func (StorageChecked) Type() ActionType         { return TypeStorageChecked }
func (DBInitStarted) Type() ActionType          { return TypeDBInitStarted }
func (DBInitComplete) Type() ActionType         { return TypeDBInitComplete }
func (AuthLoaded) Type() ActionType             { return TypeAuthLoaded }
func (AuthLoadFailed) Type() ActionType         { return TypeAuthLoadFailed }
func (UserDataLoaded) Type() ActionType         { return TypeUserDataLoaded }
func (UserDataLoadFailed) Type() ActionType     { return TypeUserDataLoadFailed }
func (OnboardingStepComplete) Type() ActionType { return TypeOnboardingStepComplete }
func (Retry) Type() ActionType                  { return TypeRetry }
func (Logout) Type() ActionType                 { return TypeLogout }
