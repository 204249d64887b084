package machine

import (
	"time"

	"github.com/CodexForgeBR/appboot/internal/model"
	"github.com/CodexForgeBR/appboot/internal/onboarding"
)

// Reduce returns the state that follows s after a. It performs no I/O.
// Actions that do not apply to s return s itself.
func Reduce(s State, a Action) State {
	switch act := a.(type) {
	case Logout:
		if _, ok := s.(*Unauthenticated); ok {
			return s
		}
		return &Unauthenticated{Platform: s.PlatformInfo()}

	case Retry:
		e, ok := s.(*Error)
		if !ok || !e.Recoverable {
			return s
		}
		return &Loading{Phase: e.FailedPhase, DBStatus: DBIdle, Platform: e.Platform}

	case StorageChecked:
		l, ok := s.(*Loading)
		if !ok || l.Phase != PhaseCheckingStorage {
			return s
		}
		return &Loading{Phase: PhaseInitializingDB, DBStatus: DBIdle, Platform: l.Platform}

	case DBInitStarted:
		l, ok := s.(*Loading)
		if !ok || l.Phase != PhaseInitializingDB || l.DBStatus == DBInitializing {
			return s
		}
		return &Loading{Phase: PhaseInitializingDB, DBStatus: DBInitializing, Platform: l.Platform}

	case DBInitComplete:
		l, ok := s.(*Loading)
		if !ok || l.Phase != PhaseInitializingDB {
			return s
		}
		if act.Success {
			return &Loading{Phase: PhaseLoadingAuth, DBStatus: DBIdle, Platform: l.Platform}
		}
		return failed(l, CodeDBInitFailed, act.Err, "secure storage initialization failed")

	case AuthLoaded:
		l, ok := s.(*Loading)
		if !ok || l.Phase != PhaseLoadingAuth {
			return s
		}
		if act.Session == nil {
			return &Unauthenticated{Platform: l.Platform}
		}
		return &Loading{Phase: PhaseLoadingUserData, DBStatus: DBIdle, Platform: l.Platform}

	case AuthLoadFailed:
		l, ok := s.(*Loading)
		if !ok || l.Phase != PhaseLoadingAuth {
			return s
		}
		return failed(l, CodeAuthLoadFailed, act.Err, "could not load session")

	case UserDataLoaded:
		l, ok := s.(*Loading)
		if !ok || l.Phase != PhaseLoadingUserData {
			return s
		}
		return userLoaded(l, act)

	case UserDataLoadFailed:
		l, ok := s.(*Loading)
		if !ok || l.Phase != PhaseLoadingUserData {
			return s
		}
		return failed(l, CodeUserDataLoadFailed, act.Err, "could not load user data")

	case OnboardingStepComplete:
		o, ok := s.(*Onboarding)
		if !ok || !act.Step.Known() {
			return s
		}
		return stepComplete(o, act)
	}
	return s
}

func failed(l *Loading, code ErrorCode, msg, fallback string) State {
	if msg == "" {
		msg = fallback
	}
	return &Error{
		Code:        code,
		Message:     msg,
		Recoverable: true,
		FailedPhase: l.Phase,
		Platform:    l.Platform,
	}
}

func userLoaded(l *Loading, act UserDataLoaded) State {
	at := act.At
	if at.IsZero() {
		at = time.Now()
	}
	d := onboarding.Decide(act.User, l.Platform, at)
	if d.Done {
		return &Ready{CurrentUser: act.User, Platform: l.Platform}
	}
	return &Onboarding{
		Step:              d.Step,
		CompletedSteps:    d.Completed,
		SelectedPhoneType: act.User.Phone,
		User:              act.User,
		Platform:          l.Platform,
	}
}

func stepComplete(o *Onboarding, act OnboardingStepComplete) State {
	// The phone-type step only completes with an explicit selection.
	if act.Step == model.StepPhoneType && act.PhoneType == "" {
		return o
	}
	phone := o.SelectedPhoneType
	if act.Step == model.StepPhoneType && act.PhoneType != "" {
		phone = act.PhoneType
	}
	if o.CompletedSteps.Has(act.Step) && phone == o.SelectedPhoneType {
		return o
	}

	completed := o.CompletedSteps.With(act.Step)
	user := markDone(o.User, act.Step)
	user.Phone = phone

	next, pending := onboarding.NextPending(o.Platform, phone, completed)
	if !pending {
		user.CurrentOnboardingStep = ""
		return &Ready{CurrentUser: user, Platform: o.Platform}
	}
	user.CurrentOnboardingStep = next
	return &Onboarding{
		Step:              next,
		CompletedSteps:    completed,
		SelectedPhoneType: phone,
		User:              user,
		Platform:          o.Platform,
	}
}

// markDone sets the completion flag backing step on a copy of u.
func markDone(u model.User, step model.Step) model.User {
	switch step {
	case model.StepSecureStorage:
		u.HasSecureStorageSetup = true
	case model.StepPermissions:
		u.HasPermissions = true
	case model.StepEmailConnect:
		u.HasCompletedEmailOnboarding = true
	case model.StepAppleDriver:
		u.HasAppleDriver = true
	}
	return u
}
