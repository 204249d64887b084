// Package exitcode defines named exit codes for the appboot CLI.
//
// Each code maps a state the launch pipeline can settle in to a numeric
// value recognized by shell scripts and installers.
package exitcode

import "github.com/CodexForgeBR/appboot/internal/machine"

// Exit code constants.
const (
	Success           = 0   // Ready: onboarding complete
	Error             = 1   // Invalid args, misconfiguration, load failure
	Unauthenticated   = 2   // No stored session
	OnboardingPending = 3   // Signed in, setup wizard not finished
	InitFailed        = 4   // Secure storage could not be opened
	AwaitingConsent   = 5   // Keychain access needs the user's go-ahead
	RestartRequired   = 6   // Quit so the OS can apply a permission grant
	Interrupted       = 130 // SIGINT/SIGTERM received
)

// Name returns the human-readable name for the given exit code.
// Unknown codes return "unknown".
func Name(code int) string {
	switch code {
	case Success:
		return "Success"
	case Error:
		return "Error"
	case Unauthenticated:
		return "Unauthenticated"
	case OnboardingPending:
		return "OnboardingPending"
	case InitFailed:
		return "InitFailed"
	case AwaitingConsent:
		return "AwaitingConsent"
	case RestartRequired:
		return "RestartRequired"
	case Interrupted:
		return "Interrupted"
	default:
		return "unknown"
	}
}

// ForState maps a settled machine state to its exit code.
func ForState(s machine.State) int {
	switch v := s.(type) {
	case *machine.Ready:
		return Success
	case *machine.Onboarding:
		return OnboardingPending
	case *machine.Unauthenticated:
		return Unauthenticated
	case *machine.Error:
		if v.Code == machine.CodeDBInitFailed {
			return InitFailed
		}
		return Error
	case *machine.Loading:
		if v.Phase == machine.PhaseInitializingDB && v.DBStatus == machine.DBIdle {
			return AwaitingConsent
		}
	}
	return Error
}
