// Package model holds the plain data shapes exchanged between the state
// machine and its collaborators: users, sessions, phone types, onboarding
// step names and permission status.
package model

import "time"

// Step names one screen of the first-run setup wizard.
type Step string

// Onboarding steps.
const (
	StepPhoneType     Step = "phone-type"
	StepSecureStorage Step = "secure-storage"
	StepPermissions   Step = "permissions"
	StepEmailConnect  Step = "email-connect"
	StepAppleDriver   Step = "apple-driver"
)

// AllSteps lists every known step name.
var AllSteps = []Step{
	StepPhoneType,
	StepSecureStorage,
	StepPermissions,
	StepEmailConnect,
	StepAppleDriver,
}

// Known reports whether s is a recognized step name.
func (s Step) Known() bool {
	for _, k := range AllSteps {
		if s == k {
			return true
		}
	}
	return false
}

// MailboxToken is the credential proving a mailbox is connected.
type MailboxToken struct {
	Provider  string    `json:"provider"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the token is usable at now. A zero expiry never expires.
func (t *MailboxToken) Valid(now time.Time) bool {
	if t == nil {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt)
}

// User is an immutable snapshot of the signed-in user, taken once per load.
type User struct {
	ID    string    `json:"id"`
	Email string    `json:"email"`
	Phone PhoneType `json:"phone_type,omitempty"`

	HasSecureStorageSetup       bool `json:"has_secure_storage_setup"`
	HasPermissions              bool `json:"has_permissions"`
	HasAppleDriver              bool `json:"has_apple_driver"`
	HasCompletedEmailOnboarding bool `json:"has_completed_email_onboarding"`

	Mailbox *MailboxToken `json:"mailbox,omitempty"`

	// CurrentOnboardingStep is the step persisted by a previous run, if any.
	CurrentOnboardingStep Step `json:"current_onboarding_step,omitempty"`
	// OnboardingCompletedAt is the explicit completion marker.
	OnboardingCompletedAt *time.Time `json:"onboarding_completed_at,omitempty"`
}

// Session is a stored authentication session.
type Session struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PermissionStatus is the result of probing OS-level access grants.
type PermissionStatus struct {
	FullDiskAccess bool `json:"full_disk_access"`
	Contacts       bool `json:"contacts"`
}

// AllGranted reports whether every probed permission is granted.
func (p PermissionStatus) AllGranted() bool {
	return p.FullDiskAccess && p.Contacts
}

// InitResult is the outcome of secure storage initialization. Failure is
// carried in the value, never as an error return.
type InitResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
