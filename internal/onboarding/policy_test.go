package onboarding

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodexForgeBR/appboot/internal/model"
	"github.com/CodexForgeBR/appboot/internal/platform"
)

var (
	macOS   = platform.Info{IsMacOS: true}
	windows = platform.Info{IsWindows: true}
	now     = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

func TestSequence_PerPlatform(t *testing.T) {
	assert.Equal(t,
		[]model.Step{model.StepPhoneType, model.StepSecureStorage, model.StepPermissions, model.StepEmailConnect},
		Sequence(macOS, model.PhoneIPhone))
	assert.Equal(t,
		[]model.Step{model.StepPhoneType, model.StepAppleDriver, model.StepEmailConnect},
		Sequence(windows, model.PhoneIPhone))
	assert.Equal(t,
		[]model.Step{model.StepPhoneType, model.StepEmailConnect},
		Sequence(windows, model.PhoneAndroid))
}

func TestSequence_IgnoresDetectedIPhone(t *testing.T) {
	detected := platform.Info{IsWindows: true, HasIPhone: true}
	assert.NotContains(t, Sequence(detected, model.PhoneAndroid), model.StepAppleDriver,
		"the user's selection decides the sequence, not hardware detection")
	assert.NotContains(t, Sequence(detected, ""), model.StepAppleDriver)
}

func TestSequence_ReturnsCopy(t *testing.T) {
	seq := Sequence(macOS, "")
	seq[0] = "mutated"
	assert.Equal(t, model.StepPhoneType, Sequence(macOS, "")[0])
}

func TestDecide_CompletedMarkerWins(t *testing.T) {
	done := now.Add(-time.Hour)
	u := model.User{
		ID:                    "u1",
		CurrentOnboardingStep: model.StepPermissions,
		OnboardingCompletedAt: &done,
	}
	d := Decide(u, macOS, now)
	assert.True(t, d.Done)
	assert.Equal(t, SourceCompletedMarker, d.Source)
}

func TestDecide_ResumesSavedStep(t *testing.T) {
	u := model.User{ID: "u1", Phone: model.PhoneIPhone, CurrentOnboardingStep: model.StepSecureStorage}

	step, ok := ComputeCurrentStep(u, macOS)
	require.True(t, ok)
	assert.Equal(t, model.StepSecureStorage, step)

	d := Decide(u, macOS, now)
	assert.Equal(t, SourceResumed, d.Source)
	assert.True(t, d.Completed.Has(model.StepPhoneType), "steps before the saved one count as done")
	assert.False(t, d.Completed.Has(model.StepSecureStorage))
}

func TestDecide_ResumePrefersSavedOverFlags(t *testing.T) {
	// Flags say permissions is next, saved step says secure-storage.
	u := model.User{
		Phone:                 model.PhoneIPhone,
		HasSecureStorageSetup: true,
		CurrentOnboardingStep: model.StepSecureStorage,
	}
	d := Decide(u, macOS, now)
	assert.Equal(t, model.StepSecureStorage, d.Step)
	assert.Equal(t, SourceResumed, d.Source)
}

func TestDecide_SavedStepInvalidForPlatform(t *testing.T) {
	u := model.User{Phone: model.PhoneIPhone, CurrentOnboardingStep: model.StepAppleDriver}

	d := Decide(u, macOS, now)
	assert.Equal(t, SourceDerived, d.Source)
	assert.Equal(t, model.StepSecureStorage, d.Step)
	assert.Contains(t, d.Note, "apple-driver")
}

func TestDecide_SavedDriverStepDroppedWhenPhoneIsAndroid(t *testing.T) {
	u := model.User{Phone: model.PhoneAndroid, CurrentOnboardingStep: model.StepAppleDriver}

	d := Decide(u, windows, now)
	assert.Equal(t, model.StepEmailConnect, d.Step)
	assert.Equal(t, SourceDerived, d.Source)
}

func TestDecide_SelfCorrectsWithValidMailboxToken(t *testing.T) {
	u := model.User{
		Phone:                       model.PhoneIPhone,
		CurrentOnboardingStep:       model.StepEmailConnect,
		HasCompletedEmailOnboarding: true,
		Mailbox:                     &model.MailboxToken{Provider: "gmail", ExpiresAt: now.Add(24 * time.Hour)},
	}

	for _, p := range []platform.Info{macOS, windows} {
		d := Decide(u, p, now)
		assert.True(t, d.Done, "platform %s", p.Name())
		assert.Equal(t, SourceSelfCorrected, d.Source)
		assert.NotEmpty(t, d.Note)
	}
}

func TestDecide_NoSelfCorrectionWithoutValidToken(t *testing.T) {
	expired := &model.MailboxToken{Provider: "outlook", ExpiresAt: now.Add(-time.Minute)}
	for _, token := range []*model.MailboxToken{nil, expired} {
		u := model.User{
			Phone:                       model.PhoneAndroid,
			CurrentOnboardingStep:       model.StepEmailConnect,
			HasCompletedEmailOnboarding: true,
			Mailbox:                     token,
		}
		d := Decide(u, windows, now)
		assert.False(t, d.Done)
		assert.Equal(t, model.StepEmailConnect, d.Step)
		assert.Equal(t, SourceResumed, d.Source)
	}
}

func TestDecide_DerivesFromFlags(t *testing.T) {
	tests := []struct {
		name string
		user model.User
		p    platform.Info
		want model.Step
		done bool
	}{
		{"fresh mac user", model.User{}, macOS, model.StepPhoneType, false},
		{"mac after phone", model.User{Phone: model.PhoneAndroid}, macOS, model.StepSecureStorage, false},
		{"mac after storage", model.User{Phone: model.PhoneIPhone, HasSecureStorageSetup: true}, macOS, model.StepPermissions, false},
		{"mac all done", model.User{Phone: model.PhoneIPhone, HasSecureStorageSetup: true, HasPermissions: true, HasCompletedEmailOnboarding: true}, macOS, "", true},
		{"windows iphone needs driver", model.User{Phone: model.PhoneIPhone}, windows, model.StepAppleDriver, false},
		{"windows iphone with driver", model.User{Phone: model.PhoneIPhone, HasAppleDriver: true}, windows, model.StepEmailConnect, false},
		{"windows android skips driver", model.User{Phone: model.PhoneAndroid}, windows, model.StepEmailConnect, false},
		{"windows android done", model.User{Phone: model.PhoneAndroid, HasCompletedEmailOnboarding: true}, windows, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.user, tt.p, now)
			assert.Equal(t, tt.done, d.Done)
			assert.Equal(t, tt.want, d.Step)
			assert.Equal(t, SourceDerived, d.Source)
		})
	}
}

// Exhaustive check: the returned step is always in the platform sequence.
func TestDecide_StepAlwaysInSequence(t *testing.T) {
	platforms := []platform.Info{macOS, windows, {IsWindows: true, HasIPhone: true}, {}}
	phones := []model.PhoneType{"", model.PhoneIPhone, model.PhoneAndroid}
	saved := append([]model.Step{""}, model.AllSteps...)
	token := &model.MailboxToken{ExpiresAt: now.Add(time.Hour)}

	for _, p := range platforms {
		for _, phone := range phones {
			for _, s := range saved {
				for mask := 0; mask < 32; mask++ {
					u := model.User{
						Phone:                       phone,
						CurrentOnboardingStep:       s,
						HasSecureStorageSetup:       mask&1 != 0,
						HasPermissions:              mask&2 != 0,
						HasCompletedEmailOnboarding: mask&4 != 0,
						HasAppleDriver:              mask&8 != 0,
					}
					if mask&16 != 0 {
						u.Mailbox = token
					}
					d := Decide(u, p, now)
					if d.Done {
						assert.Empty(t, d.Step)
						continue
					}
					assert.True(t, slices.Contains(Sequence(p, phone), d.Step),
						"platform=%s phone=%q saved=%q mask=%d got %q", p.Name(), phone, s, mask, d.Step)
				}
			}
		}
	}
}

func TestNextPending(t *testing.T) {
	completed := NewStepSet(model.StepPhoneType, model.StepAppleDriver)

	step, ok := NextPending(windows, model.PhoneIPhone, completed)
	require.True(t, ok)
	assert.Equal(t, model.StepEmailConnect, step)

	// apple-driver in the set is irrelevant on macOS.
	step, ok = NextPending(macOS, model.PhoneIPhone, completed)
	require.True(t, ok)
	assert.Equal(t, model.StepSecureStorage, step)

	_, ok = NextPending(windows, model.PhoneAndroid, completed.With(model.StepEmailConnect))
	assert.False(t, ok)
}

func TestStepSet_WithDoesNotMutate(t *testing.T) {
	base := NewStepSet(model.StepPhoneType)
	grown := base.With(model.StepEmailConnect)

	assert.False(t, base.Has(model.StepEmailConnect))
	assert.True(t, grown.Has(model.StepEmailConnect))
	assert.Equal(t, []model.Step{model.StepEmailConnect, model.StepPhoneType}, grown.Sorted())
	assert.True(t, grown.ContainsAll([]model.Step{model.StepPhoneType, model.StepEmailConnect}))

	var empty StepSet
	assert.False(t, empty.Has(model.StepPhoneType))
}
