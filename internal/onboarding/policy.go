// Package onboarding decides which setup step a user should see.
//
// The step sequence depends on the host platform and on the phone type the
// user explicitly selected. Platform iPhone detection is never consulted:
// treating a detected iPhone as the user's choice made the sequence disagree
// with the step the user had just completed.
package onboarding

import (
	"fmt"
	"slices"
	"time"

	"github.com/CodexForgeBR/appboot/internal/model"
	"github.com/CodexForgeBR/appboot/internal/platform"
)

var (
	macSequence = []model.Step{
		model.StepPhoneType,
		model.StepSecureStorage,
		model.StepPermissions,
		model.StepEmailConnect,
	}
	windowsIPhoneSequence = []model.Step{
		model.StepPhoneType,
		model.StepAppleDriver,
		model.StepEmailConnect,
	}
	windowsAndroidSequence = []model.Step{
		model.StepPhoneType,
		model.StepEmailConnect,
	}
)

// Sequence returns the ordered required steps for the platform and the
// user's declared phone type. Until a phone type is chosen the non-macOS
// sequence is the short one; phone-type always comes first so the longer
// sequence is picked up as soon as the choice is recorded.
func Sequence(p platform.Info, phone model.PhoneType) []model.Step {
	switch {
	case p.IsMacOS:
		return slices.Clone(macSequence)
	case phone == model.PhoneIPhone:
		return slices.Clone(windowsIPhoneSequence)
	default:
		return slices.Clone(windowsAndroidSequence)
	}
}

// InSequence reports whether step is required on this platform.
func InSequence(p platform.Info, phone model.PhoneType, step model.Step) bool {
	return slices.Contains(Sequence(p, phone), step)
}

// Source explains how a Decision was reached.
type Source string

const (
	SourceCompletedMarker Source = "completed-marker"
	SourceResumed         Source = "resumed"
	SourceSelfCorrected   Source = "self-corrected"
	SourceDerived         Source = "derived"
)

// Decision is the outcome of the step policy.
type Decision struct {
	Step      model.Step
	Done      bool
	Source    Source
	Completed StepSet
	// Note describes a silently repaired inconsistency, for logging.
	Note string
}

// ComputeCurrentStep returns the step to show, or ok=false when onboarding
// is complete.
func ComputeCurrentStep(user model.User, p platform.Info) (step model.Step, ok bool) {
	d := Decide(user, p, time.Now())
	return d.Step, !d.Done
}

// Decide applies the step policy at time now:
//
//  1. An explicit completion timestamp means done.
//  2. A persisted step valid for the platform is resumed as is, unless the
//     user has demonstrably finished it (see provenComplete), in which case
//     it is skipped.
//  3. Otherwise the first step whose completion flag is unset is returned.
func Decide(user model.User, p platform.Info, now time.Time) Decision {
	seq := Sequence(p, user.Phone)

	if user.OnboardingCompletedAt != nil {
		return Decision{Done: true, Source: SourceCompletedMarker, Completed: NewStepSet(seq...)}
	}

	completed := NewStepSet()
	for _, s := range seq {
		if flagDone(s, user) {
			completed = completed.With(s)
		}
	}

	var note string
	if saved := user.CurrentOnboardingStep; saved != "" {
		idx := slices.Index(seq, saved)
		switch {
		case idx < 0:
			note = fmt.Sprintf("discarded saved step %q: not part of the %s sequence", saved, p.Name())
		case provenComplete(saved, user, now):
			completed = completed.With(seq[:idx+1]...)
			note = fmt.Sprintf("saved step %q already complete, advancing", saved)
			for _, s := range seq[idx+1:] {
				if !completed.Has(s) {
					return Decision{Step: s, Source: SourceSelfCorrected, Completed: completed, Note: note}
				}
			}
			return Decision{Done: true, Source: SourceSelfCorrected, Completed: completed, Note: note}
		default:
			return Decision{Step: saved, Source: SourceResumed, Completed: completed.With(seq[:idx]...)}
		}
	}

	for _, s := range seq {
		if !completed.Has(s) {
			return Decision{Step: s, Source: SourceDerived, Completed: completed, Note: note}
		}
	}
	return Decision{Done: true, Source: SourceDerived, Completed: completed, Note: note}
}

// NextPending returns the first step of the platform sequence missing from
// completed. Completed steps outside the sequence are ignored.
func NextPending(p platform.Info, phone model.PhoneType, completed StepSet) (model.Step, bool) {
	for _, s := range Sequence(p, phone) {
		if !completed.Has(s) {
			return s, true
		}
	}
	return "", false
}

func flagDone(s model.Step, u model.User) bool {
	switch s {
	case model.StepPhoneType:
		return u.Phone != ""
	case model.StepSecureStorage:
		return u.HasSecureStorageSetup
	case model.StepPermissions:
		return u.HasPermissions
	case model.StepEmailConnect:
		return u.HasCompletedEmailOnboarding
	case model.StepAppleDriver:
		return u.HasAppleDriver
	}
	return false
}

// provenComplete reports whether there is hard evidence the step is done,
// strong enough to override a persisted in-progress step. Only a working
// mailbox token qualifies today.
func provenComplete(s model.Step, u model.User, now time.Time) bool {
	if s == model.StepEmailConnect {
		return u.HasCompletedEmailOnboarding && u.Mailbox.Valid(now)
	}
	return false
}
