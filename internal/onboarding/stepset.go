package onboarding

import (
	"slices"

	"github.com/CodexForgeBR/appboot/internal/model"
)

// StepSet is an immutable set of steps. With returns a new set; the
// receiver is never modified.
type StepSet map[model.Step]struct{}

// NewStepSet builds a set from steps.
func NewStepSet(steps ...model.Step) StepSet {
	s := make(StepSet, len(steps))
	for _, st := range steps {
		s[st] = struct{}{}
	}
	return s
}

// Has reports membership. A nil set is empty.
func (s StepSet) Has(step model.Step) bool {
	_, ok := s[step]
	return ok
}

// With returns a copy of s with steps added.
func (s StepSet) With(steps ...model.Step) StepSet {
	out := make(StepSet, len(s)+len(steps))
	for k := range s {
		out[k] = struct{}{}
	}
	for _, st := range steps {
		out[st] = struct{}{}
	}
	return out
}

// Sorted returns the members in a stable order.
func (s StepSet) Sorted() []model.Step {
	out := make([]model.Step, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// ContainsAll reports whether every step is present.
func (s StepSet) ContainsAll(steps []model.Step) bool {
	for _, st := range steps {
		if !s.Has(st) {
			return false
		}
	}
	return true
}
