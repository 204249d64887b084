package model

import (
	"fmt"
	"strings"
)

// PhoneType is the user's declared phone platform.
type PhoneType string

// Phone types.
const (
	PhoneIPhone  PhoneType = "iphone"
	PhoneAndroid PhoneType = "android"
)

// iphoneHints and androidHints are lower-cased spellings accepted from
// config files and the command line.
var (
	iphoneHints  = []string{"iphone", "ios", "apple"}
	androidHints = []string{"android", "pixel", "samsung"}
)

// ParsePhoneType normalizes s into a PhoneType. Empty input returns "" with
// no error so callers can treat "not chosen yet" uniformly.
func ParsePhoneType(s string) (PhoneType, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "" {
		return "", nil
	}
	for _, h := range iphoneHints {
		if lower == h {
			return PhoneIPhone, nil
		}
	}
	for _, h := range androidHints {
		if lower == h {
			return PhoneAndroid, nil
		}
	}
	return "", fmt.Errorf("unknown phone type %q (want iphone or android)", s)
}

// ParseStep validates a step name.
func ParseStep(s string) (Step, error) {
	step := Step(strings.ToLower(strings.TrimSpace(s)))
	if !step.Known() {
		return "", fmt.Errorf("unknown onboarding step %q", s)
	}
	return step, nil
}
