package settings

import "strings"

// TransitionKind names a scene switch style.
type TransitionKind string

// Transition kinds.
const (
	TransitionCut   TransitionKind = "cut"
	TransitionFade  TransitionKind = "fade"
	TransitionSwipe TransitionKind = "swipe"
	TransitionSlide TransitionKind = "slide"
)

// MaxTransitionMs bounds transition durations.
const MaxTransitionMs = 10000

// ParseTransition accepts "fade" as well as the "fade_transition" spelling.
// An empty string is a cut.
func ParseTransition(s string) (TransitionKind, error) {
	k := TransitionKind(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "_transition"))
	switch k {
	case "":
		return TransitionCut, nil
	case TransitionCut, TransitionFade, TransitionSwipe, TransitionSlide:
		return k, nil
	}
	return "", invalid("transition", "unknown transition %q", s)
}

// ValidateDuration checks a transition duration in milliseconds.
func ValidateDuration(ms int) error {
	if ms < 0 || ms > MaxTransitionMs {
		return invalid("duration_ms", "must be in 0..%d, got %d", MaxTransitionMs, ms)
	}
	return nil
}
