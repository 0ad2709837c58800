package annotation

import (
	"fmt"
	"strings"
)

// Mode selects what a range gesture means.
type Mode string

const (
	// Correction gestures add or remove peaks.
	Correction Mode = "correction"
	// Rejection gestures mark or unmark bad segments.
	Rejection Mode = "rejection"
)

// ParseMode accepts any casing of "correction" or "rejection".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Correction, Rejection:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Gesture is the physical action confirming a selected range.
type Gesture string

const (
	Primary   Gesture = "primary"
	Secondary Gesture = "secondary"
)

// ParseGesture accepts any casing of "primary" or "secondary".
func ParseGesture(s string) (Gesture, error) {
	switch g := Gesture(strings.ToLower(strings.TrimSpace(s))); g {
	case Primary, Secondary:
		return g, nil
	default:
		return "", fmt.Errorf("%w: unknown gesture %q", ErrInvalidMode, s)
	}
}

// Editor dispatches range gestures to a State according to the current mode.
// The mode only changes through SetMode.
//
//	mode        primary        secondary
//	correction  RemovePeaks    InsertStrongestPeak
//	rejection   MarkBad        UnmarkBad
type Editor struct {
	state *State
	mode  Mode
}

// NewEditor returns an Editor in Correction mode.
func NewEditor(state *State) *Editor {
	return &Editor{state: state, mode: Correction}
}

// Mode returns the current mode.
func (e *Editor) Mode() Mode {
	return e.mode
}

// SetMode switches between Correction and Rejection.
func (e *Editor) SetMode(m Mode) error {
	if m != Correction && m != Rejection {
		return fmt.Errorf("%w: %q", ErrInvalidMode, m)
	}
	e.mode = m
	return nil
}

// State returns the state being edited.
func (e *Editor) State() *State {
	return e.state
}

// Apply performs g over r. Selections coming from a pointer drag may
// overshoot the signal, so r is clamped to [0,N] first. It returns the
// operation that was performed.
func (e *Editor) Apply(g Gesture, r Interval) (Op, error) {
	if r.Start > r.End {
		r.Start, r.End = r.End, r.Start
	}
	r = clip(r, e.state.Len())

	switch e.mode {
	case Correction:
		switch g {
		case Primary:
			e.state.RemovePeaks(r)
			return OpRemovePeaks, nil
		case Secondary:
			_, err := e.state.InsertStrongestPeak(r)
			return OpInsertStrongestPeak, err
		}
	case Rejection:
		switch g {
		case Primary:
			return OpMarkBad, e.state.MarkBad(r)
		case Secondary:
			return OpUnmarkBad, e.state.UnmarkBad(r)
		}
	}
	return "", fmt.Errorf("%w: gesture %q in mode %q", ErrInvalidMode, g, e.mode)
}
