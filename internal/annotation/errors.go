package annotation

import "errors"

var (
	// ErrIndexOutOfRange is returned when a sample index or range falls
	// outside [0, N] of the signal being edited.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrEmptyRange is returned by operations that need at least one sample.
	ErrEmptyRange = errors.New("empty range")

	// ErrInvalidInterval is returned for intervals with start > end.
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrInvalidMode is returned when parsing an unknown edit mode or gesture.
	ErrInvalidMode = errors.New("invalid edit mode")

	// ErrUnknownSignalType is returned for tags other than ECG, PPG or RESP.
	ErrUnknownSignalType = errors.New("unknown signal type")

	// ErrInvalidSignal is returned when the signal is empty or contains no
	// finite sample. No annotation state can be built from it.
	ErrInvalidSignal = errors.New("signal is empty or entirely missing")

	// ErrDetectionFailed wraps failures of the peak detector.
	ErrDetectionFailed = errors.New("peak detection failed")

	// ErrCorruptRecord is returned when a persisted block does not fit the
	// signal it is applied to.
	ErrCorruptRecord = errors.New("corrupt corrected record")

	// ErrSessionNotFound is returned when no open session has the given ID.
	ErrSessionNotFound = errors.New("session not found")
)

// Conditions reported by a SignalSource.
var (
	// ErrNoRecording is returned when no recording matches a selector.
	ErrNoRecording = errors.New("no matching recording")

	// ErrAmbiguousRecording is returned when several recordings match a
	// selector. Nothing is loaded.
	ErrAmbiguousRecording = errors.New("more than one recording matches")

	// ErrNoMetadata is returned when the recording has no usable sidecar
	// metadata.
	ErrNoMetadata = errors.New("no matching recording metadata")
)
