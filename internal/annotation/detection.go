package annotation

import (
	"fmt"
	"math"
)

// Detector finds events in a signal sampled at samplingRate Hz. The returned
// vector must have the same length as signal.
type Detector interface {
	Detect(signal []float64, samplingRate int, st SignalType) ([]bool, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(signal []float64, samplingRate int, st SignalType) ([]bool, error)

// Detect implements Detector.
func (f DetectorFunc) Detect(signal []float64, samplingRate int, st SignalType) ([]bool, error) {
	return f(signal, samplingRate, st)
}

// Initialize builds the State a user starts editing from. A prior block is
// used as is and the detector is not run; otherwise det provides the initial
// peaks, with no bad segments and the recording flagged valid.
//
// A signal without any finite sample yields ErrInvalidSignal and a detector
// failure yields ErrDetectionFailed; in both cases no State is returned.
func Initialize(signal []float64, samplingRate int, st SignalType, prior *Block, det Detector) (*State, error) {
	if !hasFinite(signal) {
		return nil, ErrInvalidSignal
	}
	if prior != nil {
		return stateFromBlock(signal, prior)
	}
	if det == nil {
		return nil, fmt.Errorf("%w: no detector configured", ErrDetectionFailed)
	}
	if samplingRate <= 0 {
		return nil, fmt.Errorf("%w: sampling rate %d", ErrDetectionFailed, samplingRate)
	}

	peaks, err := det.Detect(signal, samplingRate, st)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDetectionFailed, st, err)
	}
	if len(peaks) != len(signal) {
		return nil, fmt.Errorf("%w: %s detector returned %d samples for a signal of %d",
			ErrDetectionFailed, st, len(peaks), len(signal))
	}
	return NewState(signal, peaks)
}

func hasFinite(signal []float64) bool {
	for _, v := range signal {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
