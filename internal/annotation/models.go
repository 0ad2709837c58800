package annotation

import (
	"fmt"
	"strings"
)

// SignalType identifies the physiological modality being annotated.
type SignalType string

const (
	ECG  SignalType = "ECG"
	PPG  SignalType = "PPG"
	RESP SignalType = "RESP"
)

// ParseSignalType accepts any casing of "ecg", "ppg" or "resp".
func ParseSignalType(s string) (SignalType, error) {
	switch st := SignalType(strings.ToUpper(strings.TrimSpace(s))); st {
	case ECG, PPG, RESP:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSignalType, s)
	}
}

// Key returns the lower-cased tag used as the block key in corrected files.
func (t SignalType) Key() string {
	return strings.ToLower(string(t))
}

// Interval is a half-open range of sample indices [Start, End).
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of samples covered by the interval.
func (iv Interval) Len() int {
	if iv.End <= iv.Start {
		return 0
	}
	return iv.End - iv.Start
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%d,%d)", iv.Start, iv.End)
}

// Block is the persisted corrected state of one modality. This also matches
// the JSON layout of a modality entry in a corrected file.
type Block struct {
	Valid          bool  `json:"valid"`
	CorrectedPeaks []int `json:"corrected_peaks"`
	BadSegments    []int `json:"bad_segments"` // flat [s1,e1,s2,e2,...] or null
}

// Selector identifies one recording inside a study folder.
type Selector struct {
	Participant string     `json:"participant"`
	Session     string     `json:"session"`
	Modality    string     `json:"modality"`
	Pattern     string     `json:"pattern"`
	SignalType  SignalType `json:"signal_type"`
}

// Recording is what a signal source hands to the engine: a signal already
// resampled to the working rate, where to persist corrections, and any prior
// corrected block for the selected modality.
type Recording struct {
	Signal       []float64
	SamplingRate int
	Path         string // corrected JSON artifact
	Prior        *Block
}
