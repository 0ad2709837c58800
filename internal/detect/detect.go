// Package detect provides default event detectors for cardiac and
// respiratory signals. They favour predictability over accuracy: the output
// is a starting point for manual correction, not a final annotation.
package detect

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"physio-annotator/internal/annotation"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrSignalTooShort is returned when the signal is shorter than the
	// analysis window of the detector.
	ErrSignalTooShort = errors.New("signal too short for detection")

	// ErrNoFiniteSample is returned when the signal holds only NaN or Inf.
	ErrNoFiniteSample = errors.New("signal has no finite sample")
)

const (
	cardiacDistance   = 0.3  // seconds between two heartbeats, at least
	cardiacBaseline   = 0.75 // seconds, moving mean removed before detection
	ppgSmoothing      = 0.05 // seconds
	ecgHeightStdDevs  = 1.5  // R wave threshold above the mean
	respDistance      = 2.0  // seconds between two breaths, at least
	respSmoothing     = 0.5  // seconds
	respMinimumLength = 2.0  // seconds
)

// Detector dispatches to the detector matching the signal type. It
// implements annotation.Detector.
type Detector struct{}

// New returns a Detector.
func New() *Detector {
	return &Detector{}
}

// Detect implements annotation.Detector. For respiration only the peaks
// (inspiration maxima) are returned.
func (d *Detector) Detect(signal []float64, samplingRate int, st annotation.SignalType) ([]bool, error) {
	switch st {
	case annotation.ECG:
		return ECG(signal, samplingRate)
	case annotation.PPG:
		return PPG(signal, samplingRate)
	case annotation.RESP:
		peaks, _, err := Respiration(signal, samplingRate)
		return peaks, err
	default:
		return nil, fmt.Errorf("%w: %q", annotation.ErrUnknownSignalType, st)
	}
}

// ECG flags R waves: local maxima of the baseline-corrected signal standing
// more than 1.5 standard deviations above its mean, at least 300 ms apart.
func ECG(signal []float64, samplingRate int) ([]bool, error) {
	x, err := prepare(signal, samplingRate, cardiacBaseline)
	if err != nil {
		return nil, err
	}
	d := detrend(x, samples(cardiacBaseline, samplingRate))
	mean, std := stat.MeanStdDev(d, nil)
	idx := FindPeaks(d, samples(cardiacDistance, samplingRate), mean+ecgHeightStdDevs*std)
	return mask(len(signal), idx), nil
}

// PPG flags systolic peaks: maxima of the lightly smoothed signal lying
// above its 750 ms moving mean, at least 300 ms apart.
func PPG(signal []float64, samplingRate int) ([]bool, error) {
	x, err := prepare(signal, samplingRate, cardiacBaseline)
	if err != nil {
		return nil, err
	}
	smooth := MovingAverage(x, samples(ppgSmoothing, samplingRate))
	baseline := MovingAverage(x, samples(cardiacBaseline, samplingRate))
	floats.Sub(smooth, baseline)
	idx := FindPeaks(smooth, samples(cardiacDistance, samplingRate), 0)
	return mask(len(signal), idx), nil
}

// Respiration returns inspiration peaks and expiration troughs of the
// smoothed, mean-centred signal, each at least 2 s apart.
func Respiration(signal []float64, samplingRate int) (peaks, troughs []bool, err error) {
	x, err := prepare(signal, samplingRate, respMinimumLength)
	if err != nil {
		return nil, nil, err
	}
	smooth := MovingAverage(x, samples(respSmoothing, samplingRate))
	floats.AddConst(-stat.Mean(smooth, nil), smooth)

	dist := samples(respDistance, samplingRate)
	peaks = mask(len(signal), FindPeaks(smooth, dist, 0))

	floats.Scale(-1, smooth)
	troughs = mask(len(signal), FindPeaks(smooth, dist, 0))
	return peaks, troughs, nil
}

// FindPeaks returns the ascending indices of local maxima of x strictly
// greater than height. When two maxima are closer than distance samples the
// higher one wins. For a flat top, the first sample of the plateau is used.
func FindPeaks(x []float64, distance int, height float64) []int {
	var cand []int
	for i := 1; i < len(x)-1; i++ {
		if x[i] <= x[i-1] || x[i] <= height {
			continue
		}
		// Walk over a plateau to find where it ends.
		j := i
		for j+1 < len(x) && x[j+1] == x[i] {
			j++
		}
		if j+1 < len(x) && x[j+1] < x[i] {
			cand = append(cand, i)
		}
		i = j
	}
	if distance <= 1 || len(cand) < 2 {
		return cand
	}

	order := make([]int, len(cand))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return x[cand[order[a]]] > x[cand[order[b]]]
	})

	removed := make([]bool, len(cand))
	for _, k := range order {
		if removed[k] {
			continue
		}
		for l := k - 1; l >= 0 && cand[k]-cand[l] < distance; l-- {
			removed[l] = true
		}
		for l := k + 1; l < len(cand) && cand[l]-cand[k] < distance; l++ {
			removed[l] = true
		}
	}

	out := cand[:0]
	for k, idx := range cand {
		if !removed[k] {
			out = append(out, idx)
		}
	}
	return out
}

// MovingAverage returns the centred moving mean of x over window samples.
// Near the edges the mean is taken over the samples available.
func MovingAverage(x []float64, window int) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	if window < 1 {
		window = 1
	}
	cum := make([]float64, len(x)+1)
	floats.CumSum(cum[1:], x)

	half := window / 2
	for i := range x {
		lo := max(i-half, 0)
		hi := min(i-half+window, len(x))
		out[i] = (cum[hi] - cum[lo]) / float64(hi-lo)
	}
	return out
}

func detrend(x []float64, window int) []float64 {
	d := make([]float64, len(x))
	floats.SubTo(d, x, MovingAverage(x, window))
	return d
}

// prepare checks the signal length and replaces non-finite samples by the
// previous finite one (the first finite one at the start).
func prepare(signal []float64, samplingRate int, minSeconds float64) ([]float64, error) {
	if samplingRate <= 0 {
		return nil, fmt.Errorf("invalid sampling rate %d", samplingRate)
	}
	if need := samples(minSeconds, samplingRate); len(signal) < need {
		return nil, fmt.Errorf("%w: %d samples, need at least %d", ErrSignalTooShort, len(signal), need)
	}

	first := -1
	for i, v := range signal {
		if isFinite(v) {
			first = i
			break
		}
	}
	if first < 0 {
		return nil, ErrNoFiniteSample
	}

	x := make([]float64, len(signal))
	last := signal[first]
	for i, v := range signal {
		if isFinite(v) {
			last = v
		}
		x[i] = last
	}
	return x, nil
}

func samples(seconds float64, samplingRate int) int {
	return int(math.Round(seconds * float64(samplingRate)))
}

func mask(n int, idx []int) []bool {
	m := make([]bool, n)
	for _, i := range idx {
		m[i] = true
	}
	return m
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
