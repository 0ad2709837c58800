package annotation

import (
	"fmt"
	"math"
)

// Op names a mutating operation on a State.
type Op string

const (
	OpInsertPeak          Op = "insert_peak"
	OpRemovePeaks         Op = "remove_peaks"
	OpInsertStrongestPeak Op = "insert_strongest_peak"
	OpMarkBad             Op = "mark_bad"
	OpUnmarkBad           Op = "unmark_bad"
	OpSetValid            Op = "set_valid"
)

// Change is delivered to listeners after a mutation has been applied.
type Change struct {
	Op       Op
	Range    Interval
	Snapshot Snapshot
}

// ChangeFunc receives state changes, e.g. to redraw a view.
type ChangeFunc func(Change)

// Snapshot is a read-only copy of a State. It shares no memory with it.
type Snapshot struct {
	Length      int        `json:"length"`
	Peaks       []int      `json:"peaks"`
	BadSegments []Interval `json:"bad_segments"`
	Valid       bool       `json:"valid"`
}

// State holds the peaks and bad segments of one signal. Every mutating
// method validates its input first, so a failed call leaves State untouched.
// State is not safe for concurrent use.
type State struct {
	signal      []float64
	uncorrected []bool
	peaks       []bool
	bad         []Interval
	valid       bool

	listeners []ChangeFunc
}

// NewState returns a valid State with no bad segments. peaks must have the
// same length as signal; both are copied.
func NewState(signal []float64, peaks []bool) (*State, error) {
	if len(peaks) != len(signal) {
		return nil, fmt.Errorf("%w: peaks length %d does not match signal length %d",
			ErrIndexOutOfRange, len(peaks), len(signal))
	}
	s := &State{
		signal:      append([]float64(nil), signal...),
		uncorrected: append([]bool(nil), peaks...),
		peaks:       append([]bool(nil), peaks...),
		valid:       true,
	}
	return s, nil
}

// stateFromBlock seeds a State from a persisted block. The persisted peaks
// also become the uncorrected reference.
func stateFromBlock(signal []float64, b *Block) (*State, error) {
	peaks := make([]bool, len(signal))
	for _, idx := range b.CorrectedPeaks {
		if idx < 0 || idx >= len(signal) {
			return nil, fmt.Errorf("%w: peak index %d outside signal of length %d",
				ErrCorruptRecord, idx, len(signal))
		}
		peaks[idx] = true
	}
	bad, err := Unflatten(b.BadSegments)
	if err != nil {
		return nil, err
	}
	for _, iv := range bad {
		if iv.Start < 0 || iv.End > len(signal) {
			return nil, fmt.Errorf("%w: bad segment %v outside signal of length %d",
				ErrCorruptRecord, iv, len(signal))
		}
	}

	s, err := NewState(signal, peaks)
	if err != nil {
		return nil, err
	}
	s.bad = bad
	s.valid = b.Valid
	return s, nil
}

// OnChange registers fn to be called after every successful mutation.
func (s *State) OnChange(fn ChangeFunc) {
	if fn != nil {
		s.listeners = append(s.listeners, fn)
	}
}

// Len returns the number of samples N.
func (s *State) Len() int {
	return len(s.signal)
}

// Valid reports whether the whole recording is flagged usable.
func (s *State) Valid() bool {
	return s.valid
}

// InsertPeak flags index as a peak.
func (s *State) InsertPeak(index int) error {
	if index < 0 || index >= len(s.peaks) {
		return fmt.Errorf("%w: peak index %d not within [0,%d)", ErrIndexOutOfRange, index, len(s.peaks))
	}
	s.peaks[index] = true
	s.notify(OpInsertPeak, Interval{Start: index, End: index + 1})
	return nil
}

// RemovePeaks clears every peak in r. Parts of r outside [0,N) are ignored
// and an empty r is a no-op.
func (s *State) RemovePeaks(r Interval) {
	c := clip(r, len(s.peaks))
	for i := c.Start; i < c.End; i++ {
		s.peaks[i] = false
	}
	s.notify(OpRemovePeaks, c)
}

// InsertStrongestPeak flags the sample of maximum amplitude within r and
// returns its index. Missing samples are ignored; a range without any finite
// sample is rejected with ErrEmptyRange.
func (s *State) InsertStrongestPeak(r Interval) (int, error) {
	if err := checkInterval(r, len(s.signal)); err != nil {
		return 0, err
	}
	idx := -1
	for i := r.Start; i < r.End; i++ {
		v := s.signal[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if idx < 0 || v > s.signal[idx] {
			idx = i
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("%w: no finite sample in %v", ErrEmptyRange, r)
	}
	s.peaks[idx] = true
	s.notify(OpInsertStrongestPeak, r)
	return idx, nil
}

// MarkBad adds r to the bad segments. r must lie within [0,N].
func (s *State) MarkBad(r Interval) error {
	bad, err := AddBad(s.bad, r, len(s.signal))
	if err != nil {
		return err
	}
	s.bad = bad
	s.notify(OpMarkBad, r)
	return nil
}

// UnmarkBad carves r out of the bad segments. r must lie within [0,N].
func (s *State) UnmarkBad(r Interval) error {
	bad, err := RemoveBad(s.bad, r, len(s.signal))
	if err != nil {
		return err
	}
	s.bad = bad
	s.notify(OpUnmarkBad, r)
	return nil
}

// SetValid flags the whole recording as usable or not.
func (s *State) SetValid(valid bool) {
	s.valid = valid
	s.notify(OpSetValid, Interval{})
}

// Peaks returns a copy of the live peaks vector.
func (s *State) Peaks() []bool {
	return append([]bool(nil), s.peaks...)
}

// Uncorrected returns a copy of the peaks vector as it was before editing.
func (s *State) Uncorrected() []bool {
	return append([]bool(nil), s.uncorrected...)
}

// BadSegments returns a copy of the normalized bad segments.
func (s *State) BadSegments() []Interval {
	return append([]Interval(nil), s.bad...)
}

// Diff lists the peaks added and removed relative to the uncorrected vector.
func (s *State) Diff() (added, removed []int) {
	added, removed = []int{}, []int{}
	for i, p := range s.peaks {
		switch {
		case p && !s.uncorrected[i]:
			added = append(added, i)
		case !p && s.uncorrected[i]:
			removed = append(removed, i)
		}
	}
	return added, removed
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Length:      len(s.signal),
		Peaks:       indices(s.peaks),
		BadSegments: s.BadSegments(),
		Valid:       s.valid,
	}
}

// Block converts the state into its persisted form.
func (s *State) Block() Block {
	return Block{
		Valid:          s.valid,
		CorrectedPeaks: indices(s.peaks),
		BadSegments:    Flatten(s.bad),
	}
}

func (s *State) notify(op Op, r Interval) {
	if len(s.listeners) == 0 {
		return
	}
	c := Change{Op: op, Range: r, Snapshot: s.Snapshot()}
	for _, fn := range s.listeners {
		fn(c)
	}
}

// indices returns the ascending positions of true values, never nil.
func indices(mask []bool) []int {
	out := []int{}
	for i, v := range mask {
		if v {
			out = append(out, i)
		}
	}
	return out
}

// clip restricts r to [0,n]. Inverted ranges become empty.
func clip(r Interval, n int) Interval {
	if r.Start < 0 {
		r.Start = 0
	}
	if r.End > n {
		r.End = n
	}
	if r.Start > n {
		r.Start = n
	}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}
