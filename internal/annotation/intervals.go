package annotation

import (
	"fmt"
	"sort"
)

// AddBad returns a new normalized set containing set plus iv.
// iv must lie within [0, n]; a zero-width iv leaves the set unchanged.
// The input slice is never modified.
func AddBad(set []Interval, iv Interval, n int) ([]Interval, error) {
	if err := checkInterval(iv, n); err != nil {
		return nil, err
	}
	if iv.Len() == 0 {
		return Normalize(set), nil
	}

	candidates := make([]Interval, 0, len(set)+1)
	candidates = append(candidates, set...)
	candidates = append(candidates, iv)
	return Normalize(candidates), nil
}

// RemoveBad returns a new normalized set where the span of good has been
// carved out of every interval of set. Intervals fully covered by good are
// dropped, partial overlaps are truncated and intervals straddling good are
// split in two.
func RemoveBad(set []Interval, good Interval, n int) ([]Interval, error) {
	if err := checkInterval(good, n); err != nil {
		return nil, err
	}
	if good.Len() == 0 {
		return Normalize(set), nil
	}

	carved := make([]Interval, 0, len(set)+1)
	for _, iv := range set {
		if iv.End <= good.Start || iv.Start >= good.End {
			carved = append(carved, iv)
			continue
		}
		if iv.Start < good.Start {
			carved = append(carved, Interval{Start: iv.Start, End: good.Start})
		}
		if iv.End > good.End {
			carved = append(carved, Interval{Start: good.End, End: iv.End})
		}
	}
	return Normalize(carved), nil
}

// Normalize sorts intervals by start and merges any that overlap or touch
// (end_i >= start_j). Zero-width and inverted intervals are dropped.
// The result is a fresh slice, nil when empty.
func Normalize(ivs []Interval) []Interval {
	sorted := make([]Interval, 0, len(ivs))
	for _, iv := range ivs {
		if iv.Len() > 0 {
			sorted = append(sorted, iv)
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	out := sorted[:1]
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Flatten encodes a set as [s1,e1,s2,e2,...]. An empty set yields nil so it
// serializes as JSON null.
func Flatten(set []Interval) []int {
	if len(set) == 0 {
		return nil
	}
	flat := make([]int, 0, 2*len(set))
	for _, iv := range set {
		flat = append(flat, iv.Start, iv.End)
	}
	return flat
}

// Unflatten decodes a flat [s1,e1,...] list into a normalized set.
func Unflatten(flat []int) ([]Interval, error) {
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of bad segment bounds (%d)", ErrCorruptRecord, len(flat))
	}
	ivs := make([]Interval, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		iv := Interval{Start: flat[i], End: flat[i+1]}
		if iv.Start > iv.End {
			return nil, fmt.Errorf("%w: bad segment %v", ErrCorruptRecord, iv)
		}
		ivs = append(ivs, iv)
	}
	return Normalize(ivs), nil
}

func checkInterval(iv Interval, n int) error {
	if iv.Start > iv.End {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, iv)
	}
	if iv.Start < 0 || iv.End > n {
		return fmt.Errorf("%w: %v not within [0,%d]", ErrIndexOutOfRange, iv, n)
	}
	return nil
}
