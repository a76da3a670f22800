package features

import (
	"errors"
	"fmt"
	"sort"
)

// NumericSnapshot is the serialized form of one numeric column's statistics.
type NumericSnapshot struct {
	Column string
	Fill   float64
	Mean   float64
	Std    float64
}

// Snapshot is the serialized form of a State.
type Snapshot struct {
	Numeric    []NumericSnapshot
	Mode       string
	Vocabulary []string
}

// Snapshot exports the fitted statistics.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Numeric:    make([]NumericSnapshot, len(s.numeric)),
		Mode:       s.mode,
		Vocabulary: s.Vocabulary(),
	}
	for i, ns := range s.numeric {
		snap.Numeric[i] = NumericSnapshot{Column: NumericColumns[i], Fill: ns.fill, Mean: ns.mean, Std: ns.std}
	}
	return snap
}

// Restore rebuilds a State from a snapshot.
func Restore(snap Snapshot) (*State, error) {
	if len(snap.Numeric) != len(NumericColumns) {
		return nil, fmt.Errorf("snapshot has %d numeric columns, want %d", len(snap.Numeric), len(NumericColumns))
	}
	for i, ns := range snap.Numeric {
		if ns.Column != NumericColumns[i] {
			return nil, fmt.Errorf("snapshot column %d is %q, want %q", i, ns.Column, NumericColumns[i])
		}
	}
	if len(snap.Vocabulary) == 0 {
		return nil, errors.New("snapshot has empty vocabulary")
	}
	if !sort.StringsAreSorted(snap.Vocabulary) {
		return nil, errors.New("snapshot vocabulary is not sorted")
	}

	s := &State{
		numeric:    make([]numericStat, len(snap.Numeric)),
		mode:       snap.Mode,
		vocabulary: append([]string(nil), snap.Vocabulary...),
	}
	for i, ns := range snap.Numeric {
		s.numeric[i] = numericStat{fill: ns.Fill, mean: ns.Mean, std: ns.Std}
	}
	s.buildIndex()
	return s, nil
}
