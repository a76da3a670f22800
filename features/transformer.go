// Package features turns raw accident records into the fixed-width numeric
// matrix the severity model is trained on.
//
// Numeric columns are mean-imputed then standardized; the accident type is
// mode-imputed then one-hot encoded over the vocabulary seen at fit time.
// A fitted State is immutable and safe for concurrent use.
package features

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"railway-accident-analytics/accident"
)

// NumericColumns lists the numeric inputs in output order.
var NumericColumns = []string{accident.FieldDeaths, accident.FieldInjuries, accident.FieldRescueTime}

const minFitRecords = 2

// numericStat holds the fit-time statistics of one numeric column.
type numericStat struct {
	fill float64 // imputation value: mean of non-missing values
	mean float64 // scaling mean of the imputed column
	std  float64 // population std of the imputed column
}

// State is a fitted transformer.
type State struct {
	numeric    []numericStat
	mode       string
	vocabulary []string
	index      map[string]int
}

// Fit computes imputation, scaling and vocabulary from records.
func Fit(records []accident.Record) (*State, error) {
	if len(records) < minFitRecords {
		return nil, fmt.Errorf("fit needs at least %d records, got %d: %w",
			minFitRecords, len(records), accident.ErrInsufficientData)
	}
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}

	s := &State{numeric: make([]numericStat, len(NumericColumns))}
	for col, name := range NumericColumns {
		present := make([]float64, 0, len(records))
		for _, r := range records {
			if v, ok := numericValue(r, col); ok {
				present = append(present, v)
			}
		}
		if len(present) == 0 {
			return nil, fmt.Errorf("column %q has no values: %w", name, accident.ErrInsufficientData)
		}
		fill := stat.Mean(present, nil)

		imputed := make([]float64, len(records))
		for i, r := range records {
			if v, ok := numericValue(r, col); ok {
				imputed[i] = v
			} else {
				imputed[i] = fill
			}
		}
		mean, std := stat.PopMeanStdDev(imputed, nil)
		s.numeric[col] = numericStat{fill: fill, mean: mean, std: std}
	}

	counts := make(map[string]int)
	for _, r := range records {
		if c := r.Category(); c != "" {
			counts[c]++
		}
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("column %q has no values: %w", accident.FieldAccidentType, accident.ErrInsufficientData)
	}
	s.vocabulary = make([]string, 0, len(counts))
	for c := range counts {
		s.vocabulary = append(s.vocabulary, c)
	}
	sort.Strings(s.vocabulary)
	// Ties go to the lexically smallest category.
	for _, c := range s.vocabulary {
		if s.mode == "" || counts[c] > counts[s.mode] {
			s.mode = c
		}
	}
	s.buildIndex()
	return s, nil
}

func (s *State) buildIndex() {
	s.index = make(map[string]int, len(s.vocabulary))
	for i, c := range s.vocabulary {
		s.index[c] = i
	}
}

// Width is the number of output columns.
func (s *State) Width() int {
	return len(NumericColumns) + len(s.vocabulary)
}

// Columns returns output column names in order.
func (s *State) Columns() []string {
	cols := make([]string, 0, s.Width())
	for _, name := range NumericColumns {
		cols = append(cols, "num__"+name)
	}
	for _, c := range s.vocabulary {
		cols = append(cols, "cat__"+accident.FieldAccidentType+"_"+c)
	}
	return cols
}

// Vocabulary returns a copy of the one-hot categories.
func (s *State) Vocabulary() []string {
	return append([]string(nil), s.vocabulary...)
}

// Mode returns the category used to impute a missing accident type.
func (s *State) Mode() string {
	return s.mode
}

// Transform encodes records into a len(records) x Width() matrix.
func (s *State) Transform(records []accident.Record) (*mat.Dense, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("transform needs at least one record: %w", accident.ErrInsufficientData)
	}
	width := s.Width()
	data := make([]float64, len(records)*width)
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		s.encode(r, data[i*width:(i+1)*width])
	}
	return mat.NewDense(len(records), width, data), nil
}

// TransformRecord encodes a single record. Callers must validate r.
func (s *State) TransformRecord(r accident.Record) []float64 {
	row := make([]float64, s.Width())
	s.encode(r, row)
	return row
}

func (s *State) encode(r accident.Record, row []float64) {
	for col, ns := range s.numeric {
		v, ok := numericValue(r, col)
		if !ok {
			v = ns.fill
		}
		if ns.std == 0 {
			row[col] = 0
			continue
		}
		row[col] = (v - ns.mean) / ns.std
	}

	offset := len(s.numeric)
	for i := offset; i < len(row); i++ {
		row[i] = 0
	}
	category := r.Category()
	if category == "" {
		category = s.mode
	}
	if i, ok := s.index[category]; ok {
		row[offset+i] = 1
	}
}

func numericValue(r accident.Record, col int) (float64, bool) {
	switch col {
	case 0:
		if r.Deaths != nil {
			return float64(*r.Deaths), true
		}
	case 1:
		if r.Injuries != nil {
			return float64(*r.Injuries), true
		}
	case 2:
		if r.RescueTimeHours != nil {
			return *r.RescueTimeHours, true
		}
	}
	return 0, false
}
