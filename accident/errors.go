package accident

import (
	"errors"
	"fmt"
	"strconv"
)

// Field names used in error messages and CSV aliases.
const (
	FieldAccidentType = "accident_type"
	FieldDeaths       = "deaths"
	FieldInjuries     = "injuries"
	FieldRescueTime   = "rescue_time_hours"
	FieldSeverity     = "severity"
)

var (
	// ErrInsufficientData is returned when fitting or training sees too few usable rows.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrNotTrained is returned when a prediction is requested before a successful training run.
	ErrNotTrained = errors.New("model not trained")
)

// MalformedRecordError reports a record with a missing required field or a
// value that is not a valid number for its column.
type MalformedRecordError struct {
	Line   int // 1-based CSV line, 0 when not from a file
	Field  string
	Value  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	msg := fmt.Sprintf("malformed record: field %q %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got %q)", e.Value)
	}
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	return msg
}

// IsMalformed reports whether err wraps a MalformedRecordError.
func IsMalformed(err error) bool {
	var me *MalformedRecordError
	return errors.As(err, &me)
}

func itoa(v int) string { return strconv.Itoa(v) }

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
