package accident

import (
	"math"
	"strings"
	"time"
)

// Record is one raw accident row. Nil numeric fields and an empty
// AccidentType are missing values.
type Record struct {
	AccidentType    string   `json:"accident_type"`
	Deaths          *int     `json:"deaths"`
	Injuries        *int     `json:"injuries"`
	RescueTimeHours *float64 `json:"rescue_time_hours"`
	Severity        *float64 `json:"severity,omitempty"`

	// Descriptive columns, only read by insights.
	OccurredAt  time.Time `json:"occurred_at,omitempty"`
	TrainName   string    `json:"train_name,omitempty"`
	Division    string    `json:"railway_division,omitempty"`
	Environment string    `json:"env,omitempty"`
	Cause       string    `json:"cause,omitempty"`
	State       string    `json:"state,omitempty"`
}

// New builds a complete record from the four model inputs.
func New(accidentType string, deaths, injuries int, rescueTimeHours float64) Record {
	return Record{
		AccidentType:    accidentType,
		Deaths:          &deaths,
		Injuries:        &injuries,
		RescueTimeHours: &rescueTimeHours,
	}
}

// Category returns the trimmed accident type, empty when missing.
func (r Record) Category() string {
	return strings.TrimSpace(r.AccidentType)
}

// MaxCount bounds deaths and injuries to the range of the INTEGER columns.
const MaxCount = math.MaxInt32

// Validate rejects negative numeric values and counts above MaxCount.
// Missing values are allowed.
func (r Record) Validate() error {
	if err := validateCount(r.Deaths, FieldDeaths); err != nil {
		return err
	}
	if err := validateCount(r.Injuries, FieldInjuries); err != nil {
		return err
	}
	if r.RescueTimeHours != nil && *r.RescueTimeHours < 0 {
		return &MalformedRecordError{Field: FieldRescueTime, Value: ftoa(*r.RescueTimeHours), Reason: "must be non-negative"}
	}
	return nil
}

func validateCount(n *int, field string) error {
	switch {
	case n == nil:
		return nil
	case *n < 0:
		return &MalformedRecordError{Field: field, Value: itoa(*n), Reason: "must be non-negative"}
	case *n > MaxCount:
		return &MalformedRecordError{Field: field, Value: itoa(*n), Reason: "is out of range"}
	}
	return nil
}

// RequireInputs checks that the fields read directly by the resource
// estimators are present and valid.
func (r Record) RequireInputs() error {
	if err := r.Validate(); err != nil {
		return err
	}
	switch {
	case r.Deaths == nil:
		return &MalformedRecordError{Field: FieldDeaths, Reason: "required"}
	case r.Injuries == nil:
		return &MalformedRecordError{Field: FieldInjuries, Reason: "required"}
	case r.RescueTimeHours == nil:
		return &MalformedRecordError{Field: FieldRescueTime, Reason: "required"}
	}
	return nil
}

// Target is the severity training target: the recorded severity when
// present, otherwise deaths + injuries.
func (r Record) Target() (float64, error) {
	if r.Severity != nil {
		return *r.Severity, nil
	}
	if r.Deaths == nil || r.Injuries == nil {
		return 0, &MalformedRecordError{Field: FieldSeverity, Reason: "absent and not derivable from deaths and injuries"}
	}
	return float64(*r.Deaths + *r.Injuries), nil
}

// Casualties returns deaths + injuries with missing values counted as zero.
func (r Record) Casualties() int {
	n := 0
	if r.Deaths != nil {
		n += *r.Deaths
	}
	if r.Injuries != nil {
		n += *r.Injuries
	}
	return n
}
