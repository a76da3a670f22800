package models

import (
	"time"

	"railway-accident-analytics/accident"
)

type Accident struct {
	ID              int64      `gorm:"column:id;primaryKey" json:"id"`
	AccidentType    string     `gorm:"column:accident_type" json:"accident_type"`
	Deaths          *int       `gorm:"column:deaths" json:"deaths"`
	Injuries        *int       `gorm:"column:injuries" json:"injuries"`
	RescueTimeHours *float64   `gorm:"column:rescue_time_hours" json:"rescue_time_hours"`
	Severity        *float64   `gorm:"column:severity" json:"severity,omitempty"`
	OccurredAt      *time.Time `gorm:"column:occurred_at" json:"occurred_at,omitempty"`
	TrainName       string     `gorm:"column:train_name" json:"train_name,omitempty"`
	Division        string     `gorm:"column:railway_division" json:"railway_division,omitempty"`
	Environment     string     `gorm:"column:env" json:"env,omitempty"`
	Cause           string     `gorm:"column:cause" json:"cause,omitempty"`
	State           string     `gorm:"column:state" json:"state,omitempty"`
	Source          string     `gorm:"column:source;default:upload" json:"source"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Accident) TableName() string { return "accidents" }

// NewAccident copies a parsed record into a row.
func NewAccident(r accident.Record, source string) Accident {
	a := Accident{
		AccidentType:    r.Category(),
		Deaths:          r.Deaths,
		Injuries:        r.Injuries,
		RescueTimeHours: r.RescueTimeHours,
		Severity:        r.Severity,
		TrainName:       r.TrainName,
		Division:        r.Division,
		Environment:     r.Environment,
		Cause:           r.Cause,
		State:           r.State,
		Source:          source,
	}
	if !r.OccurredAt.IsZero() {
		t := r.OccurredAt
		a.OccurredAt = &t
	}
	return a
}

// Record converts the row back to the record shape the pipeline reads.
func (a Accident) Record() accident.Record {
	r := accident.Record{
		AccidentType:    a.AccidentType,
		Deaths:          a.Deaths,
		Injuries:        a.Injuries,
		RescueTimeHours: a.RescueTimeHours,
		Severity:        a.Severity,
		TrainName:       a.TrainName,
		Division:        a.Division,
		Environment:     a.Environment,
		Cause:           a.Cause,
		State:           a.State,
	}
	if a.OccurredAt != nil {
		r.OccurredAt = *a.OccurredAt
	}
	return r
}
