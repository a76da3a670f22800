package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"railway-accident-analytics/accident"
	"railway-accident-analytics/pipeline"
)

type Prediction struct {
	ID              int64           `gorm:"column:id;primaryKey" json:"id"`
	AccidentID      *int64          `gorm:"column:accident_id" json:"accident_id,omitempty"`
	PipelineID      uuid.UUID       `gorm:"column:pipeline_id;type:uuid" json:"pipeline_id"`
	AccidentType    string          `gorm:"column:accident_type" json:"accident_type"`
	Deaths          int             `gorm:"column:deaths" json:"deaths"`
	Injuries        int             `gorm:"column:injuries" json:"injuries"`
	RescueTimeHours float64         `gorm:"column:rescue_time_hours" json:"rescue_time_hours"`
	SeverityScore   float64         `gorm:"column:severity_score" json:"severity_score"`
	Tier            string          `gorm:"column:tier" json:"tier"`
	TierRank        int             `gorm:"column:tier_rank" json:"-"`
	Ambulances      int             `gorm:"column:ambulances" json:"ambulances"`
	DamageCost      decimal.Decimal `gorm:"column:damage_cost;type:numeric(18,2)" json:"damage_cost"`
	Currency        string          `gorm:"column:currency" json:"currency"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Prediction) TableName() string { return "predictions" }

// NewPrediction records a pipeline result for the record it scored. The
// record must have passed RequireInputs.
func NewPrediction(r accident.Record, res pipeline.Result, accidentID *int64) Prediction {
	return Prediction{
		AccidentID:      accidentID,
		PipelineID:      res.PipelineID,
		AccidentType:    r.Category(),
		Deaths:          *r.Deaths,
		Injuries:        *r.Injuries,
		RescueTimeHours: *r.RescueTimeHours,
		SeverityScore:   res.SeverityScore,
		Tier:            res.Tier.String(),
		TierRank:        int(res.Tier),
		Ambulances:      res.Ambulances,
		DamageCost:      res.DamageCost,
		Currency:        res.Currency,
	}
}
