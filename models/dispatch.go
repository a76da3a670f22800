package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Dispatch struct {
	ID           int64           `gorm:"column:id;primaryKey" json:"id"`
	PredictionID int64           `gorm:"column:prediction_id" json:"prediction_id"`
	AccidentID   *int64          `gorm:"column:accident_id" json:"accident_id,omitempty"`
	Tier         string          `gorm:"column:tier" json:"tier"`
	TierRank     int             `gorm:"column:tier_rank" json:"-"`
	Ambulances   int             `gorm:"column:ambulances" json:"ambulances"`
	DamageCost   decimal.Decimal `gorm:"column:damage_cost;type:numeric(18,2)" json:"damage_cost"`
	Currency     string          `gorm:"column:currency" json:"currency"`
	Reason       string          `gorm:"column:reason" json:"reason"`
	Alerted      bool            `gorm:"column:alerted" json:"alerted"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Dispatch) TableName() string { return "dispatches" }
