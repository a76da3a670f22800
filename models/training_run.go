package models

import (
	"time"

	"github.com/google/uuid"

	"railway-accident-analytics/pipeline"
)

type TrainingRun struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	TrainedAt time.Time `gorm:"column:trained_at" json:"trained_at"`
	Records   int       `gorm:"column:records" json:"records"`
	TrainSize int       `gorm:"column:train_size" json:"train_size"`
	TestSize  int       `gorm:"column:test_size" json:"test_size"`
	MAE       float64   `gorm:"column:mae" json:"mae"`
	R2        float64   `gorm:"column:r2" json:"r2"`
	Trees     int       `gorm:"column:trees" json:"trees"`
	Source    string    `gorm:"column:source" json:"source"`
}

func (TrainingRun) TableName() string { return "training_runs" }

// NewTrainingRun summarizes a fitted pipeline.
func NewTrainingRun(p *pipeline.Pipeline, source string) TrainingRun {
	m := p.Metrics()
	return TrainingRun{
		ID:        p.ID(),
		TrainedAt: p.TrainedAt(),
		Records:   m.TrainSize + m.TestSize,
		TrainSize: m.TrainSize,
		TestSize:  m.TestSize,
		MAE:       m.MAE,
		R2:        m.R2,
		Trees:     p.Trees(),
		Source:    source,
	}
}
