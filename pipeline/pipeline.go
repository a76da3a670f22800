// Package pipeline bundles a fitted feature transformer and severity model
// into one immutable handle and turns a raw accident record into a severity
// prediction with resource estimates.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"railway-accident-analytics/accident"
	"railway-accident-analytics/estimate"
	"railway-accident-analytics/features"
	"railway-accident-analytics/forest"
	"railway-accident-analytics/severity"
)

// ErrMismatchedPipeline is returned when a transformer and model from
// different training runs are combined.
var ErrMismatchedPipeline = errors.New("transformer and model come from different training runs")

// Options configures Fit.
type Options struct {
	Train    severity.TrainConfig
	Progress forest.ProgressFunc
	Now      func() time.Time
}

// DefaultOptions uses the reference training configuration.
func DefaultOptions() Options {
	return Options{Train: severity.DefaultTrainConfig()}
}

// Pipeline is a fitted transformer plus the model trained on its output.
// A Pipeline is never mutated after Fit or Restore.
type Pipeline struct {
	id        uuid.UUID
	trainedAt time.Time
	state     *features.State
	model     *severity.Model
}

// Result is one prediction.
type Result struct {
	PipelineID    uuid.UUID        `json:"pipeline_id"`
	SeverityScore float64          `json:"severity_score"`
	Tier          severity.Tier    `json:"tier"`
	Ambulances    int              `json:"ambulances"`
	DamageCost    decimal.Decimal  `json:"damage_cost"`
	Currency      string           `json:"currency"`
	Metrics       severity.Metrics `json:"metrics"`
}

// Fit derives targets, fits the transformer, encodes the records and trains
// the model on them.
func Fit(ctx context.Context, records []accident.Record, opts Options) (*Pipeline, error) {
	if len(records) < severity.MinTrainingRecords {
		return nil, fmt.Errorf("fit needs at least %d records, got %d: %w",
			severity.MinTrainingRecords, len(records), accident.ErrInsufficientData)
	}
	y := make([]float64, len(records))
	for i, r := range records {
		v, err := r.Target()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		y[i] = v
	}

	state, err := features.Fit(records)
	if err != nil {
		return nil, fmt.Errorf("fit features: %w", err)
	}
	x, err := state.Transform(records)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	model, err := severity.Train(ctx, x, y, opts.Train, opts.Progress)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	return &Pipeline{
		id:        uuid.New(),
		trainedAt: now().UTC(),
		state:     state,
		model:     model,
	}, nil
}

// Predict scores one record. Deaths, injuries and rescue time must be present
// because the estimators read them directly.
func (p *Pipeline) Predict(r accident.Record) (Result, error) {
	if !p.Trained() {
		return Result{}, accident.ErrNotTrained
	}
	if err := r.RequireInputs(); err != nil {
		return Result{}, err
	}

	score, err := p.model.Predict(p.state.TransformRecord(r))
	if err != nil {
		return Result{}, err
	}
	return Result{
		PipelineID:    p.id,
		SeverityScore: score,
		Tier:          severity.Classify(score),
		Ambulances:    estimate.Ambulances(*r.Deaths, *r.Injuries, *r.RescueTimeHours),
		DamageCost:    estimate.DamageCost(r.AccidentType, *r.Deaths, *r.Injuries),
		Currency:      estimate.Currency,
		Metrics:       p.model.Metrics(),
	}, nil
}

// Trained reports whether p can predict.
func (p *Pipeline) Trained() bool {
	return p != nil && p.state != nil && p.model != nil
}

// ID identifies the training run.
func (p *Pipeline) ID() uuid.UUID { return p.id }

// TrainedAt is when the run finished.
func (p *Pipeline) TrainedAt() time.Time { return p.trainedAt }

// Metrics of the held-out evaluation.
func (p *Pipeline) Metrics() severity.Metrics { return p.model.Metrics() }

// Columns lists the encoded feature names.
func (p *Pipeline) Columns() []string { return p.state.Columns() }

// Vocabulary lists the accident types seen at fit time.
func (p *Pipeline) Vocabulary() []string { return p.state.Vocabulary() }

// Trees is the ensemble size.
func (p *Pipeline) Trees() int { return p.model.Trees() }
