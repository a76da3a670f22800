package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"railway-accident-analytics/accident"
	"railway-accident-analytics/config"
	"railway-accident-analytics/forest"
	"railway-accident-analytics/pipeline"
	"railway-accident-analytics/severity"
	"railway-accident-analytics/store"
)

// ErrTrainingInProgress is returned when a training run is requested while
// another one is still fitting.
var ErrTrainingInProgress = errors.New("a training run is already in progress")

// Live event types published by the model service.
const (
	EventTrainingProgress = "training_progress"
	EventModelTrained     = "model_trained"
	EventPrediction       = "prediction"
)

// SnapshotRepository persists fitted pipelines.
type SnapshotRepository interface {
	Save(ctx context.Context, p *pipeline.Pipeline, source string) error
	Latest(ctx context.Context) (*pipeline.Pipeline, error)
}

// ModelStatus describes the pipeline currently serving predictions.
type ModelStatus struct {
	Trained    bool              `json:"trained"`
	Training   bool              `json:"training"`
	ID         *uuid.UUID        `json:"id,omitempty"`
	TrainedAt  *time.Time        `json:"trained_at,omitempty"`
	Metrics    *severity.Metrics `json:"metrics,omitempty"`
	Trees      int               `json:"trees,omitempty"`
	Columns    []string          `json:"columns,omitempty"`
	Vocabulary []string          `json:"vocabulary,omitempty"`
}

type trainingProgress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// ModelService owns the current pipeline. Readers load it atomically and
// never block; a finished training run replaces it in one swap.
type ModelService struct {
	current   atomic.Pointer[pipeline.Pipeline]
	training  atomic.Bool
	mu        sync.Mutex
	opts      pipeline.Options
	snapshots SnapshotRepository
	cache     *CacheService
	log       logrus.FieldLogger
}

// TrainOptions maps model configuration onto pipeline options.
func TrainOptions(cfg config.ModelConfig) pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.Train.Seed = cfg.Seed
	opts.Train.TestFraction = cfg.TestFraction
	opts.Train.Forest = forest.DefaultConfig()
	opts.Train.Forest.Trees = cfg.Trees
	opts.Train.Forest.MaxDepth = cfg.MaxDepth
	opts.Train.Forest.Seed = cfg.Seed
	opts.Train.Forest.Workers = cfg.Workers
	return opts
}

// NewModelService builds the service. snapshots and cache may be nil.
func NewModelService(opts pipeline.Options, snapshots SnapshotRepository, cache *CacheService, logger logrus.FieldLogger) *ModelService {
	return &ModelService{opts: opts, snapshots: snapshots, cache: cache, log: logger}
}

// Restore installs the latest stored snapshot, if any.
func (s *ModelService) Restore(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	p, err := s.snapshots.Latest(ctx)
	if errors.Is(err, store.ErrNoSnapshot) {
		s.log.Info("no stored pipeline, waiting for a training run")
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore pipeline: %w", err)
	}
	s.Install(p)
	s.log.WithFields(logrus.Fields{"run_id": p.ID(), "trained_at": p.TrainedAt()}).Info("pipeline restored")
	return nil
}

// Install makes p the current pipeline.
func (s *ModelService) Install(p *pipeline.Pipeline) {
	s.current.Store(p)
}

// Current returns the serving pipeline, nil before the first run.
func (s *ModelService) Current() *pipeline.Pipeline {
	return s.current.Load()
}

// Train fits a new pipeline on records and installs it. Only one run may be
// in flight; a concurrent call gets ErrTrainingInProgress. The previous
// pipeline keeps serving until the swap.
func (s *ModelService) Train(ctx context.Context, records []accident.Record, source string) (*pipeline.Pipeline, error) {
	if !s.mu.TryLock() {
		return nil, ErrTrainingInProgress
	}
	defer s.mu.Unlock()
	s.training.Store(true)
	defer s.training.Store(false)

	start := time.Now()
	opts := s.opts
	total := opts.Train.Forest.Trees
	step := max(total/10, 1)
	opts.Progress = func(done, total int) {
		if done%step == 0 || done == total {
			s.cache.PublishEvent(ctx, EventTrainingProgress, trainingProgress{Done: done, Total: total})
		}
	}

	p, err := pipeline.Fit(ctx, records, opts)
	trainingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		trainingsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	trainingsTotal.WithLabelValues("ok").Inc()
	s.current.Store(p)

	m := p.Metrics()
	s.log.WithFields(logrus.Fields{
		"run_id":     p.ID(),
		"records":    len(records),
		"source":     source,
		"mae":        m.MAE,
		"r2":         m.R2,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("pipeline trained")

	if s.snapshots != nil {
		if err := s.snapshots.Save(ctx, p, source); err != nil {
			s.log.WithError(err).WithField("run_id", p.ID()).Error("snapshot save failed")
		}
	}
	s.cache.PublishEvent(ctx, EventModelTrained, s.Status())
	return p, nil
}

// Predict scores r with the current pipeline.
func (s *ModelService) Predict(r accident.Record) (pipeline.Result, error) {
	res, err := s.current.Load().Predict(r)
	if err != nil {
		return res, err
	}
	predictionsTotal.WithLabelValues(res.Tier.String()).Inc()
	return res, nil
}

// Status describes the current pipeline.
func (s *ModelService) Status() ModelStatus {
	st := ModelStatus{Training: s.training.Load()}
	p := s.current.Load()
	if !p.Trained() {
		return st
	}
	id, at, m := p.ID(), p.TrainedAt(), p.Metrics()
	st.Trained = true
	st.ID = &id
	st.TrainedAt = &at
	st.Metrics = &m
	st.Trees = p.Trees()
	st.Columns = p.Columns()
	st.Vocabulary = p.Vocabulary()
	return st
}
