package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"railway-accident-analytics/accident"
	"railway-accident-analytics/config"
	"railway-accident-analytics/database"
	"railway-accident-analytics/logging"
	"railway-accident-analytics/models"
	"railway-accident-analytics/pipeline"
	"railway-accident-analytics/services"
	"railway-accident-analytics/severity"
	"railway-accident-analytics/store"
)

const (
	trainingSource = "scorer"
	keepSnapshots  = 10
)

var (
	predictionsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "railway_scorer_predictions_generated_total",
		Help: "Total number of accidents scored.",
	})
	predictionsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "railway_scorer_predictions_stored_total",
		Help: "Total number of predictions upserted into Postgres.",
	})
	predictionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "railway_scorer_predictions_failed_total",
		Help: "Total number of accidents that could not be scored or stored.",
	})
	predictionsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "railway_scorer_predictions_published_total",
		Help: "Total number of predictions published to Redis.",
	})
	retrainings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railway_scorer_retrainings_total",
		Help: "Retraining attempts by result.",
	}, []string{"result"})
	unscorable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "railway_scorer_unscorable_accidents",
		Help: "Accidents skipped in the last cycle for missing estimator inputs.",
	})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "railway_scorer_cycle_duration_seconds",
		Help:    "Duration of a full scoring cycle.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
	})
)

// querier is the part of pgxpool.Pool the scorer uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type snapshotPruner interface {
	Prune(ctx context.Context, keep int) (int64, error)
}

// storedAccident is an accident row with its database ID.
type storedAccident struct {
	ID     int64
	Record accident.Record
}

type scorer struct {
	db        querier
	models    *services.ModelService
	cache     *services.CacheService
	snapshots snapshotPruner
	log       logrus.FieldLogger

	// trainedOn is the number of trainable rows behind the current
	// pipeline, 0 until known.
	trainedOn int
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.WithField("service", "scorer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("db connection failed")
	}
	defer dbPool.Close()

	cache, err := services.NewCacheService(cfg.Redis, log)
	if err != nil {
		log.WithError(err).Warn("redis unavailable, publishing disabled")
	}
	defer cache.Close()

	snapshots, err := store.NewSnapshotStore(cfg.Model.SnapshotDB)
	if err != nil {
		log.WithError(err).Fatal("snapshot store init failed")
	}
	defer snapshots.Close()

	modelService := services.NewModelService(services.TrainOptions(cfg.Model), snapshots, cache, log)
	if err := modelService.Restore(ctx); err != nil {
		log.WithError(err).Warn("stored pipeline could not be restored")
	}

	go serveHTTP(cfg.Metrics.Addr, log)

	s := &scorer{db: dbPool, models: modelService, cache: cache, snapshots: snapshots, log: log}
	log.WithFields(logrus.Fields{"interval": cfg.Scorer.Interval, "trees": cfg.Model.Trees}).Info("scorer running")

	// Run first cycle immediately
	s.runCycle(ctx)

	ticker := time.NewTicker(cfg.Scorer.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCycle(ctx)
		case <-ctx.Done():
			log.Info("scorer shutting down")
			return
		}
	}
}

func (s *scorer) runCycle(ctx context.Context) {
	start := time.Now()
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
	}()

	if s.models.Current() == nil {
		if err := s.models.Restore(ctx); err != nil {
			s.log.WithError(err).Warn("snapshot restore failed")
		}
	}

	all, err := s.loadAccidents(ctx)
	if err != nil {
		s.log.WithError(err).Error("load accidents failed")
		return
	}
	if len(all) == 0 {
		s.log.Info("no accidents stored, skipping")
		return
	}

	training := trainable(all)
	if needsRetrain(s.models.Current(), s.trainedOn, len(training)) {
		s.retrain(ctx, training)
	}

	current := s.models.Current()
	if !current.Trained() {
		s.log.WithField("trainable", len(training)).Info("no pipeline yet, skipping scoring")
		return
	}

	scored, err := s.scoredAccidents(ctx, current.ID().String())
	if err != nil {
		s.log.WithError(err).Error("load scored accidents failed")
		return
	}
	todo, skipped := pending(all, scored)
	unscorable.Set(float64(skipped))
	if len(todo) == 0 {
		return
	}

	predictions := s.score(todo)
	stored := s.storePredictions(ctx, predictions)
	published := s.publishPredictions(ctx, stored)

	s.log.WithFields(logrus.Fields{
		"pending":   len(todo),
		"skipped":   skipped,
		"scored":    len(predictions),
		"stored":    len(stored),
		"published": published,
		"elapsed_s": time.Since(start).Seconds(),
	}).Info("scoring cycle completed")
}

func (s *scorer) loadAccidents(ctx context.Context) ([]storedAccident, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, accident_type, deaths, injuries, rescue_time_hours, severity
		FROM accidents
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storedAccident
	for rows.Next() {
		var a storedAccident
		r := &a.Record
		if err := rows.Scan(&a.ID, &r.AccidentType, &r.Deaths, &r.Injuries, &r.RescueTimeHours, &r.Severity); err != nil {
			return nil, fmt.Errorf("scan accident: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// trainable keeps rows whose severity target can be derived.
func trainable(all []storedAccident) []accident.Record {
	out := make([]accident.Record, 0, len(all))
	for _, a := range all {
		if _, err := a.Record.Target(); err == nil {
			out = append(out, a.Record)
		}
	}
	return out
}

// needsRetrain reports whether count trainable rows differ from what the
// current pipeline was fitted on. trainedOn of 0 falls back to the
// pipeline's own train and test sizes.
func needsRetrain(current *pipeline.Pipeline, trainedOn, count int) bool {
	if count < severity.MinTrainingRecords {
		return false
	}
	if !current.Trained() {
		return true
	}
	if trainedOn == 0 {
		m := current.Metrics()
		trainedOn = m.TrainSize + m.TestSize
	}
	return count != trainedOn
}

func (s *scorer) retrain(ctx context.Context, records []accident.Record) {
	p, err := s.models.Train(ctx, records, trainingSource)
	if errors.Is(err, services.ErrTrainingInProgress) {
		retrainings.WithLabelValues("skipped").Inc()
		return
	}
	if err != nil {
		retrainings.WithLabelValues("failed").Inc()
		s.log.WithError(err).Error("retraining failed")
		return
	}
	retrainings.WithLabelValues("ok").Inc()
	s.trainedOn = len(records)

	run := models.NewTrainingRun(p, trainingSource)
	_, err = s.db.Exec(ctx, `
		INSERT INTO training_runs (id, trained_at, records, train_size, test_size, mae, r2, trees, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, run.ID.String(), run.TrainedAt, run.Records, run.TrainSize, run.TestSize, run.MAE, run.R2, run.Trees, run.Source)
	if err != nil {
		s.log.WithError(err).Warn("training run insert failed")
	}
	if s.snapshots != nil {
		if _, err := s.snapshots.Prune(ctx, keepSnapshots); err != nil {
			s.log.WithError(err).Warn("snapshot prune failed")
		}
	}
}

func (s *scorer) scoredAccidents(ctx context.Context, pipelineID string) (map[int64]bool, error) {
	rows, err := s.db.Query(ctx, `
		SELECT accident_id FROM predictions
		WHERE pipeline_id = $1 AND accident_id IS NOT NULL
	`, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scored := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		scored[id] = true
	}
	return scored, rows.Err()
}

// pending returns the accidents not yet scored by the current pipeline and
// the number skipped because they lack estimator inputs.
func pending(all []storedAccident, scored map[int64]bool) ([]storedAccident, int) {
	var out []storedAccident
	skipped := 0
	for _, a := range all {
		if scored[a.ID] {
			continue
		}
		if err := a.Record.RequireInputs(); err != nil {
			skipped++
			continue
		}
		out = append(out, a)
	}
	return out, skipped
}

// score predicts each pending accident. Failures are counted and skipped.
func (s *scorer) score(todo []storedAccident) []models.Prediction {
	out := make([]models.Prediction, 0, len(todo))
	for _, a := range todo {
		res, err := s.models.Predict(a.Record)
		if err != nil {
			predictionsFailed.Inc()
			s.log.WithError(err).WithField("accident_id", a.ID).Debug("accident not scorable")
			continue
		}
		id := a.ID
		out = append(out, models.NewPrediction(a.Record, res, &id))
		predictionsGenerated.Inc()
	}
	return out
}

func (s *scorer) storePredictions(ctx context.Context, predictions []models.Prediction) []models.Prediction {
	stored := make([]models.Prediction, 0, len(predictions))
	for _, p := range predictions {
		err := s.db.QueryRow(ctx, `
			INSERT INTO predictions (accident_id, pipeline_id, accident_type, deaths, injuries,
				rescue_time_hours, severity_score, tier, tier_rank, ambulances, damage_cost, currency)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (accident_id, pipeline_id) DO UPDATE SET
				severity_score = EXCLUDED.severity_score,
				tier = EXCLUDED.tier,
				tier_rank = EXCLUDED.tier_rank,
				ambulances = EXCLUDED.ambulances,
				damage_cost = EXCLUDED.damage_cost
			RETURNING id, created_at
		`, p.AccidentID, p.PipelineID.String(), p.AccidentType, p.Deaths, p.Injuries,
			p.RescueTimeHours, p.SeverityScore, p.Tier, p.TierRank, p.Ambulances, p.DamageCost.String(), p.Currency,
		).Scan(&p.ID, &p.CreatedAt)
		if err != nil {
			predictionsFailed.Inc()
			s.log.WithError(err).WithField("accident_id", *p.AccidentID).Error("prediction upsert failed")
			continue
		}
		predictionsStored.Inc()
		stored = append(stored, p)
	}
	return stored
}

func (s *scorer) publishPredictions(ctx context.Context, predictions []models.Prediction) int {
	if !s.cache.Available() {
		return 0
	}
	published := 0
	for _, p := range predictions {
		if err := s.cache.Publish(ctx, services.ChannelPredictions, p); err != nil {
			s.log.WithError(err).WithField("prediction_id", p.ID).Warn("redis publish failed")
			continue
		}
		predictionsPublished.Inc()
		published++
	}
	return published
}

func serveHTTP(addr string, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.WithField("addr", addr).Info("metrics server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("metrics server failed")
	}
}
