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
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"railway-accident-analytics/config"
	"railway-accident-analytics/database"
	"railway-accident-analytics/logging"
	"railway-accident-analytics/models"
	"railway-accident-analytics/services"
	"railway-accident-analytics/severity"
)

// EventDispatchCreated is published on the live channel for each new dispatch.
const EventDispatchCreated = "dispatch.created"

// candidate is the latest prediction for an accident that still needs a
// dispatch.
type candidate struct {
	PredictionID    int64
	AccidentID      *int64
	AccidentType    string
	Deaths          int
	Injuries        int
	RescueTimeHours float64
	SeverityScore   float64
	Tier            string
	TierRank        int
	Ambulances      int
	DamageCost      decimal.Decimal
	Currency        string
}

var (
	dispatchesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "railway_dispatcher_dispatches_generated_total",
		Help: "Total number of dispatch recommendations generated.",
	})
	dispatchesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "railway_dispatcher_dispatches_stored_total",
		Help: "Total number of dispatches stored in Postgres.",
	})
	dispatchesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "railway_dispatcher_dispatches_failed_total",
		Help: "Total number of dispatch failures.",
	})
	dispatchesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "railway_dispatcher_dispatches_published_total",
		Help: "Total number of dispatches published to Redis.",
	})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "railway_dispatcher_cycle_duration_seconds",
		Help:    "Duration of a full dispatch cycle.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0},
	})
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type dispatcher struct {
	db       querier
	cache    *services.CacheService
	notifier services.Notifier
	minTier  severity.Tier
	log      logrus.FieldLogger
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
	log := logger.WithField("service", "dispatcher")

	minTier, err := severity.ParseTier(cfg.Dispatcher.MinTier)
	if err != nil {
		log.WithError(err).Fatal("invalid DISPATCH_MIN_TIER")
	}

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

	notifier, err := newNotifier(cfg.Telegram)
	if err != nil {
		log.WithError(err).Fatal("telegram notifier init failed")
	}

	go serveHTTP(cfg.Metrics.Addr, log)

	d := &dispatcher{db: dbPool, cache: cache, notifier: notifier, minTier: minTier, log: log}
	log.WithFields(logrus.Fields{
		"interval": cfg.Dispatcher.Interval,
		"min_tier": minTier.String(),
		"telegram": cfg.Telegram.Enabled,
	}).Info("dispatcher running")

	// Run first cycle immediately
	d.runCycle(ctx)

	ticker := time.NewTicker(cfg.Dispatcher.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.runCycle(ctx)
		case <-ctx.Done():
			log.Info("dispatcher shutting down")
			return
		}
	}
}

func newNotifier(cfg config.TelegramConfig) (services.Notifier, error) {
	if !cfg.Enabled {
		return services.NopNotifier{}, nil
	}
	n, err := services.NewTelegramNotifier(cfg)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (d *dispatcher) runCycle(ctx context.Context) {
	start := time.Now()
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
	}()

	candidates, err := d.loadCandidates(ctx)
	if err != nil {
		dispatchesFailed.Inc()
		d.log.WithError(err).Error("query predictions failed")
		return
	}
	if len(candidates) == 0 {
		d.log.WithField("min_tier", d.minTier.String()).Debug("no accidents need dispatch")
		return
	}

	stored, alerted, published := 0, 0, 0
	for _, c := range candidates {
		dispatch := buildDispatch(c)
		dispatchesGenerated.Inc()

		ok, err := d.store(ctx, &dispatch)
		if err != nil {
			dispatchesFailed.Inc()
			d.log.WithError(err).WithField("prediction_id", c.PredictionID).Error("dispatch insert failed")
			continue
		}
		if !ok {
			continue
		}
		stored++
		dispatchesStored.Inc()

		if needsAlert(c) && d.alert(ctx, c, &dispatch) {
			alerted++
		}
		if d.publish(ctx, dispatch) {
			published++
		}
	}

	d.log.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"stored":     stored,
		"alerted":    alerted,
		"published":  published,
		"elapsed_s":  time.Since(start).Seconds(),
	}).Info("dispatch cycle completed")
}

// loadCandidates reads the latest prediction per accident at or above the
// minimum tier. An accident already dispatched at the same or a higher tier
// is skipped, so only escalations dispatch again.
func (d *dispatcher) loadCandidates(ctx context.Context) ([]candidate, error) {
	rows, err := d.db.Query(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (accident_id) *
			FROM predictions
			WHERE accident_id IS NOT NULL
			ORDER BY accident_id, created_at DESC, id DESC
		)
		SELECT l.id, l.accident_id, l.accident_type, l.deaths, l.injuries, l.rescue_time_hours,
			l.severity_score, l.tier, l.tier_rank, l.ambulances, l.damage_cost::text, l.currency
		FROM latest l
		WHERE l.tier_rank >= $1
		  AND NOT EXISTS (
			SELECT 1 FROM dispatches d
			WHERE d.accident_id = l.accident_id AND d.tier_rank >= l.tier_rank
		  )
		ORDER BY l.tier_rank DESC, l.severity_score DESC
	`, int(d.minTier))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		var cost string
		if err := rows.Scan(&c.PredictionID, &c.AccidentID, &c.AccidentType, &c.Deaths, &c.Injuries,
			&c.RescueTimeHours, &c.SeverityScore, &c.Tier, &c.TierRank, &c.Ambulances, &cost, &c.Currency); err != nil {
			dispatchesFailed.Inc()
			d.log.WithError(err).Warn("row scan failed")
			continue
		}
		if c.DamageCost, err = decimal.NewFromString(cost); err != nil {
			dispatchesFailed.Inc()
			d.log.WithError(err).WithField("prediction_id", c.PredictionID).Warn("invalid damage cost")
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func buildDispatch(c candidate) models.Dispatch {
	return models.Dispatch{
		PredictionID: c.PredictionID,
		AccidentID:   c.AccidentID,
		Tier:         c.Tier,
		TierRank:     c.TierRank,
		Ambulances:   c.Ambulances,
		DamageCost:   c.DamageCost,
		Currency:     c.Currency,
		Reason:       reason(c),
	}
}

func reason(c candidate) string {
	return fmt.Sprintf("%s %s: %d deaths, %d injuries, %.1fh rescue, severity %.1f; send %d ambulances, expected damage %s %s",
		c.Tier, c.AccidentType, c.Deaths, c.Injuries, c.RescueTimeHours, c.SeverityScore,
		c.Ambulances, c.Currency, c.DamageCost.StringFixedBank(0))
}

func needsAlert(c candidate) bool {
	return severity.Tier(c.TierRank) == severity.Critical
}

// store inserts the dispatch. It reports false when the prediction was
// already dispatched.
func (d *dispatcher) store(ctx context.Context, dispatch *models.Dispatch) (bool, error) {
	err := d.db.QueryRow(ctx, `
		INSERT INTO dispatches (prediction_id, accident_id, tier, tier_rank, ambulances,
			damage_cost, currency, reason, alerted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
		ON CONFLICT (prediction_id) DO NOTHING
		RETURNING id, created_at
	`, dispatch.PredictionID, dispatch.AccidentID, dispatch.Tier, dispatch.TierRank, dispatch.Ambulances,
		dispatch.DamageCost.String(), dispatch.Currency, dispatch.Reason,
	).Scan(&dispatch.ID, &dispatch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *dispatcher) alert(ctx context.Context, c candidate, dispatch *models.Dispatch) bool {
	err := d.notifier.Notify(ctx, services.DispatchAlert{
		DispatchID:    dispatch.ID,
		AccidentID:    c.AccidentID,
		AccidentType:  c.AccidentType,
		Tier:          c.Tier,
		SeverityScore: c.SeverityScore,
		Ambulances:    c.Ambulances,
		DamageCost:    c.DamageCost,
		Currency:      c.Currency,
		Reason:        dispatch.Reason,
	})
	if err != nil {
		d.log.WithError(err).WithField("dispatch_id", dispatch.ID).Warn("alert failed")
		return false
	}
	if _, err := d.db.Exec(ctx, `UPDATE dispatches SET alerted = true WHERE id = $1`, dispatch.ID); err != nil {
		d.log.WithError(err).WithField("dispatch_id", dispatch.ID).Warn("alerted flag update failed")
	}
	dispatch.Alerted = true
	return true
}

func (d *dispatcher) publish(ctx context.Context, dispatch models.Dispatch) bool {
	if !d.cache.Available() {
		return false
	}
	if err := d.cache.Publish(ctx, services.ChannelDispatches, dispatch); err != nil {
		d.log.WithError(err).WithField("dispatch_id", dispatch.ID).Warn("redis publish failed")
		return false
	}
	d.cache.PublishEvent(ctx, EventDispatchCreated, dispatch)
	dispatchesPublished.Inc()
	return true
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
