package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"railway-accident-analytics/accident"
	"railway-accident-analytics/config"
	"railway-accident-analytics/database"
	"railway-accident-analytics/logging"
	"railway-accident-analytics/services"
)

// AccidentReport is the JSON body of a field report published over MQTT.
type AccidentReport struct {
	ReportedAt      string   `json:"reported_at"`
	AccidentType    string   `json:"accident_type"`
	Deaths          *int     `json:"deaths"`
	Injuries        *int     `json:"injuries"`
	RescueTimeHours *float64 `json:"rescue_time_hours"`
	TrainName       string   `json:"train_name"`
	Division        string   `json:"railway_division"`
	Environment     string   `json:"env"`
	Cause           string   `json:"cause"`
	State           string   `json:"state"`
}

// EventAccidentReported is published on the live channel for each stored report.
const EventAccidentReported = "accident_reported"

type reportedEvent struct {
	ID     int64           `json:"id"`
	Source string          `json:"source"`
	Record accident.Record `json:"record"`
}

var (
	msgsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "railway_ingestor_messages_received_total",
		Help: "Total number of MQTT accident reports received.",
	})
	msgsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "railway_ingestor_messages_stored_total",
		Help: "Total number of reports successfully inserted into Postgres.",
	})
	msgsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "railway_ingestor_messages_failed_total",
		Help: "Total number of reports rejected or failed to store.",
	})
)

// rowQuerier is the part of pgxpool.Pool the ingestor uses.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ingestor struct {
	db    rowQuerier
	cache *services.CacheService
	log   logrus.FieldLogger
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
	log := logger.WithField("service", "ingestor")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("db connection failed")
	}
	defer dbPool.Close()

	cache, err := services.NewCacheService(cfg.Redis, log)
	if err != nil {
		log.WithError(err).Warn("redis unavailable, live publishing disabled")
	}
	defer cache.Close()

	go serveHTTP(cfg.Metrics.Addr, log)

	ing := &ingestor{db: dbPool, cache: cache, log: log}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID + "-" + time.Now().Format("20060102150405"))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetDefaultPublishHandler(func(client mqtt.Client, message mqtt.Message) {
		ing.processMessage(ctx, message.Topic(), message.Payload())
	})
	opts.OnConnect = func(client mqtt.Client) {
		token := client.Subscribe(cfg.MQTT.Topic, 1, nil)
		token.Wait()
		if token.Error() != nil {
			log.WithError(token.Error()).Error("mqtt subscribe failed")
			return
		}
		log.WithField("topic", cfg.MQTT.Topic).Info("ingestor subscribed")
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.WithError(err).Warn("mqtt connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if token.Error() != nil {
		log.WithError(token.Error()).Fatal("mqtt connection failed")
	}

	log.WithFields(logrus.Fields{"mqtt": cfg.MQTT.Broker, "metrics": cfg.Metrics.Addr}).Info("ingestor running")

	<-ctx.Done()
	log.Info("ingestor shutting down")
	client.Disconnect(250)
}

func serveHTTP(addr string, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
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

// parseReport decodes and validates one report. A missing or unparseable
// reported_at leaves the occurrence time unset.
func parseReport(raw []byte) (accident.Record, error) {
	var report AccidentReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return accident.Record{}, fmt.Errorf("invalid payload: %w", err)
	}

	rec := accident.Record{
		AccidentType:    strings.TrimSpace(report.AccidentType),
		Deaths:          report.Deaths,
		Injuries:        report.Injuries,
		RescueTimeHours: report.RescueTimeHours,
		TrainName:       strings.TrimSpace(report.TrainName),
		Division:        strings.TrimSpace(report.Division),
		Environment:     strings.TrimSpace(report.Environment),
		Cause:           strings.TrimSpace(report.Cause),
		State:           strings.TrimSpace(report.State),
	}
	if report.ReportedAt != "" {
		if ts, err := time.Parse(time.RFC3339, report.ReportedAt); err == nil {
			rec.OccurredAt = ts.UTC()
		}
	}

	if rec.AccidentType == "" {
		return accident.Record{}, &accident.MalformedRecordError{Field: accident.FieldAccidentType, Reason: "required"}
	}
	if err := rec.Validate(); err != nil {
		return accident.Record{}, err
	}
	return rec, nil
}

// sourceFor tags rows with the topic they arrived on.
func sourceFor(topic string) string {
	return "mqtt:" + topic
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (i *ingestor) insert(ctx context.Context, rec accident.Record, source string) (int64, error) {
	var id int64
	err := i.db.QueryRow(ctx, `
		INSERT INTO accidents (accident_type, deaths, injuries, rescue_time_hours, occurred_at,
			train_name, railway_division, env, cause, state, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, rec.AccidentType, rec.Deaths, rec.Injuries, rec.RescueTimeHours, nullableTime(rec.OccurredAt),
		rec.TrainName, rec.Division, rec.Environment, rec.Cause, rec.State, source).Scan(&id)
	return id, err
}

func (i *ingestor) processMessage(ctx context.Context, topic string, payloadRaw []byte) {
	msgsReceived.Inc()

	rec, err := parseReport(payloadRaw)
	if err != nil {
		msgsFailed.Inc()
		i.log.WithError(err).WithField("topic", topic).Warn("report rejected")
		return
	}

	source := sourceFor(topic)
	id, err := i.insert(ctx, rec, source)
	if err != nil {
		msgsFailed.Inc()
		i.log.WithError(err).Error("db insert failed")
		return
	}

	msgsStored.Inc()
	i.cache.PublishEvent(ctx, EventAccidentReported, reportedEvent{ID: id, Source: source, Record: rec})
}
