package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	trainingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railway_model_trainings_total",
		Help: "Training runs by result.",
	}, []string{"result"})
	trainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "railway_model_training_duration_seconds",
		Help:    "Duration of a full pipeline fit.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
	predictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railway_model_predictions_total",
		Help: "Predictions served by severity tier.",
	}, []string{"tier"})
	assistantRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railway_assistant_requests_total",
		Help: "Assistant queries by result.",
	}, []string{"result"})
	alertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railway_alerts_sent_total",
		Help: "Telegram alerts by result.",
	}, []string{"result"})
)
