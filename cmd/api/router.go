package main

import (
	"net/http"

	"railway-accident-analytics/config"
	"railway-accident-analytics/handlers"
	"railway-accident-analytics/middleware"
	"railway-accident-analytics/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type deps struct {
	cfg       *config.Config
	db        *gorm.DB
	cache     *services.CacheService
	auth      *services.AuthService
	models    *services.ModelService
	assistant handlers.Asker
	archive   *services.ArchiveService
	log       logrus.FieldLogger
}

func setupRouter(d deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(d.log), middleware.Metrics(), middleware.SetupCORS(d.cfg.CORS))
	router.MaxMultipartMemory = int64(d.cfg.Server.MaxUploadMB) << 20

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "UP",
			"message":       "Railway Accident Analytics API is running",
			"model_trained": d.models.Current().Trained(),
			"cache":         d.cache.Available(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/live", handlers.LiveWebSocket(d.cache, d.auth, d.log))

	authHandler := handlers.NewAuthHandler(d.db, d.auth)
	accidentHandler := handlers.NewAccidentHandler(d.db, d.cache, d.archive, d.cfg.Server.MaxUploadMB, d.log)
	modelHandler := handlers.NewModelHandler(d.db, d.models, d.cfg.Server.MaxUploadMB, d.log)
	predictionHandler := handlers.NewPredictionHandler(d.db, d.models, d.cache, d.log)
	insightsHandler := handlers.NewInsightsHandler(d.db, d.cache)
	assistantHandler := handlers.NewAssistantHandler(d.assistant)
	dispatchHandler := handlers.NewDispatchHandler(d.db, d.cache)

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/logout", authHandler.Logout)
	}

	api := v1.Group("", middleware.Auth(d.auth))
	api.GET("/me", authHandler.Me)

	api.GET("/accidents", accidentHandler.List)
	api.POST("/accidents/upload", accidentHandler.Upload)

	api.GET("/model", modelHandler.Status)
	api.GET("/model/runs", modelHandler.Runs)
	api.POST("/model/train", middleware.RequireRole("admin", services.DefaultRole), modelHandler.Train)

	api.POST("/predict", predictionHandler.Predict)
	api.GET("/predictions", predictionHandler.List)
	api.GET("/insights", insightsHandler.Get)
	api.POST("/assistant", assistantHandler.Ask)
	api.GET("/dispatches", dispatchHandler.List)

	return router
}
