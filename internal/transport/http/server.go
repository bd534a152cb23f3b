package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appsvc "mnist-serve/internal/app"
	"mnist-serve/internal/bootstrap"
	"mnist-serve/internal/cache"
	"mnist-serve/internal/platform/rabbitmq"
	"mnist-serve/internal/repository"
	"mnist-serve/internal/transport/http/handler"
	"mnist-serve/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), middleware.CORS())

	var resultCache appsvc.ResultCache
	if app.Redis != nil {
		resultCache = cache.NewResultCache(app.Redis, time.Duration(app.Config.Predict.ResultTTLSeconds)*time.Second)
	}
	var publisher appsvc.RecordPublisher
	if app.MQConn != nil {
		publisher = rabbitmq.NewRecordPublisher(app.MQConn, app.Config.RabbitMQ.PredictionPersistQueue)
	}

	predictService := appsvc.NewPredictService(app.Classifier, resultCache, publisher)
	predictHandler := handler.NewPredictHandler(
		predictService,
		app.Classifier,
		app.Config.Predict.ModelUnavailableStatus,
		app.Config.Predict.MaxImageBytes,
	)
	healthHandler := handler.NewHealthHandler(predictService)

	router.StaticFile("/", "web/index.html")
	router.StaticFile("/script.js", "web/script.js")

	router.POST("/predict", predictHandler.Predict)
	router.GET("/api/health", healthHandler.Check)
	router.GET("/model/info", predictHandler.ModelInfo)

	var authService *appsvc.AuthService
	var predictionRepo *repository.PredictionRepository
	if app.MySQL != nil {
		authService = appsvc.NewAuthService(
			repository.NewUserRepository(app.MySQL),
			app.Config.Auth.JWTSecret,
			time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
		)
		predictionRepo = repository.NewPredictionRepository(app.MySQL)
	}
	authHandler := handler.NewAuthHandler(authService)
	historyHandler := handler.NewHistoryHandler(predictionRepo)

	v1 := router.Group("/api/v1")
	v1.POST("/auth/login", authHandler.Login)

	predictions := v1.Group("/predictions")
	predictions.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	predictions.GET("", historyHandler.List)
	predictions.GET("/stats", historyHandler.Stats)

	return router
}
