package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	appsvc "mnist-serve/internal/app"
	"mnist-serve/internal/config"
	"mnist-serve/internal/mnist"
	"mnist-serve/internal/model"
	mysqlClient "mnist-serve/internal/platform/mysql"
	rabbitmqClient "mnist-serve/internal/platform/rabbitmq"
	redisClient "mnist-serve/internal/platform/redis"
	"mnist-serve/internal/repository"
	"mnist-serve/internal/worker"
)

// App holds the process-wide collaborators. MySQL, Redis and RabbitMQ are
// optional: when one is unreachable the service logs a warning and serves
// predictions without history, caching or async persistence. Only a broken
// config file is fatal.
type App struct {
	Config       *config.Config
	MySQL        *gorm.DB
	Redis        *redis.Client
	MQConn       *amqp.Connection
	Classifier   *mnist.Classifier
	RecordWorker *worker.RecordPersistWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	classifier := mnist.NewClassifier(cfg.Model.Paths, cfg.Model.ONNXSharedLibPath)
	if err := classifier.Warmup(); err != nil {
		log.Printf("warning: %v, serving in degraded mode", err)
	}

	app := &App{
		Config:     cfg,
		Classifier: classifier,
		StartedAt:  time.Now(),
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		log.Printf("warning: mysql unavailable, prediction history disabled: %v", err)
	} else {
		if err := mysqlDB.AutoMigrate(&model.User{}, &model.PredictionRecord{}); err != nil {
			return nil, fmt.Errorf("auto migrate tables failed: %w", err)
		}
		app.MySQL = mysqlDB

		authService := appsvc.NewAuthService(
			repository.NewUserRepository(mysqlDB),
			cfg.Auth.JWTSecret,
			time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
		)
		if err := authService.EnsureAdmin(cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
			return nil, fmt.Errorf("ensure admin account failed: %w", err)
		}
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("warning: redis unavailable, result cache disabled: %v", err)
	} else {
		app.Redis = redisCli
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		log.Printf("warning: rabbitmq unavailable, async persistence disabled: %v", err)
	} else {
		app.MQConn = mqConn
	}

	if app.MySQL != nil && app.MQConn != nil {
		predictionRepo := repository.NewPredictionRepository(app.MySQL)
		recordWorker := worker.NewRecordPersistWorker(app.MQConn, predictionRepo, cfg.RabbitMQ.PredictionPersistQueue)
		if err := recordWorker.Start(ctx); err != nil {
			return nil, fmt.Errorf("start record worker failed: %w", err)
		}
		app.RecordWorker = recordWorker
	}

	return app, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.RecordWorker != nil {
		a.RecordWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Classifier != nil {
		a.Classifier.Close()
	}
	return closeErr
}
