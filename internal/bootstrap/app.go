package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"streamchat/internal/cache"
	"streamchat/internal/config"
	"streamchat/internal/model"
	mysqlClient "streamchat/internal/platform/mysql"
	rabbitmqClient "streamchat/internal/platform/rabbitmq"
	redisClient "streamchat/internal/platform/redis"
	"streamchat/internal/repository"
	"streamchat/internal/stream"
	"streamchat/internal/worker"
)

type App struct {
	Config        *config.Config
	MySQL         *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	Publisher     *rabbitmqClient.MessagePublisher
	HistoryCache  *cache.HistoryCache
	Hub           *stream.Hub
	MessageWorker *worker.MessagePersistWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(&model.Agent{}, &model.Session{}, &model.Message{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	if err := seedAgents(mysqlDB, cfg.Agents.SeedFile); err != nil {
		return nil, err
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	messageRepo := repository.NewMessageRepository(mysqlDB)
	messageWorker := worker.NewMessagePersistWorker(mqConn, messageRepo, cfg.RabbitMQ.MessagePersistQueue)
	if err := messageWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start message worker failed: %w", err)
	}

	return &App{
		Config:    cfg,
		MySQL:     mysqlDB,
		Redis:     redisCli,
		MQConn:    mqConn,
		Publisher: rabbitmqClient.NewMessagePublisher(mqConn, cfg.RabbitMQ.MessagePersistQueue),
		HistoryCache: cache.NewHistoryCache(
			redisCli,
			time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
		),
		Hub:           stream.NewHub(cfg.Stream.SubscriberBuffer),
		MessageWorker: messageWorker,
		StartedAt:     time.Now(),
	}, nil
}

func seedAgents(db *gorm.DB, seedFile string) error {
	seeds, err := config.LoadAgentSeeds(seedFile)
	if err != nil {
		return err
	}
	agentRepo := repository.NewAgentRepository(db)
	for _, seed := range seeds {
		agent := &model.Agent{
			ID:        seed.ID,
			Name:      seed.Name,
			Model:     seed.Model,
			System:    seed.System,
			IsDefault: seed.Default,
		}
		if err := agentRepo.Upsert(agent); err != nil {
			return fmt.Errorf("seed agent %s failed: %w", seed.ID, err)
		}
	}
	return nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MessageWorker != nil {
		a.MessageWorker.Close()
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
	return closeErr
}
