package service

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/zzzyqyf/MAB/internal/config"
	"github.com/zzzyqyf/MAB/internal/consumer"
	"github.com/zzzyqyf/MAB/internal/database"
	"github.com/zzzyqyf/MAB/internal/httpapi"
	"github.com/zzzyqyf/MAB/internal/mqtt"
	"github.com/zzzyqyf/MAB/internal/notifier"
	"github.com/zzzyqyf/MAB/internal/pipeline"
	"github.com/zzzyqyf/MAB/internal/repository"
	"github.com/zzzyqyf/MAB/internal/resolver"
)

// AlarmService 报警监控服务（整合各层）
type AlarmService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	httpServer  *http.Server

	consumer *consumer.MQTTConsumer
	pipeline *pipeline.Pipeline
}

// NewAlarmService 创建报警监控服务
func NewAlarmService(cfg *config.Config, logger *zap.Logger) (*AlarmService, error) {
	// 1. 连接数据库（记录存储）
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, err
	}

	// 2. 连接 Redis（设备归属二级索引，可降级）
	var deviceIndex *repository.DeviceIndex
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if cfg.Alarm.DeviceIndex.Enabled {
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// 索引只是优化：Redis 不可用时退回纯扫描模式
			logger.Warn("Redis unavailable, device index disabled", zap.Error(err))
		} else {
			deviceIndex = repository.NewDeviceIndex(
				redisClient,
				cfg.Alarm.DeviceIndex.KeyPrefix,
				time.Duration(cfg.Alarm.DeviceIndex.TTL)*time.Second,
				logger,
			)
		}
	}

	// 3. 连接 MQTT
	mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
	if err != nil {
		db.Close()
		redisClient.Close()
		return nil, err
	}

	// 4. 组装管道
	userRepo := repository.NewUserRepository(db, logger)
	ownerResolver := resolver.NewResolver(userRepo, deviceIndex, logger)
	pusher := notifier.NewFCMClient(cfg.Push.BaseURL, cfg.Push.APIKey, logger)
	p := pipeline.NewPipeline(ownerResolver, userRepo, pusher, logger)

	// 5. MQTT 消费者和 HTTP 入口
	mqttConsumer := consumer.NewMQTTConsumer(cfg, mqttClient, p, logger)

	router := httpapi.NewRouter(logger)
	router.RegisterAlarmRoutes(
		httpapi.NewAlarmHandler(p, logger),
		httpapi.NewHealthHandler(mqttClient, cfg.Alarm.Topic, logger),
	)

	return &AlarmService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		httpServer: &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: router,
		},
		consumer: mqttConsumer,
		pipeline: p,
	}, nil
}

// Start 启动服务（阻塞到上下文取消）
func (s *AlarmService) Start(ctx context.Context) error {
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.config.HTTP.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return s.consumer.Start(ctx)
}

// Stop 优雅关闭
func (s *AlarmService) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := s.consumer.Stop(shutdownCtx); err != nil {
		s.logger.Error("Consumer stop error", zap.Error(err))
	}

	s.mqttClient.Disconnect()

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Redis close error", zap.Error(err))
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("Database close error", zap.Error(err))
	}

	s.logger.Info("Alarm service stopped")
}
