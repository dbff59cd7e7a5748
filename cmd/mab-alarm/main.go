package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/zzzyqyf/MAB/internal/config"
	"github.com/zzzyqyf/MAB/internal/logger"
	"github.com/zzzyqyf/MAB/internal/service"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "mab-alarm")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting MAB alarm monitor",
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("alarm_topic", cfg.Alarm.Topic),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	// 3. 创建服务
	alarmService, err := service.NewAlarmService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create alarm service", zap.Error(err))
	}
	defer alarmService.Stop()

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 启动服务（在 goroutine 中）
	serviceErrChan := make(chan error, 1)
	go func() {
		if err := alarmService.Start(ctx); err != nil {
			serviceErrChan <- err
		}
	}()

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serviceErrChan:
		log.Error("Service error, shutting down", zap.Error(err))
	}

	cancel()
}
