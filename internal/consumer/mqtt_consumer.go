package consumer

import (
	"context"

	"go.uber.org/zap"

	"github.com/zzzyqyf/MAB/internal/config"
	"github.com/zzzyqyf/MAB/internal/mqtt"
	"github.com/zzzyqyf/MAB/internal/pipeline"
)

// MQTTConsumer 报警消息消费者
// 订阅 topic/{deviceId}/alarm，每条消息触发一次管道处理
type MQTTConsumer struct {
	config     *config.Config
	mqttClient *mqtt.Client
	pipeline   *pipeline.Pipeline
	logger     *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqtt.Client,
	p *pipeline.Pipeline,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:     cfg,
		mqttClient: mqttClient,
		pipeline:   p,
		logger:     logger,
	}
}

// Start 启动消费者（阻塞到上下文取消）
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.mqttClient.Subscribe(c.config.Alarm.Topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
		return err
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.config.Alarm.Topic),
	)

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(c.config.Alarm.Topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理一条报警消息
// 管道内部已按阶段记录日志；任何错误都只影响当前消息，不中断消息循环
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	_, err := c.pipeline.HandleMessage(context.Background(), topic, string(payload))
	return err
}
