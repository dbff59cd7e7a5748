package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrDeliveryFailed 推送调用本身失败（网络错误或推送服务返回非2xx）
// 管道不自行重试：状态保持不变，下一条符合条件的消息可再次触发
var ErrDeliveryFailed = errors.New("push delivery failed")

// FCMClient FCM 风格推送服务的 HTTP 客户端
type FCMClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewFCMClient 创建推送客户端
func NewFCMClient(baseURL, apiKey string, logger *zap.Logger) *FCMClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}

	return &FCMClient{
		httpClient: client,
		logger:     logger,
	}
}

// sendRequest 推送请求体（FCM HTTP v1 消息形状）
type sendRequest struct {
	Message pushMessage `json:"message"`
}

type pushMessage struct {
	Token        string            `json:"token"`
	Notification notificationBody  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Android      androidConfig     `json:"android"`
}

type notificationBody struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type androidConfig struct {
	Priority     string              `json:"priority"`
	Notification androidNotification `json:"notification"`
}

type androidNotification struct {
	Sound     string `json:"sound"`
	ChannelID string `json:"channelId"`
}

// sendResponse 推送响应体，Name 为投递标识
type sendResponse struct {
	Name string `json:"name"`
}

// Send 发送推送通知，成功返回投递标识
// Android 块固定为高优先级 + alarm_channel 渠道（客户端据此播放报警音）
func (c *FCMClient) Send(ctx context.Context, token string, notification Notification) (string, error) {
	request := sendRequest{
		Message: pushMessage{
			Token: token,
			Notification: notificationBody{
				Title: notification.Title,
				Body:  notification.Body,
			},
			Data: notification.Data,
			Android: androidConfig{
				Priority: "high",
				Notification: androidNotification{
					Sound:     "default",
					ChannelID: "alarm_channel",
				},
			},
		},
	}

	var response sendResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("/v1/messages:send")

	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: push service returned %d: %s", ErrDeliveryFailed, resp.StatusCode(), resp.String())
	}

	c.logger.Debug("Push notification delivered",
		zap.String("delivery_id", response.Name),
	)
	return response.Name, nil
}
