package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zzzyqyf/MAB/internal/parser"
	"github.com/zzzyqyf/MAB/internal/pipeline"
)

// Processor 报警处理入口（由 pipeline.Pipeline 实现）
type Processor interface {
	Process(ctx context.Context, deviceID, payload string) (pipeline.Outcome, error)
}

// ConnectionChecker MQTT连接状态（健康检查用）
type ConnectionChecker interface {
	IsConnected() bool
}

// AlarmHandler 手动触发报警的测试入口
// 与传输入口语义等价，绕过MQTT直接进管道
type AlarmHandler struct {
	processor Processor
	logger    *zap.Logger
}

func NewAlarmHandler(processor Processor, logger *zap.Logger) *AlarmHandler {
	return &AlarmHandler{processor: processor, logger: logger}
}

// triggerRequest POST /test-alarm 请求体
type triggerRequest struct {
	DeviceID string `json:"deviceId"`
	Payload  string `json:"payload"`
}

// triggerResponse 处理结果
type triggerResponse struct {
	Success    bool   `json:"success"`
	Status     string `json:"status,omitempty"`
	Reason     string `json:"reason,omitempty"`
	DeliveryID string `json:"deliveryId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TestAlarm POST /test-alarm
// Body: {"deviceId": "94B97EC04AD4", "payload": "[72.2,47.0,31.5,60.5,n]"}
func (h *AlarmHandler) TestAlarm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, triggerResponse{Success: false, Error: "invalid request body"})
		return
	}
	if req.DeviceID == "" || req.Payload == "" {
		writeJSON(w, http.StatusBadRequest, triggerResponse{Success: false, Error: "missing deviceId or payload"})
		return
	}

	outcome, err := h.processor.Process(r.Context(), req.DeviceID, req.Payload)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, parser.ErrMalformedPayload) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, triggerResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, triggerResponse{
		Success:    true,
		Status:     string(outcome.Status),
		Reason:     string(outcome.Reason),
		DeliveryID: outcome.DeliveryID,
	})
}

// HealthHandler 服务状态
type HealthHandler struct {
	conn   ConnectionChecker
	topic  string
	logger *zap.Logger
}

func NewHealthHandler(conn ConnectionChecker, topic string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{conn: conn, topic: topic, logger: logger}
}

// healthResponse GET /healthz 响应体
type healthResponse struct {
	Status     string `json:"status"`
	Connected  bool   `json:"connected"`
	Subscribed string `json:"subscribed"`
}

// Health GET /healthz
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "MQTT Alarm Monitor running",
		Connected:  h.conn.IsConnected(),
		Subscribed: h.topic,
	})
}
