package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zzzyqyf/MAB/internal/models"
)

// ErrMalformedPayload 消息格式错误（主题形状不对、字段不足或数值无法解析）
// 该类消息直接丢弃，不访问存储，不重试
var ErrMalformedPayload = errors.New("malformed alarm payload")

// Parse 解析报警消息负载
// 格式: [humidity, light, temperature, water, mode]，如 "[72.2,47.0,31.5,60.5,n]"
// 方括号可选，字段两侧容忍空白；前4个字段必须是有限浮点数（NaN 视为格式错误）；
// 第5个字段为模式标记，只有 "p" 表示 Pinning
func Parse(payload string) (models.SensorReading, error) {
	cleaned := strings.TrimSpace(payload)
	cleaned = strings.TrimPrefix(cleaned, "[")
	cleaned = strings.TrimSuffix(cleaned, "]")

	parts := strings.Split(cleaned, ",")
	if len(parts) < 5 {
		return models.SensorReading{}, fmt.Errorf("%w: expected 5 values, got %d", ErrMalformedPayload, len(parts))
	}

	var values [4]float64
	for i := 0; i < 4; i++ {
		field := strings.TrimSpace(parts[i])
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return models.SensorReading{}, fmt.Errorf("%w: field %d is not numeric: %q", ErrMalformedPayload, i, field)
		}
		if math.IsNaN(v) {
			return models.SensorReading{}, fmt.Errorf("%w: field %d is NaN", ErrMalformedPayload, i)
		}
		values[i] = v
	}

	return models.SensorReading{
		Humidity:    values[0],
		Light:       values[1],
		Temperature: values[2],
		Water:       values[3],
		Mode:        models.ModeFromToken(strings.TrimSpace(parts[4])),
	}, nil
}

// DeviceIDFromTopic 从报警主题中提取设备标识
// 主题格式: topic/{deviceId}/alarm
func DeviceIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "topic" || parts[2] != "alarm" {
		return "", fmt.Errorf("%w: invalid topic format: %s", ErrMalformedPayload, topic)
	}
	if parts[1] == "" {
		return "", fmt.Errorf("%w: empty device id in topic: %s", ErrMalformedPayload, topic)
	}
	return parts[1], nil
}
