package notifier

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zzzyqyf/MAB/internal/models"
)

// AlertTitle 报警通知的固定标题
const AlertTitle = "🚨 Sensor Alert"

// Notification 出站通知负载
// Data 块供客户端本地报警界面使用：主要问题（评估顺序第一项）填充摘要字段，
// 完整问题列表序列化在 allIssues 中
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// BuildNotification 从越界问题列表构造通知负载
// 调用方保证 issues 非空；Body 按评估顺序逗号拼接所有问题描述
func BuildNotification(device models.Device, reading models.SensorReading, issues []models.Issue) (Notification, error) {
	deviceName := device.Name
	if deviceName == "" {
		deviceName = "Unknown Device"
	}

	messages := make([]string, 0, len(issues))
	for _, issue := range issues {
		messages = append(messages, issue.Message)
	}

	allIssues, err := json.Marshal(issues)
	if err != nil {
		return Notification{}, fmt.Errorf("failed to marshal issues: %w", err)
	}

	primary := issues[0]
	return Notification{
		Title: AlertTitle,
		Body:  fmt.Sprintf("%s: %s", deviceName, strings.Join(messages, ", ")),
		Data: map[string]string{
			"deviceId":   device.MqttID,
			"deviceName": deviceName,
			"alarmType":  string(primary.Sensor),
			"value":      strconv.FormatFloat(primary.Value, 'f', -1, 64),
			"threshold":  strconv.FormatFloat(primary.Threshold, 'f', -1, 64),
			"mode":       string(reading.Mode),
			"allIssues":  string(allIssues),
		},
	}, nil
}
