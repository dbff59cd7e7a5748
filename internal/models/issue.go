package models

// Sensor 越界传感器类型（用于通知 data 块的 alarmType 字段）
type Sensor string

const (
	SensorTemperature Sensor = "temperature"
	SensorHumidity    Sensor = "humidity"
	SensorWater       Sensor = "water"
)

// Issue 单个传感器越界问题（不可变值对象）
// 一次读数按固定顺序（temperature → humidity → water）产生 0 到多个 Issue，
// 序列中第一个为"主要问题"，用于填充通知摘要字段
type Issue struct {
	Sensor    Sensor  `json:"sensor"`
	Value     float64 `json:"value"`     // 实测值
	Threshold float64 `json:"threshold"` // 被突破的阈值
	Message   string  `json:"message"`   // 人类可读描述（含实测值和阈值，保留1位小数）
}
