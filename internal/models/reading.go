package models

// Mode 栽培模式（来自传感器消息的第5个字段）
type Mode string

const (
	ModeNormal  Mode = "normal"  // 常规模式
	ModePinning Mode = "pinning" // 出菇模式（湿度要求更高）
)

// ModeFromToken 将消息中的模式标记转换为 Mode
// 只有字面值 "p" 表示 Pinning，其他任何标记（包括空）都视为 Normal
func ModeFromToken(token string) Mode {
	if token == "p" {
		return ModePinning
	}
	return ModeNormal
}

// SensorReading 一次传感器上报的完整读数（不可变值对象）
// 对应消息格式 [humidity, light, temperature, water, mode]
type SensorReading struct {
	Humidity    float64 `json:"humidity"`    // 相对湿度（%）
	Light       float64 `json:"light"`       // 光照强度（无阈值，仅记录）
	Temperature float64 `json:"temperature"` // 温度（°C）
	Water       float64 `json:"water"`       // 水位（%）
	Mode        Mode    `json:"mode"`
}
