package models

// Device 用户文档 devices 数组中的一项
// MqttID 是传输层标识（MAC风格），报警主题按它路由；DeviceID 是应用内部ID
type Device struct {
	MqttID    string `json:"mqttId"`
	DeviceID  string `json:"deviceId"`
	Name      string `json:"name"`
	PushToken string `json:"pushToken,omitempty"` // 设备级推送目标（少见，优先用用户级 fcmToken）
}

// Owner 设备归属解析结果：拥有该设备的用户及其当前报警上下文
// PushToken 为空字符串表示该用户没有可用的推送目标
type Owner struct {
	UserID     string
	Device     Device
	PushToken  string
	AlarmState StoredState
}
