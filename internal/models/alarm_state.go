package models

import "time"

// AlarmState 单个设备的报警状态（存储在用户文档的 alarmState 映射中，按设备ID分键）
// 本管道只读取这些字段并在成功推送后做一次条件更新；
// 确认（acknowledged）和暂停（snoozeUntil）由外部流程写入
type AlarmState struct {
	Active       bool       `json:"alarmActive"`
	Acknowledged bool       `json:"alarmAcknowledged"`
	SnoozeUntil  *time.Time `json:"snoozeUntil,omitempty"`
	LastAlarm    *time.Time `json:"lastAlarm,omitempty"`
}

// StoredState 存储中的报警状态（显式区分"从未报过警"和"状态全为默认值"）
// Present == false 表示存储中不存在该设备的状态记录
type StoredState struct {
	Present bool
	State   AlarmState
}

// AbsentState 返回"不存在"状态（首次报警前的设备）
func AbsentState() StoredState {
	return StoredState{}
}

// PresentState 包装一个已存在的状态
func PresentState(s AlarmState) StoredState {
	return StoredState{Present: true, State: s}
}
