package models

import "time"

// DeviceState 设备状态，仅由状态聚合器修改
type DeviceState struct {
	DeviceID       string                    `json:"device_id"`
	Family         DeviceFamily              `json:"family"`
	PatientID      string                    `json:"patient_id,omitempty"`
	LastSeenAt     time.Time                 `json:"last_seen_at"`
	IsActive       bool                      `json:"is_active"` // last_seen_at 是否在存活窗口内（快照时计算）
	MessagesTotal  int64                     `json:"messages_total"`
	MessagesByType map[MeasurementType]int64 `json:"messages_by_type"`
}

// PatientState 住户状态，完全由遥测事件派生
type PatientState struct {
	PatientID      string                              `json:"patient_id"`
	BoundDeviceIDs []string                            `json:"bound_device_ids"`
	LatestReadings map[MeasurementType]*TelemetryEvent `json:"latest_readings"` // 每类测量保留 observed_at 最新的一条
}

// StatisticsSnapshot 统计快照，读取方只见一致的整体副本
type StatisticsSnapshot struct {
	TotalMessages  int64                  `json:"total_messages"`
	ProcessingRate float64                `json:"processing_rate"` // 条/秒，60 秒滑动窗口
	Dropped        int64                  `json:"dropped"`         // 总线背压丢弃计数
	ByFamily       map[DeviceFamily]int64 `json:"by_family"`
	ActiveByFamily map[DeviceFamily]int64 `json:"active_by_family"`
	GeneratedAt    time.Time              `json:"generated_at"`
}

// FullSnapshot 初始快照载荷，客户端接入时整体下发
type FullSnapshot struct {
	Statistics StatisticsSnapshot `json:"statistics"`
	Devices    []DeviceState      `json:"devices"`
	Patients   []PatientState     `json:"patients"`
}
