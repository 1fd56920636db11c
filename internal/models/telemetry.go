package models

import "time"

// DeviceFamily 设备族标识
type DeviceFamily string

const (
	FamilySleepPad DeviceFamily = "sleeppad" // 睡眠垫（床垫式生命体征传感器）
	FamilyRadar    DeviceFamily = "radar"    // 毫米波雷达（在离床/跌倒检测）
	FamilyWearable DeviceFamily = "wearable" // 穿戴设备（手环/血氧/血压）
)

// MeasurementType 测量类型
type MeasurementType string

const (
	MeasurementHeartRate     MeasurementType = "heart_rate"
	MeasurementRespiration   MeasurementType = "respiration"
	MeasurementSpO2          MeasurementType = "spo2"
	MeasurementBloodPressure MeasurementType = "blood_pressure"
	MeasurementTemperature   MeasurementType = "temperature"
	MeasurementLocation      MeasurementType = "location"
	MeasurementBattery       MeasurementType = "battery"
	MeasurementSOS           MeasurementType = "sos"
)

// MeasurementValue 测量值，按测量类型取用对应字段
type MeasurementValue struct {
	Numeric   float64 `json:"numeric,omitempty"`   // 主数值：心率 bpm、SpO2 %、体温 ℃、收缩压 mmHg、电量 %
	Diastolic float64 `json:"diastolic,omitempty"` // 舒张压 mmHg（仅 blood_pressure）
	Text      string  `json:"text,omitempty"`      // 文本值：位置/姿态（仅 location）
	Flag      bool    `json:"flag,omitempty"`      // 布尔值：SOS 触发（仅 sos）
}

// TelemetryEvent 规范化遥测事件
// 由设备族编解码器从原始报文生成，构造后不再修改。
// 排序键为 (device_id, observed_at)；设备可能批量补传历史数据，
// 因此 received_at 与 observed_at 的先后顺序无关。
type TelemetryEvent struct {
	Family     DeviceFamily     `json:"device_family"`
	DeviceID   string           `json:"device_id"`
	PatientID  string           `json:"patient_id,omitempty"` // 绑定的住户ID，可为空
	Type       MeasurementType  `json:"measurement_type"`
	Value      MeasurementValue `json:"value"`
	ObservedAt time.Time        `json:"observed_at"` // 设备侧时钟
	ReceivedAt time.Time        `json:"received_at"` // 接入侧时钟
	RawRef     string           `json:"raw_payload_ref,omitempty"` // 原始报文引用（审计用）
}
