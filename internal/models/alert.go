package models

import "time"

// AlertSeverity 报警级别
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertState 报警生命周期状态
type AlertState string

const (
	AlertOpen     AlertState = "open"     // 首次越限触发
	AlertResolved AlertState = "resolved" // 同一 (patient, rule) 的后续读数恢复正常
)

// AlertEvent 报警事件
// 解除事件沿用触发事件的 alert_id，报警从不静默删除。
type AlertEvent struct {
	AlertID     string         `json:"alert_id"`
	RuleID      string         `json:"rule_id"`
	PatientID   string         `json:"patient_id,omitempty"`
	DeviceID    string         `json:"device_id"`
	Severity    AlertSeverity  `json:"severity"`
	State       AlertState     `json:"state"`
	Message     string         `json:"message"`
	Triggering  TelemetryEvent `json:"triggering_measurement"` // 触发/解除时的读数快照
	TriggeredAt time.Time      `json:"triggered_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}

// Resolved 是否为解除事件
func (a *AlertEvent) Resolved() bool {
	return a.State == AlertResolved
}
