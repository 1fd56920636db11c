package models

import "encoding/json"

// SchemaVersion 对外消息结构版本，外围消费方据此独立演进
const SchemaVersion = 1

// 实时推送消息类型
const (
	MessageTypeSnapshot      = "snapshot"       // 接入时的初始全量快照
	MessageTypeStateUpdate   = "state_update"   // 设备/住户状态增量
	MessageTypeAlert         = "alert"          // 报警事件（触发/解除）
	MessageTypePipelineStage = "pipeline_stage" // 流水线阶段标记
)

// PushMessage 推送给实时客户端的统一信封
type PushMessage struct {
	Type          string          `json:"type"`
	SchemaVersion int             `json:"schema_version"`
	Data          json.RawMessage `json:"data"`
}

// StateUpdate 状态增量载荷
// 携带整台设备的最新状态，客户端收到即可整体替换，
// 因此丢失中间若干条也不会出现脏状态。
type StateUpdate struct {
	Device  *DeviceState  `json:"device,omitempty"`
	Patient *PatientState `json:"patient,omitempty"`
}

// NewPushMessage 编码载荷并组装信封
func NewPushMessage(msgType string, payload interface{}) (*PushMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &PushMessage{
		Type:          msgType,
		SchemaVersion: SchemaVersion,
		Data:          data,
	}, nil
}
