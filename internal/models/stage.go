package models

import "time"

// PipelineStage 数据流水线阶段
type PipelineStage string

const (
	StageReceived   PipelineStage = "received"   // 报文到达，尚未解码
	StageDecoded    PipelineStage = "decoded"    // 解码为遥测事件
	StageNormalized PipelineStage = "normalized" // 状态聚合器已更新内存状态
	StageStored     PipelineStage = "stored"     // 写后协作方落库成功
	StageBroadcast  PipelineStage = "broadcast"  // 已推送给实时客户端
)

// StageMarker 流水线阶段标记（仅供数据流可视化，不持久化）
type StageMarker struct {
	EventRef string        `json:"event_ref"` // 关联事件引用：topic#seq 或 device_id
	Family   DeviceFamily  `json:"family"`
	Stage    PipelineStage `json:"stage"`
	StageAt  time.Time     `json:"stage_at"`
}
