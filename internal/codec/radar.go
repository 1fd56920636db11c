package codec

import (
	"encoding/json"
	"strings"

	"wisefido-monitor/internal/models"
)

// radarPayload 雷达上行数据
type radarPayload struct {
	PersonCount int            `json:"personCount"` // 检测到的人数
	Postures    []radarPosture `json:"postures"`    // 各追踪目标的姿态
	Ts          int64          `json:"ts"`          // 时间戳（秒）
}

type radarPosture struct {
	TrackID int    `json:"trackId"`
	Posture string `json:"posture"` // walk, suspected-fall, sitting, stand, fall, lying
}

// RadarCodec 毫米波雷达编解码器
//
// 设备ID取自主题 radar/{serial}/data 的 serial 段。
// 姿态解码为位置测量，跌倒姿态优先；报警检测器按位置读数
// 判定跌倒规则的触发与解除。
type RadarCodec struct{}

func NewRadarCodec() *RadarCodec { return &RadarCodec{} }

func (c *RadarCodec) Family() models.DeviceFamily { return models.FamilyRadar }

func (c *RadarCodec) Decode(payload []byte, topic string) ([]models.TelemetryEvent, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		return nil, missingDeviceID(models.FamilyRadar, "topic "+topic)
	}
	deviceID := parts[1]

	var data radarPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, malformed(models.FamilyRadar, "invalid payload", err)
	}

	// 位置测量：无人时为 unoccupied，有人时取姿态，跌倒姿态优先
	location := "unoccupied"
	if data.PersonCount > 0 {
		location = "occupied"
		if len(data.Postures) > 0 && data.Postures[0].Posture != "" {
			location = data.Postures[0].Posture
		}
		for _, p := range data.Postures {
			if p.Posture == "fall" || p.Posture == "suspected-fall" {
				location = p.Posture
				break
			}
		}
	}

	return []models.TelemetryEvent{{
		Family:     models.FamilyRadar,
		DeviceID:   deviceID,
		Type:       models.MeasurementLocation,
		Value:      models.MeasurementValue{Text: location},
		ObservedAt: unixTime(data.Ts),
	}}, nil
}
