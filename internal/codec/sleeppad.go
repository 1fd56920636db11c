package codec

import (
	"encoding/json"
	"time"

	"wisefido-monitor/internal/models"
)

// sleepPadEnvelope 睡眠垫厂家 MQTT 消息结构
type sleepPadEnvelope struct {
	DeviceId  string          `json:"deviceId"`  // 设备代码
	DataKey   string          `json:"dataKey"`   // 数据类型：realtime, history, battery
	TimeStamp int64           `json:"timestamp"` // 时间戳（秒）
	Data      json.RawMessage `json:"data"`      // 数据内容（JSON）
}

// sleepPadRecord 实时/历史记录
type sleepPadRecord struct {
	Breath        int   `json:"breath"`        // 呼吸率
	Heart         int   `json:"heart"`         // 心率
	BedStatus     int   `json:"bedStatus"`     // 床状态：0=在床, 1=离床
	SignalQuality int   `json:"signalQuality"` // 信号质量
	TimeStamp     int64 `json:"timestamp"`     // 历史记录自带时间戳，实时记录为 0
}

type sleepPadBattery struct {
	Battery int `json:"battery"` // 电量百分比
}

// SleepPadCodec 睡眠垫编解码器
//
// 解码内容：
// - realtime：单条记录，心率/呼吸率过滤无效值（0 或 255 表示无效）
// - history：设备补传的有序记录数组，逐条解码，顺序保持
// - battery：电量上报
type SleepPadCodec struct{}

func NewSleepPadCodec() *SleepPadCodec { return &SleepPadCodec{} }

func (c *SleepPadCodec) Family() models.DeviceFamily { return models.FamilySleepPad }

func (c *SleepPadCodec) Decode(payload []byte, topic string) ([]models.TelemetryEvent, error) {
	var env sleepPadEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, malformed(models.FamilySleepPad, "invalid envelope", err)
	}
	if env.DeviceId == "" {
		return nil, missingDeviceID(models.FamilySleepPad, "envelope has no deviceId")
	}

	switch env.DataKey {
	case "realtime":
		var rec sleepPadRecord
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return nil, malformed(models.FamilySleepPad, "invalid realtime data", err)
		}
		return c.recordEvents(env.DeviceId, rec, env.TimeStamp), nil

	case "history":
		var records []sleepPadRecord
		if err := json.Unmarshal(env.Data, &records); err != nil {
			return nil, malformed(models.FamilySleepPad, "invalid history data", err)
		}
		var events []models.TelemetryEvent
		for _, rec := range records {
			ts := rec.TimeStamp
			if ts == 0 {
				ts = env.TimeStamp
			}
			events = append(events, c.recordEvents(env.DeviceId, rec, ts)...)
		}
		return events, nil

	case "battery":
		var bat sleepPadBattery
		if err := json.Unmarshal(env.Data, &bat); err != nil {
			return nil, malformed(models.FamilySleepPad, "invalid battery data", err)
		}
		return []models.TelemetryEvent{{
			Family:     models.FamilySleepPad,
			DeviceID:   env.DeviceId,
			Type:       models.MeasurementBattery,
			Value:      models.MeasurementValue{Numeric: float64(bat.Battery)},
			ObservedAt: unixTime(env.TimeStamp),
		}}, nil

	default:
		return nil, unknownMeasurement(models.FamilySleepPad, "dataKey "+env.DataKey)
	}
}

// recordEvents 单条记录解码为事件序列
// 无效值只跳过对应测量，不判为报文错误。
func (c *SleepPadCodec) recordEvents(deviceID string, rec sleepPadRecord, ts int64) []models.TelemetryEvent {
	observedAt := unixTime(ts)
	var events []models.TelemetryEvent

	// 心率（过滤无效值 0/255）
	if rec.Heart > 0 && rec.Heart < 255 {
		events = append(events, models.TelemetryEvent{
			Family:     models.FamilySleepPad,
			DeviceID:   deviceID,
			Type:       models.MeasurementHeartRate,
			Value:      models.MeasurementValue{Numeric: float64(rec.Heart)},
			ObservedAt: observedAt,
		})
	}

	// 呼吸率（过滤无效值 0/255）
	if rec.Breath > 0 && rec.Breath < 255 {
		events = append(events, models.TelemetryEvent{
			Family:     models.FamilySleepPad,
			DeviceID:   deviceID,
			Type:       models.MeasurementRespiration,
			Value:      models.MeasurementValue{Numeric: float64(rec.Breath)},
			ObservedAt: observedAt,
		})
	}

	// 床状态：0=在床, 1=离床
	location := "in_bed"
	if rec.BedStatus == 1 {
		location = "off_bed"
	}
	events = append(events, models.TelemetryEvent{
		Family:     models.FamilySleepPad,
		DeviceID:   deviceID,
		Type:       models.MeasurementLocation,
		Value:      models.MeasurementValue{Text: location},
		ObservedAt: observedAt,
	})

	return events
}

func unixTime(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}
