package codec

import (
	"encoding/json"

	"wisefido-monitor/internal/models"
)

// wearableEnvelope 穿戴设备上行数据（短字段名省流量）
// 单条上报时测量字段直接在信封上，批量补传时放在 batch 数组里。
type wearableEnvelope struct {
	ID  string `json:"id"`  // 设备ID
	Pid string `json:"pid"` // 绑定的住户ID，设备侧配置
	wearableRecord
	Batch []wearableRecord `json:"batch,omitempty"`
}

type wearableRecord struct {
	Ts   int64       `json:"ts"`             // 时间戳（秒）
	SpO2 *float64    `json:"spo2,omitempty"` // 血氧 %
	HR   *float64    `json:"hr,omitempty"`   // 心率 bpm
	BP   *wearableBP `json:"bp,omitempty"`   // 血压
	Tmp  *float64    `json:"tmp,omitempty"`  // 体温 ℃
	Bat  *float64    `json:"bat,omitempty"`  // 电量 %
	SOS  *int        `json:"sos,omitempty"`  // 1=按下SOS键, 0=解除，缺省表示无变化
}

type wearableBP struct {
	Sys float64 `json:"sys"` // 收缩压 mmHg
	Dia float64 `json:"dia"` // 舒张压 mmHg
}

// WearableCodec 穿戴设备编解码器
//
// 唯一在报文里直接携带住户ID的设备族，解码时填入 PatientID。
// 批量补传逐条解码，顺序保持。
type WearableCodec struct{}

func NewWearableCodec() *WearableCodec { return &WearableCodec{} }

func (c *WearableCodec) Family() models.DeviceFamily { return models.FamilyWearable }

func (c *WearableCodec) Decode(payload []byte, topic string) ([]models.TelemetryEvent, error) {
	var env wearableEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, malformed(models.FamilyWearable, "invalid payload", err)
	}
	if env.ID == "" {
		return nil, missingDeviceID(models.FamilyWearable, "payload has no id")
	}

	if len(env.Batch) > 0 {
		var events []models.TelemetryEvent
		for _, rec := range env.Batch {
			events = append(events, c.recordEvents(env.ID, env.Pid, rec)...)
		}
		return events, nil
	}

	return c.recordEvents(env.ID, env.Pid, env.wearableRecord), nil
}

func (c *WearableCodec) recordEvents(deviceID, patientID string, rec wearableRecord) []models.TelemetryEvent {
	observedAt := unixTime(rec.Ts)
	base := models.TelemetryEvent{
		Family:     models.FamilyWearable,
		DeviceID:   deviceID,
		PatientID:  patientID,
		ObservedAt: observedAt,
	}

	var events []models.TelemetryEvent

	if rec.SpO2 != nil {
		ev := base
		ev.Type = models.MeasurementSpO2
		ev.Value = models.MeasurementValue{Numeric: *rec.SpO2}
		events = append(events, ev)
	}
	if rec.HR != nil {
		ev := base
		ev.Type = models.MeasurementHeartRate
		ev.Value = models.MeasurementValue{Numeric: *rec.HR}
		events = append(events, ev)
	}
	if rec.BP != nil {
		ev := base
		ev.Type = models.MeasurementBloodPressure
		ev.Value = models.MeasurementValue{Numeric: rec.BP.Sys, Diastolic: rec.BP.Dia}
		events = append(events, ev)
	}
	if rec.Tmp != nil {
		ev := base
		ev.Type = models.MeasurementTemperature
		ev.Value = models.MeasurementValue{Numeric: *rec.Tmp}
		events = append(events, ev)
	}
	if rec.Bat != nil {
		ev := base
		ev.Type = models.MeasurementBattery
		ev.Value = models.MeasurementValue{Numeric: *rec.Bat}
		events = append(events, ev)
	}
	if rec.SOS != nil {
		ev := base
		ev.Type = models.MeasurementSOS
		ev.Value = models.MeasurementValue{Flag: *rec.SOS == 1, Text: "sos_button"}
		events = append(events, ev)
	}

	return events
}
