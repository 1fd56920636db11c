// Package codec 设备族报文编解码
//
// 将各设备族的原始报文解码为规范化遥测事件：
// - 解码是纯函数，同一报文永远得到同一事件序列
// - 批量报文解码为有序事件序列
// - 无法解码时返回 DecodeError，由监听器记录并丢弃该报文
//
// ReceivedAt 和 RawRef 属于接入侧信息，由监听器补齐，解码器不填。
package codec

import (
	"fmt"

	"wisefido-monitor/internal/models"
)

// ErrorKind 解码失败类别
type ErrorKind string

const (
	KindMalformedPayload   ErrorKind = "malformed_payload"   // 报文格式错误
	KindUnknownMeasurement ErrorKind = "unknown_measurement" // 未知数据类型
	KindMissingDeviceID    ErrorKind = "missing_device_id"   // 缺少设备ID
)

// DecodeError 解码失败
type DecodeError struct {
	Kind   ErrorKind
	Family models.DeviceFamily
	Reason string
	Cause  error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s decode %s: %s: %v", e.Family, e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s decode %s: %s", e.Family, e.Kind, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

func malformed(family models.DeviceFamily, reason string, cause error) *DecodeError {
	return &DecodeError{Kind: KindMalformedPayload, Family: family, Reason: reason, Cause: cause}
}

func unknownMeasurement(family models.DeviceFamily, reason string) *DecodeError {
	return &DecodeError{Kind: KindUnknownMeasurement, Family: family, Reason: reason}
}

func missingDeviceID(family models.DeviceFamily, reason string) *DecodeError {
	return &DecodeError{Kind: KindMissingDeviceID, Family: family, Reason: reason}
}

// Codec 设备族编解码器
// 新增设备族只需实现 Codec 并在启动时注册，监听器及下游无需改动。
type Codec interface {
	Family() models.DeviceFamily
	Decode(payload []byte, topic string) ([]models.TelemetryEvent, error)
}

// Registry 设备族到编解码器的注册表，启动时构建后只读
type Registry struct {
	codecs map[models.DeviceFamily]Codec
}

// NewRegistry 注册编解码器
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[models.DeviceFamily]Codec, len(codecs))}
	for _, c := range codecs {
		r.codecs[c.Family()] = c
	}
	return r
}

// Get 按设备族查找编解码器
func (r *Registry) Get(family models.DeviceFamily) (Codec, bool) {
	c, ok := r.codecs[family]
	return c, ok
}

// Families 已注册的设备族
func (r *Registry) Families() []models.DeviceFamily {
	families := make([]models.DeviceFamily, 0, len(r.codecs))
	for f := range r.codecs {
		families = append(families, f)
	}
	return families
}
