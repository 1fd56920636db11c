package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"wisefido-monitor/internal/models"
	"wisefido-monitor/internal/store"
)

const (
	deviceKeyPrefix  = "monitor:device:"
	patientKeyPrefix = "monitor:patient:"
)

// Manager 实时状态缓存管理器
//
// 把聚合器的设备/住户状态写入 Redis，进程重启时反向读回做热启动，
// 避免冷启动后看板统计归零。键带 TTL，停机太久的陈旧状态自然过期。
type Manager struct {
	kv     store.KV
	ttl    time.Duration
	logger *zap.Logger
}

// NewManager 创建缓存管理器
func NewManager(kv store.KV, ttl time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		kv:     kv,
		ttl:    ttl,
		logger: logger,
	}
}

// SaveDevice 写入设备状态缓存
func (m *Manager) SaveDevice(ctx context.Context, device *models.DeviceState) error {
	data, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("marshal device state: %w", err)
	}

	key := deviceKeyPrefix + device.DeviceID
	if err := m.kv.Set(ctx, key, string(data), m.ttl); err != nil {
		return fmt.Errorf("set cache %s: %w", key, err)
	}

	m.logger.Debug("Updated device cache",
		zap.String("device_id", device.DeviceID),
		zap.String("key", key))
	return nil
}

// SavePatient 写入住户状态缓存
func (m *Manager) SavePatient(ctx context.Context, patient *models.PatientState) error {
	data, err := json.Marshal(patient)
	if err != nil {
		return fmt.Errorf("marshal patient state: %w", err)
	}

	key := patientKeyPrefix + patient.PatientID
	if err := m.kv.Set(ctx, key, string(data), m.ttl); err != nil {
		return fmt.Errorf("set cache %s: %w", key, err)
	}

	m.logger.Debug("Updated patient cache",
		zap.String("patient_id", patient.PatientID),
		zap.String("key", key))
	return nil
}

// LoadDevices 读回全部设备状态缓存，用于热启动
// 扫描和读取之间键可能过期，缓存未命中按正常情况跳过。
func (m *Manager) LoadDevices(ctx context.Context) ([]models.DeviceState, error) {
	keys, err := m.kv.ScanKeys(ctx, deviceKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan device keys: %w", err)
	}

	devices := make([]models.DeviceState, 0, len(keys))
	for _, key := range keys {
		val, err := m.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrMiss) {
				continue
			}
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		var device models.DeviceState
		if err := json.Unmarshal([]byte(val), &device); err != nil {
			m.logger.Warn("Skipping corrupt device cache entry",
				zap.String("key", key), zap.Error(err))
			continue
		}
		if device.DeviceID == "" {
			device.DeviceID = strings.TrimPrefix(key, deviceKeyPrefix)
		}
		devices = append(devices, device)
	}

	m.logger.Info("Loaded device cache", zap.Int("count", len(devices)))
	return devices, nil
}

// LoadPatients 读回全部住户状态缓存，用于热启动
func (m *Manager) LoadPatients(ctx context.Context) ([]models.PatientState, error) {
	keys, err := m.kv.ScanKeys(ctx, patientKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan patient keys: %w", err)
	}

	patients := make([]models.PatientState, 0, len(keys))
	for _, key := range keys {
		val, err := m.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrMiss) {
				continue
			}
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		var patient models.PatientState
		if err := json.Unmarshal([]byte(val), &patient); err != nil {
			m.logger.Warn("Skipping corrupt patient cache entry",
				zap.String("key", key), zap.Error(err))
			continue
		}
		if patient.PatientID == "" {
			patient.PatientID = strings.TrimPrefix(key, patientKeyPrefix)
		}
		patients = append(patients, patient)
	}

	m.logger.Info("Loaded patient cache", zap.Int("count", len(patients)))
	return patients, nil
}
