package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"wisefido-monitor/internal/models"
)

// StateRepository 设备状态与住户读数仓库
// 只由写回工作协程调用，失败记日志不中断数据流。
type StateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStateRepository 创建状态仓库
func NewStateRepository(db *sql.DB, logger *zap.Logger) *StateRepository {
	return &StateRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertDevice 写入设备状态
func (r *StateRepository) UpsertDevice(ctx context.Context, device *models.DeviceState) error {
	if device == nil {
		return fmt.Errorf("device is required")
	}
	if device.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	query := `
		INSERT INTO devices (
			device_id,
			family,
			patient_id,
			last_seen_at,
			messages_total,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, CURRENT_TIMESTAMP
		)
		ON CONFLICT (device_id) DO UPDATE SET
			family = EXCLUDED.family,
			patient_id = EXCLUDED.patient_id,
			last_seen_at = EXCLUDED.last_seen_at,
			messages_total = EXCLUDED.messages_total,
			updated_at = CURRENT_TIMESTAMP
	`

	var patientID sql.NullString
	if device.PatientID != "" {
		patientID = sql.NullString{String: device.PatientID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		device.DeviceID,
		device.Family,
		patientID,
		device.LastSeenAt,
		device.MessagesTotal,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	return nil
}

// UpsertPatientReading 写入住户某类测量的最新读数
// 按 observed_at 比较，迟到的旧读数不会覆盖更新的行。
func (r *StateRepository) UpsertPatientReading(ctx context.Context, ev *models.TelemetryEvent) error {
	if ev == nil {
		return fmt.Errorf("event is required")
	}
	if ev.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}

	query := `
		INSERT INTO patient_readings (
			patient_id,
			device_id,
			measurement_type,
			numeric_value,
			diastolic_value,
			text_value,
			flag_value,
			observed_at,
			received_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP
		)
		ON CONFLICT (patient_id, measurement_type) DO UPDATE SET
			device_id = EXCLUDED.device_id,
			numeric_value = EXCLUDED.numeric_value,
			diastolic_value = EXCLUDED.diastolic_value,
			text_value = EXCLUDED.text_value,
			flag_value = EXCLUDED.flag_value,
			observed_at = EXCLUDED.observed_at,
			received_at = EXCLUDED.received_at,
			updated_at = CURRENT_TIMESTAMP
		WHERE patient_readings.observed_at <= EXCLUDED.observed_at
	`

	var textValue sql.NullString
	if ev.Value.Text != "" {
		textValue = sql.NullString{String: ev.Value.Text, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		ev.PatientID,
		ev.DeviceID,
		ev.Type,
		ev.Value.Numeric,
		ev.Value.Diastolic,
		textValue,
		ev.Value.Flag,
		ev.ObservedAt,
		ev.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert patient reading: %w", err)
	}

	return nil
}
