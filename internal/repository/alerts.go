package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"wisefido-monitor/internal/models"
)

// AlertsRepository 报警事件仓库
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建报警事件仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

// SaveAlert 写入报警事件
// 解除事件复用触发事件的 alert_id，落库为同一行的状态翻转。
func (r *AlertsRepository) SaveAlert(ctx context.Context, alert *models.AlertEvent) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.AlertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	triggerData, err := json.Marshal(alert.Triggering)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	query := `
		INSERT INTO alert_events (
			alert_id,
			rule_id,
			patient_id,
			device_id,
			severity,
			state,
			message,
			trigger_data,
			triggered_at,
			resolved_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, CURRENT_TIMESTAMP
		)
		ON CONFLICT (alert_id) DO UPDATE SET
			state = EXCLUDED.state,
			message = EXCLUDED.message,
			trigger_data = EXCLUDED.trigger_data,
			resolved_at = EXCLUDED.resolved_at,
			updated_at = CURRENT_TIMESTAMP
	`

	var patientID sql.NullString
	if alert.PatientID != "" {
		patientID = sql.NullString{String: alert.PatientID, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, query,
		alert.AlertID,
		alert.RuleID,
		patientID,
		alert.DeviceID,
		alert.Severity,
		alert.State,
		alert.Message,
		triggerData,
		alert.TriggeredAt,
		alert.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert event: %w", err)
	}

	return nil
}
