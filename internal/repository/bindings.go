package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"wisefido-monitor/internal/models"
)

// Binding 设备与住户的绑定关系
type Binding struct {
	DeviceID  string
	Family    models.DeviceFamily
	PatientID string
}

// BindingsRepository 绑定关系仓库
type BindingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBindingsRepository 创建绑定关系仓库
func NewBindingsRepository(db *sql.DB, logger *zap.Logger) *BindingsRepository {
	return &BindingsRepository{
		db:     db,
		logger: logger,
	}
}

// ListBindings 获取全量绑定关系
func (r *BindingsRepository) ListBindings(ctx context.Context) ([]Binding, error) {
	query := `
		SELECT
			device_id,
			family,
			patient_id
		FROM device_bindings
		WHERE patient_id IS NOT NULL
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query device bindings: %w", err)
	}
	defer rows.Close()

	bindings := []Binding{}
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.DeviceID, &b.Family, &b.PatientID); err != nil {
			return nil, fmt.Errorf("failed to scan device binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device bindings: %w", err)
	}

	return bindings, nil
}

// BindingSource 绑定关系来源
type BindingSource interface {
	ListBindings(ctx context.Context) ([]Binding, error)
}

// Directory 设备到住户的内存绑定目录
//
// 监听器在解码路径上高频查询，用读写锁保护的内存快照，
// 后台按固定周期从数据库整体刷新。来源缺失时目录保持为空，
// 报文自带住户ID的设备族不受影响。
type Directory struct {
	source BindingSource
	logger *zap.Logger

	mu       sync.RWMutex
	byDevice map[string]string
}

// NewDirectory 创建绑定目录
func NewDirectory(source BindingSource, logger *zap.Logger) *Directory {
	return &Directory{
		source:   source,
		logger:   logger,
		byDevice: make(map[string]string),
	}
}

// PatientFor 查询设备绑定的住户ID
func (d *Directory) PatientFor(deviceID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	patientID, ok := d.byDevice[deviceID]
	return patientID, ok
}

// Size 当前绑定条数
func (d *Directory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byDevice)
}

// Refresh 从来源整体刷新绑定目录
// 刷新失败保留上一次的快照，旧绑定比没有绑定强。
func (d *Directory) Refresh(ctx context.Context) error {
	if d.source == nil {
		return nil
	}

	bindings, err := d.source.ListBindings(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh directory: %w", err)
	}

	byDevice := make(map[string]string, len(bindings))
	for _, b := range bindings {
		byDevice[b.DeviceID] = b.PatientID
	}

	d.mu.Lock()
	d.byDevice = byDevice
	d.mu.Unlock()

	d.logger.Debug("Directory refreshed", zap.Int("bindings", len(byDevice)))
	return nil
}

// Watch 周期刷新，直到 ctx 结束
func (d *Directory) Watch(ctx context.Context, interval time.Duration) {
	if d.source == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil {
				d.logger.Warn("Directory refresh failed, keeping previous snapshot",
					zap.Error(err))
			}
		}
	}
}
