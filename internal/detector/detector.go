// Package detector 紧急状况检测
//
// 逐条评估遥测事件并维护报警生命周期：
// - 同一 (主体, 规则) 首次越限产生 open 报警，持续越限不重复报警
// - 后续恢复正常的读数产生 resolved 事件，沿用原 alert_id
// - 外呼通知与落库都是异步尽力而为，从不阻塞消费循环
//
// 主体为住户ID，事件未绑定住户时退回设备ID。
package detector

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wisefido-monitor/internal/bus"
	"wisefido-monitor/internal/config"
	"wisefido-monitor/internal/metrics"
	"wisefido-monitor/internal/models"
)

// AlertStore 报警落库接口
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *models.AlertEvent) error
}

type stateKey struct {
	subject string
	rule    string
}

// Detector 紧急状况检测器
type Detector struct {
	sub      *bus.Subscription
	loader   *config.RulesLoader
	store    AlertStore // 可为 nil
	notifier *Notifier  // 可为 nil
	logger   *zap.Logger

	// 仅由 run 协程访问
	open map[stateKey]*models.AlertEvent

	alerts chan *models.AlertEvent
	done   chan struct{}
}

// New 创建检测器
func New(sub *bus.Subscription, loader *config.RulesLoader, store AlertStore, notifier *Notifier, logger *zap.Logger) *Detector {
	return &Detector{
		sub:      sub,
		loader:   loader,
		store:    store,
		notifier: notifier,
		logger:   logger,
		open:     make(map[stateKey]*models.AlertEvent),
		alerts:   make(chan *models.AlertEvent, 64),
		done:     make(chan struct{}),
	}
}

// Alerts 报警事件输出通道，广播枢纽消费
func (d *Detector) Alerts() <-chan *models.AlertEvent { return d.alerts }

// Done 总线订阅关闭后处理完余量即关闭
func (d *Detector) Done() <-chan struct{} { return d.done }

// Start 启动消费协程
func (d *Detector) Start() {
	go d.run()
}

func (d *Detector) run() {
	for msg := range d.sub.C() {
		if msg.Kind != bus.KindTelemetry || msg.Event == nil {
			continue
		}
		d.evaluate(msg.Event)
	}
	close(d.alerts)
	close(d.done)
}

// evaluate 评估单条读数并推进报警生命周期
func (d *Detector) evaluate(ev *models.TelemetryEvent) {
	result, ok := evaluateRule(ev, d.loader.Rules())
	if !ok {
		return
	}

	subject := subjectOf(ev)
	if result.DeviceScoped {
		subject = ev.DeviceID
	}
	key := stateKey{subject: subject, rule: result.RuleID}
	current := d.open[key]

	switch {
	case result.Violated && current == nil:
		alert := &models.AlertEvent{
			AlertID:     uuid.New().String(),
			RuleID:      result.RuleID,
			PatientID:   ev.PatientID,
			DeviceID:    ev.DeviceID,
			Severity:    result.Severity,
			State:       models.AlertOpen,
			Message:     result.Message,
			Triggering:  *ev,
			TriggeredAt: time.Now(),
		}
		d.open[key] = alert
		d.logger.Warn("Alert triggered",
			zap.String("alert_id", alert.AlertID),
			zap.String("rule_id", alert.RuleID),
			zap.String("device_id", alert.DeviceID),
			zap.String("patient_id", alert.PatientID),
			zap.String("severity", string(alert.Severity)))
		d.emit(alert)

	case result.Violated && current != nil:
		// 持续越限，不重复报警

	case !result.Violated && current != nil:
		now := time.Now()
		resolved := *current
		resolved.State = models.AlertResolved
		resolved.Message = result.RuleID + " recovered"
		resolved.Triggering = *ev
		resolved.ResolvedAt = &now
		delete(d.open, key)
		d.logger.Info("Alert resolved",
			zap.String("alert_id", resolved.AlertID),
			zap.String("rule_id", resolved.RuleID),
			zap.String("device_id", resolved.DeviceID))
		d.emit(&resolved)
	}
}

func (d *Detector) emit(alert *models.AlertEvent) {
	metrics.AlertsEmitted.WithLabelValues(string(alert.Severity), string(alert.State)).Inc()

	if d.store != nil {
		go d.persist(alert)
	}
	if d.notifier != nil {
		go d.notifier.Notify(alert)
	}

	select {
	case d.alerts <- alert:
	default:
		d.logger.Warn("Alert channel full, dropping broadcast",
			zap.String("alert_id", alert.AlertID))
	}
}

func (d *Detector) persist(alert *models.AlertEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.store.SaveAlert(ctx, alert); err != nil {
		metrics.PersistErrors.WithLabelValues("alerts").Inc()
		d.logger.Warn("Failed to persist alert event",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err))
	}
}

func subjectOf(ev *models.TelemetryEvent) string {
	if ev.PatientID != "" {
		return ev.PatientID
	}
	return ev.DeviceID
}
