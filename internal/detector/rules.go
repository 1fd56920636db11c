package detector

import (
	"fmt"

	"wisefido-monitor/internal/config"
	"wisefido-monitor/internal/models"
)

// 规则ID，报警生命周期按 (主体, 规则) 对维护
const (
	RuleSpO2Critical       = "spo2_critical"
	RuleHeartRateRange     = "heart_rate_range"
	RuleBloodPressureRange = "blood_pressure_range"
	RuleTemperatureHigh    = "temperature_high"
	RuleBatteryLow         = "battery_low"
	RuleSOS                = "sos"
	RuleFall               = "fall"
)

// ruleResult 单条读数的判定结果
// 同一规则的读数不论是否越限都会返回结果，解除判定依赖非越限读数。
type ruleResult struct {
	RuleID       string
	Severity     models.AlertSeverity
	Violated     bool
	Message      string
	DeviceScoped bool // 设备健康类规则，生命周期按设备维护；同一住户名下多台设备互不影响
}

// evaluateRule 按测量类型套用阈值规则
// 没有对应规则的测量类型返回 ok=false。
func evaluateRule(ev *models.TelemetryEvent, rules *config.AlertRules) (ruleResult, bool) {
	switch ev.Type {
	case models.MeasurementSpO2:
		v := ev.Value.Numeric
		return ruleResult{
			RuleID:   RuleSpO2Critical,
			Severity: models.SeverityCritical,
			Violated: v < rules.SpO2CriticalBelow,
			Message:  fmt.Sprintf("SpO2 %.1f%% below critical threshold %.1f%%", v, rules.SpO2CriticalBelow),
		}, true

	case models.MeasurementHeartRate:
		v := ev.Value.Numeric
		return ruleResult{
			RuleID:   RuleHeartRateRange,
			Severity: models.SeverityWarning,
			Violated: v < rules.HeartRateMin || v > rules.HeartRateMax,
			Message:  fmt.Sprintf("heart rate %.0f bpm outside safe range %.0f-%.0f", v, rules.HeartRateMin, rules.HeartRateMax),
		}, true

	case models.MeasurementBloodPressure:
		sys, dia := ev.Value.Numeric, ev.Value.Diastolic
		violated := sys < rules.SystolicMin || sys > rules.SystolicMax ||
			dia < rules.DiastolicMin || dia > rules.DiastolicMax
		return ruleResult{
			RuleID:   RuleBloodPressureRange,
			Severity: models.SeverityWarning,
			Violated: violated,
			Message: fmt.Sprintf("blood pressure %.0f/%.0f mmHg outside safe range %.0f-%.0f/%.0f-%.0f",
				sys, dia, rules.SystolicMin, rules.SystolicMax, rules.DiastolicMin, rules.DiastolicMax),
		}, true

	case models.MeasurementTemperature:
		v := ev.Value.Numeric
		return ruleResult{
			RuleID:   RuleTemperatureHigh,
			Severity: models.SeverityWarning,
			Violated: v > rules.TemperatureMax,
			Message:  fmt.Sprintf("temperature %.1f above threshold %.1f", v, rules.TemperatureMax),
		}, true

	case models.MeasurementBattery:
		v := ev.Value.Numeric
		return ruleResult{
			RuleID:       RuleBatteryLow,
			Severity:     models.SeverityWarning,
			Violated:     v < rules.BatteryLowBelow,
			Message:      fmt.Sprintf("battery %.0f%% below threshold %.0f%%", v, rules.BatteryLowBelow),
			DeviceScoped: true,
		}, true

	case models.MeasurementSOS:
		return ruleResult{
			RuleID:   RuleSOS,
			Severity: models.SeverityCritical,
			Violated: ev.Value.Flag,
			Message:  "SOS signal reported by device",
		}, true

	case models.MeasurementLocation:
		fallen := ev.Value.Text == "fall" || ev.Value.Text == "suspected-fall"
		return ruleResult{
			RuleID:   RuleFall,
			Severity: models.SeverityCritical,
			Violated: fallen,
			Message:  fmt.Sprintf("fall posture detected: %s", ev.Value.Text),
		}, true
	}

	return ruleResult{}, false
}
