package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// AlertRules 报警阈值规则
// 阈值属于医疗语义，必须由外部配置，代码中只有兜底默认值。
type AlertRules struct {
	SpO2CriticalBelow float64 `yaml:"spo2_critical_below"` // SpO2 低于该百分比触发 critical
	HeartRateMin      float64 `yaml:"heart_rate_min"`      // 心率安全区间下限 bpm
	HeartRateMax      float64 `yaml:"heart_rate_max"`      // 心率安全区间上限 bpm
	SystolicMin       float64 `yaml:"systolic_min"`        // 收缩压安全区间 mmHg
	SystolicMax       float64 `yaml:"systolic_max"`
	DiastolicMin      float64 `yaml:"diastolic_min"` // 舒张压安全区间 mmHg
	DiastolicMax      float64 `yaml:"diastolic_max"`
	TemperatureMax    float64 `yaml:"temperature_max"`   // 体温上限 ℃
	BatteryLowBelow   float64 `yaml:"battery_low_below"` // 电量低于该百分比触发 warning
}

// DefaultAlertRules 兜底默认阈值
func DefaultAlertRules() *AlertRules {
	return &AlertRules{
		SpO2CriticalBelow: 90,
		HeartRateMin:      45,
		HeartRateMax:      120,
		SystolicMin:       90,
		SystolicMax:       180,
		DiastolicMin:      55,
		DiastolicMax:      110,
		TemperatureMax:    38.5,
		BatteryLowBelow:   15,
	}
}

// RulesLoader 读取规则文件并监听变更热更新
type RulesLoader struct {
	path     string
	logger   *zap.Logger
	mu       sync.RWMutex
	current  *AlertRules
	onChange []func(*AlertRules)
}

// NewRulesLoader 创建加载器并完成首次加载
// 文件不存在时使用默认阈值，不视为错误。
func NewRulesLoader(path string, logger *zap.Logger) (*RulesLoader, error) {
	l := &RulesLoader{path: path, logger: logger}

	rules, err := l.load()
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("Alert rules file not found, using defaults",
				zap.String("path", path))
			l.current = DefaultAlertRules()
			return l, nil
		}
		return nil, err
	}

	l.current = rules
	return l, nil
}

// Rules 返回当前规则
func (l *RulesLoader) Rules() *AlertRules {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange 注册规则变更回调
func (l *RulesLoader) OnChange(fn func(*AlertRules)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch 启动后台协程监听文件变更
// 返回停止函数。加载失败时保留旧规则继续运行。
func (l *RulesLoader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("rules watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					rules, err := l.load()
					if err != nil {
						l.logger.Warn("Failed to reload alert rules, keeping previous",
							zap.String("path", l.path),
							zap.Error(err))
						continue
					}
					l.swap(rules)
					l.logger.Info("Alert rules reloaded", zap.String("path", l.path))
				}
			case <-w.Errors:
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload 立即重新加载规则文件
func (l *RulesLoader) Reload() (*AlertRules, error) {
	rules, err := l.load()
	if err != nil {
		return nil, err
	}
	l.swap(rules)
	return rules, nil
}

func (l *RulesLoader) swap(rules *AlertRules) {
	l.mu.Lock()
	l.current = rules
	callbacks := make([]func(*AlertRules), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(rules)
	}
}

func (l *RulesLoader) load() (*AlertRules, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var rules AlertRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", l.path, err)
	}

	// 配置文件未写的阈值取默认值
	def := DefaultAlertRules()
	if rules.SpO2CriticalBelow == 0 {
		rules.SpO2CriticalBelow = def.SpO2CriticalBelow
	}
	if rules.HeartRateMin == 0 {
		rules.HeartRateMin = def.HeartRateMin
	}
	if rules.HeartRateMax == 0 {
		rules.HeartRateMax = def.HeartRateMax
	}
	if rules.SystolicMin == 0 {
		rules.SystolicMin = def.SystolicMin
	}
	if rules.SystolicMax == 0 {
		rules.SystolicMax = def.SystolicMax
	}
	if rules.DiastolicMin == 0 {
		rules.DiastolicMin = def.DiastolicMin
	}
	if rules.DiastolicMax == 0 {
		rules.DiastolicMax = def.DiastolicMax
	}
	if rules.TemperatureMax == 0 {
		rules.TemperatureMax = def.TemperatureMax
	}
	if rules.BatteryLowBelow == 0 {
		rules.BatteryLowBelow = def.BatteryLowBelow
	}
	return &rules, nil
}
