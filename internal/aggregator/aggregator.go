// Package aggregator 状态聚合器
//
// 设备/住户/统计状态的唯一写入方。事件按 device_id 哈希分片，
// 同一设备的事件始终由同一工作协程串行处理；读取方只拿深拷贝
// 快照，组件之间不共享可变结构。
package aggregator

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"wisefido-monitor/internal/bus"
	"wisefido-monitor/internal/config"
	"wisefido-monitor/internal/models"
	"wisefido-monitor/internal/stage"
)

// StateChange 写后协作方消费的状态变更记录
type StateChange struct {
	Device  *models.DeviceState
	Patient *models.PatientState // 事件不带住户时为 nil
	Event   *models.TelemetryEvent
}

// Aggregator 状态聚合器
type Aggregator struct {
	shardsN  int
	liveness time.Duration
	logger   *zap.Logger

	sub       *bus.Subscription
	tracker   *stage.Tracker
	droppedFn func() int64 // 总线丢弃计数，进统计快照

	shards []chan *models.TelemetryEvent
	wg     sync.WaitGroup

	mu       sync.RWMutex
	devices  map[string]*models.DeviceState
	patients map[string]*models.PatientState

	stats *Statistics

	updates chan *models.StateUpdate
	changes chan *StateChange
	done    chan struct{}
}

// NewAggregator 创建状态聚合器
func NewAggregator(cfg *config.Config, sub *bus.Subscription, tracker *stage.Tracker, droppedFn func() int64, logger *zap.Logger) *Aggregator {
	shardsN := cfg.Aggregator.Shards
	if shardsN <= 0 {
		shardsN = 1
	}

	a := &Aggregator{
		shardsN:   shardsN,
		liveness:  cfg.Aggregator.LivenessWindow,
		logger:    logger,
		sub:       sub,
		tracker:   tracker,
		droppedFn: droppedFn,
		devices:   make(map[string]*models.DeviceState),
		patients:  make(map[string]*models.PatientState),
		stats:     NewStatistics(cfg.Aggregator.RateWindow),
		updates:   make(chan *models.StateUpdate, 256),
		changes:   make(chan *StateChange, 256),
		done:      make(chan struct{}),
	}

	a.shards = make([]chan *models.TelemetryEvent, shardsN)
	for i := range a.shards {
		a.shards[i] = make(chan *models.TelemetryEvent, 64)
	}
	return a
}

// Updates 推送给广播枢纽的状态增量
func (a *Aggregator) Updates() <-chan *models.StateUpdate { return a.updates }

// Changes 推送给写后协作方的状态变更
func (a *Aggregator) Changes() <-chan *StateChange { return a.changes }

// Done 总线订阅关闭且全部分片排空后关闭
func (a *Aggregator) Done() <-chan struct{} { return a.done }

// Seed 预热状态，须在 Start 之前调用
// 用于重启后从缓存恢复设备列表，旧的 last_seen_at 使设备显示为不活跃。
func (a *Aggregator) Seed(devices []models.DeviceState, patients []models.PatientState) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range devices {
		d := devices[i]
		if _, ok := a.devices[d.DeviceID]; ok {
			continue
		}
		if d.MessagesByType == nil {
			d.MessagesByType = make(map[models.MeasurementType]int64)
		}
		a.devices[d.DeviceID] = &d
	}
	for i := range patients {
		p := patients[i]
		if _, ok := a.patients[p.PatientID]; ok {
			continue
		}
		if p.LatestReadings == nil {
			p.LatestReadings = make(map[models.MeasurementType]*models.TelemetryEvent)
		}
		a.patients[p.PatientID] = &p
	}
}

// Start 启动分发协程与分片工作协程
func (a *Aggregator) Start() {
	for i := range a.shards {
		a.wg.Add(1)
		go a.shardWorker(a.shards[i])
	}
	go a.dispatch()
}

func (a *Aggregator) dispatch() {
	for msg := range a.sub.C() {
		if msg.Kind != bus.KindTelemetry || msg.Event == nil {
			continue
		}
		ev := msg.Event
		a.shards[shardIndex(ev.DeviceID, a.shardsN)] <- ev
	}

	// 总线已关闭，排空各分片后收尾
	for _, ch := range a.shards {
		close(ch)
	}
	a.wg.Wait()
	close(a.updates)
	close(a.changes)
	close(a.done)
}

func (a *Aggregator) shardWorker(ch <-chan *models.TelemetryEvent) {
	defer a.wg.Done()
	for ev := range ch {
		a.apply(ev)
	}
}

// apply 处理单条遥测事件
// 拷贝与通道投递都在锁内完成，投递为非阻塞，
// 保证增量顺序与状态变更顺序一致且不被慢消费者拖住。
func (a *Aggregator) apply(ev *models.TelemetryEvent) {
	now := time.Now()

	a.mu.Lock()

	// 1. 设备状态
	d := a.devices[ev.DeviceID]
	if d == nil {
		d = &models.DeviceState{
			DeviceID:       ev.DeviceID,
			Family:         ev.Family,
			MessagesByType: make(map[models.MeasurementType]int64),
		}
		a.devices[ev.DeviceID] = d
	}
	if ev.ReceivedAt.After(d.LastSeenAt) {
		d.LastSeenAt = ev.ReceivedAt
	}
	if ev.PatientID != "" && d.PatientID != ev.PatientID {
		d.PatientID = ev.PatientID
	}
	d.MessagesTotal++
	d.MessagesByType[ev.Type]++

	// 2. 住户状态
	var p *models.PatientState
	if ev.PatientID != "" {
		p = a.patients[ev.PatientID]
		if p == nil {
			p = &models.PatientState{
				PatientID:      ev.PatientID,
				LatestReadings: make(map[models.MeasurementType]*models.TelemetryEvent),
			}
			a.patients[ev.PatientID] = p
		}
		bindDevice(p, ev.DeviceID)
		cur := p.LatestReadings[ev.Type]
		if cur == nil || newerByObserved(ev, cur) {
			p.LatestReadings[ev.Type] = ev
		}
	}

	// 3. 统计
	a.stats.RecordEvent(ev.Family)

	deviceCopy := copyDevice(d, now, a.liveness)
	var patientCopy *models.PatientState
	if p != nil {
		patientCopy = copyPatient(p)
	}

	select {
	case a.updates <- &models.StateUpdate{Device: deviceCopy, Patient: patientCopy}:
	default:
		a.logger.Debug("State update channel full, dropping update",
			zap.String("device_id", ev.DeviceID))
	}

	select {
	case a.changes <- &StateChange{Device: deviceCopy, Patient: patientCopy, Event: ev}:
	default:
		a.logger.Debug("Write-behind channel full, dropping state change",
			zap.String("device_id", ev.DeviceID))
	}

	a.mu.Unlock()

	a.tracker.Record(models.StageMarker{
		EventRef: markerRef(ev),
		Family:   ev.Family,
		Stage:    models.StageNormalized,
	})
}

// Snapshot 生成一致的全量快照
// 活跃状态按存活窗口对 last_seen_at 现算。
func (a *Aggregator) Snapshot() models.FullSnapshot {
	now := time.Now()
	active := make(map[models.DeviceFamily]int64)

	a.mu.RLock()
	devices := make([]models.DeviceState, 0, len(a.devices))
	for _, d := range a.devices {
		c := copyDevice(d, now, a.liveness)
		if c.IsActive {
			active[c.Family]++
		}
		devices = append(devices, *c)
	}
	patients := make([]models.PatientState, 0, len(a.patients))
	for _, p := range a.patients {
		patients = append(patients, *copyPatient(p))
	}
	a.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceID < devices[j].DeviceID })
	sort.Slice(patients, func(i, j int) bool { return patients[i].PatientID < patients[j].PatientID })

	var dropped int64
	if a.droppedFn != nil {
		dropped = a.droppedFn()
	}

	return models.FullSnapshot{
		Statistics: a.stats.Snapshot(dropped, active),
		Devices:    devices,
		Patients:   patients,
	}
}

func shardIndex(deviceID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(n))
}

// newerByObserved 事件是否比已存读数新，observed_at 相同时比 received_at
func newerByObserved(ev, cur *models.TelemetryEvent) bool {
	if ev.ObservedAt.After(cur.ObservedAt) {
		return true
	}
	if ev.ObservedAt.Equal(cur.ObservedAt) {
		return ev.ReceivedAt.After(cur.ReceivedAt)
	}
	return false
}

func bindDevice(p *models.PatientState, deviceID string) {
	for _, id := range p.BoundDeviceIDs {
		if id == deviceID {
			return
		}
	}
	p.BoundDeviceIDs = append(p.BoundDeviceIDs, deviceID)
}

func copyDevice(d *models.DeviceState, now time.Time, liveness time.Duration) *models.DeviceState {
	c := *d
	c.IsActive = !d.LastSeenAt.IsZero() && now.Sub(d.LastSeenAt) <= liveness
	c.MessagesByType = make(map[models.MeasurementType]int64, len(d.MessagesByType))
	for k, v := range d.MessagesByType {
		c.MessagesByType[k] = v
	}
	return &c
}

func copyPatient(p *models.PatientState) *models.PatientState {
	c := *p
	c.BoundDeviceIDs = append([]string(nil), p.BoundDeviceIDs...)
	// 事件构造后不可变，读数表可以共享事件指针
	c.LatestReadings = make(map[models.MeasurementType]*models.TelemetryEvent, len(p.LatestReadings))
	for k, v := range p.LatestReadings {
		c.LatestReadings[k] = v
	}
	return &c
}

func markerRef(ev *models.TelemetryEvent) string {
	if ev.RawRef != "" {
		return ev.RawRef
	}
	return ev.DeviceID
}
