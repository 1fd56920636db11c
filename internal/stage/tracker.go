// Package stage 流水线阶段跟踪
//
// 各组件在事件经过 received/decoded/normalized/stored/broadcast
// 阶段时打点。标记进入有界环形缓冲供可视化查询，同时发布到
// 事件总线供实时推送，不持久化。
package stage

import (
	"sync"
	"time"

	"wisefido-monitor/internal/bus"
	"wisefido-monitor/internal/models"
)

// Tracker 阶段标记收集器
type Tracker struct {
	mu    sync.Mutex
	ring  []models.StageMarker
	next  int
	count int
	bus   *bus.Bus
}

// NewTracker 创建收集器，size 为环形缓冲长度
func NewTracker(size int, b *bus.Bus) *Tracker {
	if size <= 0 {
		size = 256
	}
	return &Tracker{
		ring: make([]models.StageMarker, size),
		bus:  b,
	}
}

// Record 记录一个阶段标记
// StageAt 为零值时取当前时间。最老的标记被环形覆盖。
func (t *Tracker) Record(marker models.StageMarker) {
	if marker.StageAt.IsZero() {
		marker.StageAt = time.Now()
	}

	t.mu.Lock()
	t.ring[t.next] = marker
	t.next = (t.next + 1) % len(t.ring)
	if t.count < len(t.ring) {
		t.count++
	}
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(bus.NewStage(&marker))
	}
}

// Recent 返回缓冲内的标记副本，从旧到新
func (t *Tracker) Recent() []models.StageMarker {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.StageMarker, 0, t.count)
	if t.count < len(t.ring) {
		out = append(out, t.ring[:t.count]...)
		return out
	}
	out = append(out, t.ring[t.next:]...)
	out = append(out, t.ring[:t.next]...)
	return out
}
