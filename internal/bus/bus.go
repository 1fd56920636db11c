// Package bus 进程内事件总线
//
// 承载规范化遥测事件与流水线阶段标记，多生产者多消费者：
// - 每个消费者持有独立的有界订阅通道，慢消费者不会拖住别的消费者
// - 投递最多等待一个共享超时，超时即丢弃并计数，接入吞吐优先于必达
// - Close 之后订阅通道关闭，消费循环自然退出
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"wisefido-monitor/internal/metrics"
	"wisefido-monitor/internal/models"
)

// MessageKind 总线消息类别
type MessageKind string

const (
	KindTelemetry MessageKind = "telemetry"
	KindStage     MessageKind = "stage"
)

// Message 总线消息，按 Kind 取用对应字段
type Message struct {
	Kind  MessageKind
	Event *models.TelemetryEvent
	Stage *models.StageMarker
}

// NewTelemetry 构造遥测消息
func NewTelemetry(ev *models.TelemetryEvent) Message {
	return Message{Kind: KindTelemetry, Event: ev}
}

// NewStage 构造阶段标记消息
func NewStage(marker *models.StageMarker) Message {
	return Message{Kind: KindStage, Stage: marker}
}

// Subscription 消费者订阅
type Subscription struct {
	name    string
	ch      chan Message
	dropped atomic.Int64
}

// C 消费通道，总线关闭后该通道关闭
func (s *Subscription) C() <-chan Message { return s.ch }

// Name 订阅者名称
func (s *Subscription) Name() string { return s.name }

// Dropped 该订阅累计被丢弃的消息数
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Bus 有界事件总线
type Bus struct {
	mu           sync.RWMutex
	subs         []*Subscription
	capacity     int
	timeout      time.Duration
	logger       *zap.Logger
	closed       bool
	totalDropped atomic.Int64
}

// New 创建事件总线
// capacity 为每个订阅的缓冲长度，timeout 为投递给慢消费者的最长等待。
func New(capacity int, timeout time.Duration, logger *zap.Logger) *Bus {
	return &Bus{
		capacity: capacity,
		timeout:  timeout,
		logger:   logger,
	}
}

// Subscribe 注册一个消费者订阅，须在发布开始前完成
func (b *Bus) Subscribe(name string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		name: name,
		ch:   make(chan Message, b.capacity),
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Publish 向所有订阅投递消息
// 快路径为非阻塞投递；仍满的订阅共享一个超时等待，
// 到期后直接丢弃，调用方永远不会被慢消费者无限阻塞。
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	var pending []*Subscription
	for _, sub := range b.subs {
		select {
		case sub.ch <- msg:
		default:
			pending = append(pending, sub)
		}
	}
	if len(pending) == 0 {
		return
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	expired := false
	for _, sub := range pending {
		if expired {
			b.tryOrDrop(sub, msg)
			continue
		}
		select {
		case sub.ch <- msg:
		case <-timer.C:
			expired = true
			b.tryOrDrop(sub, msg)
		}
	}
}

func (b *Bus) tryOrDrop(sub *Subscription, msg Message) {
	select {
	case sub.ch <- msg:
	default:
		sub.dropped.Add(1)
		b.totalDropped.Add(1)
		metrics.BusDropped.WithLabelValues(sub.name).Inc()
		b.logger.Warn("Event bus subscription full, message dropped",
			zap.String("subscription", sub.name),
			zap.String("kind", string(msg.Kind)))
	}
}

// TotalDropped 所有订阅累计丢弃总数，统计快照从这里取
func (b *Bus) TotalDropped() int64 {
	return b.totalDropped.Load()
}

// Close 关闭总线
// 调用方须保证所有生产者已停止发布。
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
}
