// Package listener 设备族接入监听器
//
// 每个设备族一个监听器，持有该族 MQTT 主题的唯一订阅：
// - 收到报文先打 received 标记再解码，解码失败的报文也能被数据流视图看到
// - 解码失败只丢弃当前报文并计数，后续报文不受影响
// - 断线后监督循环以指数退避重建连接（初始 1s，上限 30s，不限次数，成功后重置）
// - 各族监听器互相隔离，一个族断连不影响其他族
//
// 启动期例外：首次订阅必须在启动截止时间内完成，否则 Start 返回错误，
// 由进程以启动失败退出，而不是带着聋掉的监听器继续运行。
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"wisefido-monitor/internal/bus"
	"wisefido-monitor/internal/codec"
	"wisefido-monitor/internal/metrics"
	"wisefido-monitor/internal/models"
	"wisefido-monitor/internal/mqtt"
	"wisefido-monitor/internal/stage"
)

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// Transport 监听器持有的订阅端连接
// 生产环境由 internal/mqtt.Client 实现，测试里替换为假传输。
type Transport interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
	Disconnect()
}

// ConnectFunc 建立一条传输连接
// onLost 在连接断开时被调用（可能来自传输库内部协程），监督循环据此重连。
type ConnectFunc func(onLost func(error)) (Transport, error)

// Directory 设备-住户绑定目录，监听器只读
type Directory interface {
	PatientFor(deviceID string) (string, bool)
}

// Options 监听器参数
type Options struct {
	Family          models.DeviceFamily
	Topic           string
	QoS             byte
	StartupDeadline time.Duration
	InitialBackoff  time.Duration // 零值取 DefaultInitialBackoff
	MaxBackoff      time.Duration // 零值取 DefaultMaxBackoff
}

// Listener 单个设备族的接入监听器
type Listener struct {
	opts      Options
	codec     codec.Codec
	bus       *bus.Bus
	tracker   *stage.Tracker
	directory Directory // 可为 nil
	connect   ConnectFunc
	logger    *zap.Logger

	mu        sync.Mutex
	transport Transport

	seq  atomic.Int64
	lost chan error
}

// New 创建监听器
func New(opts Options, c codec.Codec, b *bus.Bus, tracker *stage.Tracker,
	directory Directory, connect ConnectFunc, logger *zap.Logger) *Listener {

	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}

	return &Listener{
		opts:      opts,
		codec:     c,
		bus:       b,
		tracker:   tracker,
		directory: directory,
		connect:   connect,
		logger:    logger,
		lost:      make(chan error, 1),
	}
}

// Family 监听的设备族
func (l *Listener) Family() models.DeviceFamily { return l.opts.Family }

// Start 完成首次订阅并启动监督循环
// 首次订阅在 StartupDeadline 内重试，超期返回错误（启动失败）；
// 之后的断线重连不限次数，永不升级为进程级错误。
func (l *Listener) Start(ctx context.Context) error {
	deadline := time.Now().Add(l.opts.StartupDeadline)
	backoff := l.opts.InitialBackoff

	for {
		err := l.connectAndSubscribe()
		if err == nil {
			break
		}
		if time.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("%s listener: subscribe within startup deadline: %w", l.opts.Family, err)
		}
		l.logger.Warn("Initial subscribe failed, retrying",
			zap.String("family", string(l.opts.Family)),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, l.opts.MaxBackoff)
	}

	go l.supervise(ctx)
	return nil
}

// Stop 取消订阅并断开传输
// 监督循环由调用方取消 ctx 收尾。
func (l *Listener) Stop() {
	l.mu.Lock()
	transport := l.transport
	l.transport = nil
	l.mu.Unlock()

	if transport == nil {
		return
	}
	if err := transport.Unsubscribe(l.opts.Topic); err != nil {
		l.logger.Warn("Unsubscribe failed",
			zap.String("family", string(l.opts.Family)),
			zap.Error(err))
	}
	transport.Disconnect()

	l.logger.Info("Listener stopped", zap.String("family", string(l.opts.Family)))
}

// supervise 断线监督循环
// 每轮掉线后从初始退避重新计时，重连成功即复位。
func (l *Listener) supervise(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-l.lost:
			l.logger.Warn("Transport connection lost",
				zap.String("family", string(l.opts.Family)),
				zap.Error(err))
		}

		backoff := l.opts.InitialBackoff
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := l.connectAndSubscribe(); err != nil {
				l.logger.Warn("Reconnect failed, backing off",
					zap.String("family", string(l.opts.Family)),
					zap.Duration("backoff", backoff),
					zap.Error(err))
				backoff = nextBackoff(backoff, l.opts.MaxBackoff)
				continue
			}
			break
		}
	}
}

func (l *Listener) connectAndSubscribe() error {
	transport, err := l.connect(l.onLost)
	if err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	if err := transport.Subscribe(l.opts.Topic, l.opts.QoS, l.handleMessage); err != nil {
		transport.Disconnect()
		return fmt.Errorf("subscribe %s: %w", l.opts.Topic, err)
	}

	l.mu.Lock()
	old := l.transport
	l.transport = transport
	l.mu.Unlock()
	// 迟到的 onLost 回调可能让旧连接还挂着，替换后统一断开
	if old != nil {
		old.Disconnect()
	}

	l.logger.Info("Listener subscribed",
		zap.String("family", string(l.opts.Family)),
		zap.String("topic", l.opts.Topic))
	return nil
}

// onLost 可能从传输库内部协程调用，只负责唤醒监督循环
func (l *Listener) onLost(err error) {
	select {
	case l.lost <- err:
	default:
	}
}

// handleMessage 处理单条原始报文
// 事件按编解码器产出顺序进入总线，ReceivedAt/RawRef 由这里补齐。
func (l *Listener) handleMessage(topic string, payload []byte) error {
	receivedAt := time.Now()
	ref := fmt.Sprintf("%s#%d", topic, l.seq.Add(1))

	// 解码前先打标记，解不开的报文也要在数据流视图里留痕
	l.tracker.Record(models.StageMarker{
		EventRef: ref,
		Family:   l.opts.Family,
		Stage:    models.StageReceived,
		StageAt:  receivedAt,
	})

	events, err := l.codec.Decode(payload, topic)
	if err != nil {
		kind := string(codec.KindMalformedPayload)
		var decodeErr *codec.DecodeError
		if errors.As(err, &decodeErr) {
			kind = string(decodeErr.Kind)
		}
		metrics.DecodeErrors.WithLabelValues(string(l.opts.Family), kind).Inc()
		l.logger.Warn("Dropping undecodable payload",
			zap.String("family", string(l.opts.Family)),
			zap.String("topic", topic),
			zap.String("kind", kind),
			zap.Error(err))
		return nil
	}

	l.tracker.Record(models.StageMarker{
		EventRef: ref,
		Family:   l.opts.Family,
		Stage:    models.StageDecoded,
	})

	for i := range events {
		ev := events[i]
		ev.ReceivedAt = receivedAt
		ev.RawRef = ref
		if ev.PatientID == "" && l.directory != nil {
			if patientID, ok := l.directory.PatientFor(ev.DeviceID); ok {
				ev.PatientID = patientID
			}
		}
		metrics.EventsIngested.WithLabelValues(string(ev.Family)).Inc()
		l.bus.Publish(bus.NewTelemetry(&ev))
	}
	return nil
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
