// Package hub 实时广播枢纽
//
// 维护已连接的仪表盘客户端集合，接入时先下发全量快照，
// 之后流式推送状态增量、报警事件和流水线阶段标记。
// 注册与广播在同一个 run 循环里串行处理，客户端不可能
// 在快照之前收到增量。
package hub

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wisefido-monitor/internal/bus"
	"wisefido-monitor/internal/config"
	"wisefido-monitor/internal/metrics"
	"wisefido-monitor/internal/models"
	"wisefido-monitor/internal/stage"
)

// Hub 广播枢纽
type Hub struct {
	queueSize    int
	failureLimit int
	logger       *zap.Logger

	snapshotFn func() models.FullSnapshot
	updates    <-chan *models.StateUpdate
	alerts     <-chan *models.AlertEvent
	stages     *bus.Subscription
	tracker    *stage.Tracker

	upgrader websocket.Upgrader

	register   chan *Client
	unregister chan *Client
	clients    map[*Client]bool

	done chan struct{}
}

// New 创建广播枢纽
// updates/alerts/stages 全部关闭并排空后 run 循环退出。
func New(cfg *config.Config, snapshotFn func() models.FullSnapshot, updates <-chan *models.StateUpdate,
	alerts <-chan *models.AlertEvent, stages *bus.Subscription, tracker *stage.Tracker, logger *zap.Logger) *Hub {

	queueSize := cfg.Hub.SendQueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	failureLimit := cfg.Hub.SendFailureLimit
	if failureLimit <= 0 {
		failureLimit = 3
	}

	return &Hub{
		queueSize:    queueSize,
		failureLimit: failureLimit,
		logger:       logger,
		snapshotFn:   snapshotFn,
		updates:      updates,
		alerts:       alerts,
		stages:       stages,
		tracker:      tracker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 仪表盘走内网反代，不做跨域校验
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// Done 全部上游通道排空、客户端关闭后关闭
func (h *Hub) Done() <-chan struct{} { return h.done }

// Start 启动 run 循环
func (h *Hub) Start() {
	go h.run()
}

func (h *Hub) run() {
	updates := h.updates
	alerts := h.alerts
	var stages <-chan bus.Message
	if h.stages != nil {
		stages = h.stages.C()
	}

	for updates != nil || alerts != nil || stages != nil {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client, "client disconnected")

		case update, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			h.broadcast(models.MessageTypeStateUpdate, update)
			if h.tracker != nil && update.Device != nil {
				h.tracker.Record(models.StageMarker{
					EventRef: update.Device.DeviceID,
					Family:   update.Device.Family,
					Stage:    models.StageBroadcast,
				})
			}

		case alert, ok := <-alerts:
			if !ok {
				alerts = nil
				continue
			}
			h.broadcast(models.MessageTypeAlert, alert)

		case msg, ok := <-stages:
			if !ok {
				stages = nil
				continue
			}
			if msg.Kind == bus.KindStage && msg.Stage != nil {
				h.broadcast(models.MessageTypePipelineStage, msg.Stage)
			}
		}
	}

	// 上游已全部收尾，关闭所有客户端
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	metrics.ConnectedClients.Set(0)
	close(h.done)
}

// addClient 注册新客户端并排入初始快照
// 快照在 run 循环内构建并入队，后续广播只能排在它后面。
func (h *Hub) addClient(client *Client) {
	data, err := encodeMessage(models.MessageTypeSnapshot, h.snapshotFn())
	if err != nil {
		h.logger.Error("Failed to encode initial snapshot", zap.Error(err))
		close(client.send)
		return
	}

	h.clients[client] = true
	metrics.ConnectedClients.Set(float64(len(h.clients)))
	client.send <- data

	h.logger.Info("Realtime client connected",
		zap.String("client_id", client.id),
		zap.Int("clients", len(h.clients)))
}

func (h *Hub) removeClient(client *Client, reason string) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	metrics.ConnectedClients.Set(float64(len(h.clients)))

	h.logger.Info("Realtime client removed",
		zap.String("client_id", client.id),
		zap.String("reason", reason),
		zap.Int("clients", len(h.clients)))
}

// broadcast 向所有客户端投递一条消息
// 单个客户端队列满只累计其失败次数，达到上限后踢出，
// 不影响其他客户端。
func (h *Hub) broadcast(msgType string, payload interface{}) {
	if len(h.clients) == 0 {
		return
	}

	data, err := encodeMessage(msgType, payload)
	if err != nil {
		h.logger.Error("Failed to encode push message",
			zap.String("type", msgType),
			zap.Error(err))
		return
	}

	for client := range h.clients {
		select {
		case client.send <- data:
			client.failures = 0
		default:
			client.failures++
			if client.failures >= h.failureLimit {
				metrics.ClientEvictions.Inc()
				h.removeClient(client, "send queue overflow")
			}
		}
	}
}

func encodeMessage(msgType string, payload interface{}) ([]byte, error) {
	msg, err := models.NewPushMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}
