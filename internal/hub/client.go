package hub

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second // 单帧写超时
	pongWait  = 60 * time.Second // 未收到 pong 的最长容忍时间
	// ping 间隔必须小于 pongWait，否则连接会被误判为失活
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 // 客户端只发保活帧，入站帧不应超过该大小
)

// Client 一个已接入的仪表盘连接
// send 队列由 run 循环写入、writePump 消费；failures 只被 run 循环访问。
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	failures int
}

// ServeWS 处理实时客户端的 WebSocket 接入
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	client := &Client{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.queueSize),
	}

	select {
	case h.register <- client:
	case <-h.done:
		// 枢纽已停机，直接拒绝
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump 消费入站帧
// 正常运行时客户端只发 ping/pong 保活，入站载荷一律丢弃；
// 读出错即视为断开，通知枢纽注销。
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump 把 send 队列写到连接上，并按周期发 ping 保活
// send 被枢纽关闭时下发 close 帧后退出。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
