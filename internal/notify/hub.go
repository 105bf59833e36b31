// =============================================================================
// 文件: internal/notify/hub.go
// 描述: WebSocket 实时通知广播 - 运维可通过 /traffic 实时查看流量日志
// =============================================================================
package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	hubSendBuffer   = 256
	hubWriteTimeout = 5 * time.Second
	hubPongWait     = 60 * time.Second
	hubPingPeriod   = hubPongWait * 9 / 10
)

// Event 推送给订阅者的消息
type Event struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Hub WebSocket 广播通知器
// 发送队列满的订阅者直接断开，不阻塞调用方
type Hub struct {
	upgrader websocket.Upgrader

	clients map[*hubClient]struct{}
	closed  bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

type hubClient struct {
	conn *websocket.Conn
	send chan Event
	once sync.Once
}

// NewHub 创建广播器
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// Info 广播 info 消息
func (h *Hub) Info(message string) {
	h.broadcast(Event{Level: "info", Message: message, Time: time.Now()})
}

// Error 广播 error 消息
func (h *Hub) Error(message string) {
	h.broadcast(Event{Level: "error", Message: message, Time: time.Now()})
}

// Subscribers 当前订阅者数量
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) {
	h.mu.RLock()
	var slow []*hubClient
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.remove(c)
	}
}

// ServeHTTP 升级为 WebSocket 并注册订阅者
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &hubClient{conn: conn, send: make(chan Event, hubSendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop 发送队列写出，并定期 ping
func (h *Hub) writeLoop(c *hubClient) {
	defer h.wg.Done()
	ticker := time.NewTicker(hubPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop 订阅者只读不写，这里仅用于感知断开
func (h *Hub) readLoop(c *hubClient) {
	defer h.wg.Done()
	defer h.remove(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *hubClient) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
		// writeLoop 发送 close 帧后读端会返回错误；兜底强制关闭
		time.AfterFunc(hubWriteTimeout, func() { _ = c.conn.Close() })
	})
}

// Close 断开所有订阅者
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
		_ = c.conn.Close()
	}
	h.wg.Wait()
}
