package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPushInterval = 2 * time.Second
	writeTimeout        = 5 * time.Second
)

// Hub 管理所有推送订阅方，按固定间隔把完整 roster 广播出去
type Hub struct {
	roster   *Roster
	interval time.Duration

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewHub(roster *Roster, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = defaultPushInterval
	}
	return &Hub{
		roster:   roster,
		interval: interval,
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// Run 广播主循环，阻塞到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	zap.S().Infof("[Gateway] Hub started, pushing roster every %s", h.interval)
	for {
		select {
		case <-ticker.C:
			h.broadcast(ctx)
		case <-ctx.Done():
			h.closeAll()
			zap.S().Infof("[Gateway] Hub stopped")
			return
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	zap.S().Infof("[Gateway] Dashboard subscribed, %d active", count)
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) broadcast(ctx context.Context) {
	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	env, err := h.roster.Envelope(ctx)
	if err != nil {
		zap.S().Warnf("[Gateway] Failed to build roster envelope: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(env); err != nil {
			// 写失败就当订阅方已经走了
			zap.S().Infof("[Gateway] Dropping dead subscriber: %v", err)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
