package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewRouter 两个端点：GET /api/nodes 同步拉全量 roster，GET /ws 订阅推送
func NewRouter(roster *Roster, hub *Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/nodes", func(c *gin.Context) {
		env, err := roster.Envelope(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, env)
	})

	r.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			zap.S().Errorf("[Gateway] Failed to upgrade websocket: %v", err)
			return
		}
		hub.register(conn)

		// 订阅方不该发东西，这个循环只为感知断开
		go func() {
			defer hub.unregister(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					zap.S().Infof("[Gateway] Dashboard disconnected: %v", err)
					return
				}
			}
		}()
	})

	return r
}
