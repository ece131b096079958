// Package api 展示层的 HTTP 边界：读图模型 + 用户编辑入口
// 真正画框画线的前端不在本仓库范围内，这里只吐数据模型
package api

import (
	"net/http"

	"fleetview/internal/dashboard/engine"
	"fleetview/pkg/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type positionRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type edgeRequest struct {
	Source string `json:"source" binding:"required"`
	Target string `json:"target" binding:"required"`
}

// NewRouter 所有变更最终都进 Engine 的单写队列，和 tick 串行
func NewRouter(eng *engine.Engine) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/topology", func(c *gin.Context) {
			view, err := eng.View(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, view)
		})

		api.POST("/nodes/:id/position", func(c *gin.Context) {
			var req positionRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			id := c.Param("id")
			if err := eng.SetPosition(c.Request.Context(), id, model.Position{X: req.X, Y: req.Y}); err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.Status(http.StatusNoContent)
		})

		api.DELETE("/nodes/:id", func(c *gin.Context) {
			if err := eng.RemoveNode(c.Request.Context(), c.Param("id")); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			c.Status(http.StatusNoContent)
		})

		api.POST("/edges", func(c *gin.Context) {
			var req edgeRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			edge, err := eng.AddEdge(c.Request.Context(), req.Source, req.Target)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusCreated, edge)
		})

		api.DELETE("/edges/:id", func(c *gin.Context) {
			if err := eng.RemoveEdge(c.Request.Context(), c.Param("id")); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			c.Status(http.StatusNoContent)
		})

		api.POST("/reconnect", func(c *gin.Context) {
			eng.Reconnect()
			zap.S().Infof("[API] Manual reconnect triggered")
			c.Status(http.StatusAccepted)
		})

		api.POST("/layout/reset", func(c *gin.Context) {
			if err := eng.ResetLayout(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			zap.S().Infof("[API] Layout reset")
			c.Status(http.StatusNoContent)
		})
	}

	return r
}
