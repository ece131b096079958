package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fleetview/internal/dashboard/api"
	"fleetview/internal/dashboard/engine"
	"fleetview/internal/dashboard/layout"
	"fleetview/internal/dashboard/topo"
	"fleetview/internal/dashboard/transport"
	"fleetview/pkg/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	etcdEndpoints := flag.String("etcd", "localhost:2379", "Comma-separated etcd endpoints (layout persistence)")
	gatewayURL := flag.String("gateway", "http://localhost:8087", "Telemetry gateway base URL")
	listen := flag.String("listen", ":8088", "Presentation API listen address")
	missThreshold := flag.Int("miss-threshold", 2, "Consecutive absent ticks before a node is removed")
	memory := flag.Bool("memory", false, "Keep layout in memory only (no etcd)")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	gin.SetMode(gin.ReleaseMode)

	// 1. 布局持久化后端
	var backend store.Store
	if *memory {
		backend = store.NewMemoryStore()
	} else {
		etcdManager, err := store.NewEtcdManager(strings.Split(*etcdEndpoints, ","))
		if err != nil {
			zap.S().Fatalf("Failed to connect to etcd: %v", err)
		}
		backend = etcdManager
	}
	defer backend.Close()

	// 2. 拼引擎：拓扑仓库 + 布局 + 传输通道
	topoStore := topo.New(backend)
	planner := layout.New(layout.DefaultConfig())
	channel := transport.New(transport.Config{
		PushURL: wsURL(*gatewayURL) + "/ws",
		PollURL: *gatewayURL + "/api/nodes",
	})
	eng := engine.New(engine.Config{MissThreshold: *missThreshold}, topoStore, planner, channel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 先恢复上次会话的布局，再放 tick 进来
	eng.Bootstrap(ctx)
	go eng.Run(ctx)

	// 4. 展示层 API
	srv := &http.Server{
		Addr:    *listen,
		Handler: api.NewRouter(eng),
	}
	go func() {
		zap.S().Infof("Dashboard API listening on %s (gateway %s)", *listen, *gatewayURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalf("Dashboard server failed: %v", err)
		}
	}()

	// 5. 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zap.S().Infof("Shutting down dashboard...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

// wsURL http(s):// 换成 ws(s)://
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
