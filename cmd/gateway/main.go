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

	"fleetview/internal/gateway"
	"fleetview/pkg/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	etcdEndpoints := flag.String("etcd", "localhost:2379", "Comma-separated etcd endpoints")
	listen := flag.String("listen", ":8087", "Listen address")
	pushInterval := flag.Duration("push-interval", 2*time.Second, "Roster push interval")
	liveness := flag.Duration("liveness", 10*time.Second, "Heartbeat liveness window")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	gin.SetMode(gin.ReleaseMode)

	// 1. 连接 Etcd
	etcdManager, err := store.NewEtcdManager(strings.Split(*etcdEndpoints, ","))
	if err != nil {
		zap.S().Fatalf("Failed to connect to etcd: %v", err)
	}
	defer etcdManager.Close()
	zap.S().Infof("Connected to Etcd successfully.")

	// 2. roster 服务 + 推送 hub
	roster := gateway.NewRoster(etcdManager, *liveness)
	hub := gateway.NewHub(roster, *pushInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// 3. HTTP 服务 (轮询端点 + websocket 升级)
	srv := &http.Server{
		Addr:    *listen,
		Handler: gateway.NewRouter(roster, hub),
	}
	go func() {
		zap.S().Infof("Gateway listening on %s", *listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalf("Gateway server failed: %v", err)
		}
	}()

	// 4. 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zap.S().Infof("Shutting down gateway...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
