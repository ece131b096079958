package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fleetview/internal/agent"
	"fleetview/internal/agent/sampler"
	"fleetview/pkg/store"

	"go.uber.org/zap"
)

func main() {
	etcdEndpoints := flag.String("etcd", "localhost:2379", "Comma-separated etcd endpoints")
	nodeID := flag.String("id", "", "Node ID (defaults to hostname)")
	cluster := flag.String("cluster", "", "Logical cluster label, e.g. vision")
	ip := flag.String("ip", "127.0.0.1", "Node IP to report")
	interval := flag.Duration("interval", 3*time.Second, "Heartbeat interval")
	sim := flag.Bool("sim", false, "Use simulated sampler instead of Docker")
	seed := flag.Int64("seed", 0, "Seed for the simulated sampler")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	// 1. 连接 Etcd
	etcdManager, err := store.NewEtcdManager(strings.Split(*etcdEndpoints, ","))
	if err != nil {
		zap.S().Fatalf("Failed to connect to etcd: %v", err)
	}
	defer etcdManager.Close()

	// 2. 选采样器：没有 Docker 的环境用 -sim 跑模拟数据
	var smp sampler.Sampler
	if *sim {
		smp = sampler.NewSimSampler(*seed)
	} else {
		smp, err = sampler.NewDockerSampler()
		if err != nil {
			zap.S().Fatalf("Failed to init docker sampler (try -sim): %v", err)
		}
	}

	// 3. 启动 Agent
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := agent.NewAgent(etcdManager, smp, *nodeID, *cluster, *ip, *interval)
	go a.Run(ctx)

	// 4. 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zap.S().Infof("Shutting down agent...")
}
