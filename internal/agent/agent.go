// Package agent 跑在每台机器上的遥测上报端
package agent

import (
	"context"
	"os"
	"time"

	"fleetview/internal/agent/sampler"
	"fleetview/pkg/model"
	"fleetview/pkg/store"

	"go.uber.org/zap"
)

const defaultHeartbeat = 3 * time.Second

// Version Agent 版本号，随记录上报
const Version = "v1.0"

type Agent struct {
	ID      string
	Cluster string
	IP      string

	store     store.Store
	sampler   sampler.Sampler
	heartbeat time.Duration
}

func NewAgent(s store.Store, smp sampler.Sampler, id, cluster, ip string, heartbeat time.Duration) *Agent {
	if id == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "fleet-node-01"
		}
		id = hostname
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Agent{
		ID:        id,
		Cluster:   cluster,
		IP:        ip,
		store:     s,
		sampler:   smp,
		heartbeat: heartbeat,
	}
}

// Run 心跳主循环：采样 -> 整条记录覆盖写入，阻塞到 ctx 结束
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()

	zap.S().Infof("[Agent] %s reporting every %s (cluster=%q)", a.ID, a.heartbeat, a.Cluster)
	a.report(ctx)
	for {
		select {
		case <-ticker.C:
			a.report(ctx)
		case <-ctx.Done():
			zap.S().Infof("[Agent] %s stopped", a.ID)
			return
		}
	}
}

func (a *Agent) report(ctx context.Context) {
	metrics, containers, err := a.sampler.Sample(ctx)
	if err != nil {
		// 采样失败跳过本次心跳，下次再试；节点会因心跳变老暂时掉出 roster
		zap.S().Warnf("[Agent] Sampling failed, skipping heartbeat: %v", err)
		return
	}

	record := &model.NodeRecord{
		ID:            a.ID,
		Cluster:       a.Cluster,
		IP:            a.IP,
		Version:       Version,
		Metrics:       metrics,
		Containers:    containers,
		Status:        model.NodeReady,
		LastHeartbeat: time.Now().Unix(),
	}
	if err := a.store.ReportNode(ctx, record); err != nil {
		zap.S().Warnf("[Agent] Failed to report node: %v", err)
	}
}
