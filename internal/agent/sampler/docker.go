package sampler

import (
	"context"
	"encoding/json"

	"fleetview/pkg/model"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

// DockerSampler 从本地 Docker daemon 采容器状态和资源占用
// CPU/内存是所有运行中容器的合计，近似当作节点负载
// GPU 利用率 Docker 看不到，这里恒为 0
// TODO: 接 NVML 上报真实 GPU 利用率和温度
type DockerSampler struct {
	cli *client.Client
}

// NewDockerSampler 自动从环境变量或默认路径连接本地 Docker
func NewDockerSampler() (*DockerSampler, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithVersion("1.44"))
	if err != nil {
		return nil, err
	}
	return &DockerSampler{cli: cli}, nil
}

func (d *DockerSampler) Sample(ctx context.Context) (model.NodeMetrics, model.ContainerState, error) {
	var metrics model.NodeMetrics
	var state model.ContainerState

	containers, err := d.cli.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return metrics, state, err
	}

	state.Total = len(containers)

	var cpuSum, memUsed, memLimit float64
	for _, ctr := range containers {
		if ctr.State != "running" {
			continue
		}
		state.Running++

		cpu, used, limit, err := d.statsOf(ctx, ctr.ID)
		if err != nil {
			// 单个容器采不到不挡整体
			zap.S().Debugf("[Sampler] Failed to stat container %.12s: %v", ctr.ID, err)
			continue
		}
		cpuSum += cpu
		memUsed += used
		if limit > memLimit {
			// 没配 limit 的容器这里拿到的是宿主机内存总量
			memLimit = limit
		}
	}

	metrics.CPUPercent = clamp(cpuSum)
	if memLimit > 0 {
		metrics.MemPercent = clamp(memUsed / memLimit * 100)
	}
	metrics.DiskPercent = diskPercent()
	return metrics, state, nil
}

// statsOf 单个容器的一次性 stats (非流式，daemon 会采两轮填好 precpu)
func (d *DockerSampler) statsOf(ctx context.Context, id string) (cpuPct, memUsed, memLimit float64, err error) {
	resp, err := d.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return 0, 0, 0, err
	}
	defer resp.Body.Close()

	var s types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return 0, 0, 0, err
	}

	// Docker 官方 CLI 的 CPU 百分比算法
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if sysDelta > 0 && cpuDelta > 0 {
		onlineCPUs := float64(s.CPUStats.OnlineCPUs)
		if onlineCPUs == 0 {
			onlineCPUs = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
		}
		cpuPct = cpuDelta / sysDelta * onlineCPUs * 100
	}

	return cpuPct, float64(s.MemoryStats.Usage), float64(s.MemoryStats.Limit), nil
}
