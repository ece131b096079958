// Package sampler 节点本地的指标采集
package sampler

import (
	"context"

	"fleetview/pkg/model"
)

// Sampler 一次采样拿回资源指标 + 容器概况
// Agent 每次心跳调一次；出错时返回已经采到的部分 + error，调用方自己决定要不要上报
type Sampler interface {
	Sample(ctx context.Context) (model.NodeMetrics, model.ContainerState, error)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
