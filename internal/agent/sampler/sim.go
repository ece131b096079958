package sampler

import (
	"context"
	"math/rand"
	"time"

	"fleetview/pkg/model"
)

// SimSampler 模拟采样器，开发和 demo 用 (没有 Docker / GPU 的环境也能跑全链路)
// 围绕各自的基准值加噪声，数值看起来像一台真实负载的机器
type SimSampler struct {
	rnd *rand.Rand

	baseCPU  float64
	baseGPU  float64
	baseMem  float64
	baseDisk float64
}

func NewSimSampler(seed int64) *SimSampler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed))
	return &SimSampler{
		rnd:      rnd,
		baseCPU:  20 + rnd.Float64()*50,
		baseGPU:  10 + rnd.Float64()*60,
		baseMem:  35 + rnd.Float64()*30,
		baseDisk: 40 + rnd.Float64()*20,
	}
}

func (s *SimSampler) Sample(ctx context.Context) (model.NodeMetrics, model.ContainerState, error) {
	metrics := model.NodeMetrics{
		CPUPercent:  clamp(s.baseCPU + s.noise(15)),
		GPUPercent:  clamp(s.baseGPU + s.noise(20)),
		MemPercent:  clamp(s.baseMem + s.noise(8)),
		DiskPercent: clamp(s.baseDisk + s.noise(2)),
	}
	// GPU 温度大致跟着利用率走
	metrics.GPUTempC = 35 + metrics.GPUPercent*0.4 + s.noise(3)

	running := 2 + s.rnd.Intn(4)
	state := model.ContainerState{
		Running: running,
		Total:   running + s.rnd.Intn(3),
	}
	return metrics, state, nil
}

func (s *SimSampler) noise(scale float64) float64 {
	return (s.rnd.Float64()*2 - 1) * scale
}
