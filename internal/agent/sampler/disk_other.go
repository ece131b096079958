//go:build !linux

package sampler

// diskPercent 非 Linux 平台拿不到，恒为 0
func diskPercent() float64 { return 0 }
