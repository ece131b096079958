//go:build linux

package sampler

import "golang.org/x/sys/unix"

// diskPercent 根分区使用率
func diskPercent() float64 {
	var fs unix.Statfs_t
	if err := unix.Statfs("/", &fs); err != nil || fs.Blocks == 0 {
		return 0
	}
	used := float64(fs.Blocks-fs.Bavail) / float64(fs.Blocks) * 100
	return clamp(used)
}
