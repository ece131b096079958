// Package diff 对比前后两次 roster，算出增删改
package diff

import "fleetview/pkg/model"

// Result 一次 roster 对比的结果
type Result struct {
	Added      []*model.NodeRecord // 新出现的节点
	Kept       []*model.NodeRecord // 两边都有的节点 (数据已是最新)
	RemovedIDs map[string]struct{} // 本次 roster 里消失的 ID
}

// Rosters 纯函数，无副作用，每个 tick 调一次
// current 必须是完整 roster (不是增量)，这是整个 diff 逻辑成立的前提
func Rosters(previous map[string]struct{}, current []*model.NodeRecord) Result {
	result := Result{
		Added:      make([]*model.NodeRecord, 0),
		Kept:       make([]*model.NodeRecord, 0, len(current)),
		RemovedIDs: make(map[string]struct{}),
	}

	seen := make(map[string]struct{}, len(current))
	for _, rec := range current {
		seen[rec.ID] = struct{}{}
		if _, ok := previous[rec.ID]; ok {
			result.Kept = append(result.Kept, rec)
		} else {
			result.Added = append(result.Added, rec)
		}
	}

	for id := range previous {
		if _, ok := seen[id]; !ok {
			result.RemovedIDs[id] = struct{}{}
		}
	}
	return result
}
