package store

import (
	"context"
	"errors"

	"fleetview/pkg/model"
)

// ErrNotFound key 不存在时返回，调用方自行决定是否当空数据处理
var ErrNotFound = errors.New("store: key not found")

// Store 接口定义了系统对存储层的所有需求
// 任何实现了这个接口的 Struct (比如 EtcdManager) 都可以被注入进来
type Store interface {
	// --- 节点 roster (Agent 写，Gateway 读) ---

	// ReportNode 节点心跳上报 (整条记录覆盖写)
	ReportNode(ctx context.Context, node *model.NodeRecord) error

	// ListNodes 获取所有上报过的节点
	ListNodes(ctx context.Context) ([]*model.NodeRecord, error)

	// --- 布局快照 (Dashboard 写/读，两个逻辑 key：位置表 + 边表) ---
	// 读失败要能容忍 (当没有数据)，写失败不致命，最多丢最近一次编辑

	SavePositions(ctx context.Context, positions map[string]model.Position) error
	LoadPositions(ctx context.Context) (map[string]model.Position, error)

	SaveEdges(ctx context.Context, edges []model.GraphEdge) error
	LoadEdges(ctx context.Context) ([]model.GraphEdge, error)

	Close() error
}
