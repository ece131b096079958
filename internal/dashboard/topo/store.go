// Package topo 持有权威的图模型 (节点 + 边 + 位置表) 并负责持久化
//
// 不是并发安全的：所有读写都必须经过 Reconciliation Engine 的单写队列，
// 这里只管状态本身
package topo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fleetview/pkg/model"
	"fleetview/pkg/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// persistTimeout 单次持久化写入的超时，写失败不致命，最多丢最近一次编辑
const persistTimeout = 3 * time.Second

type Store struct {
	backend store.Store

	nodes map[string]*model.GraphNode
	edges map[string]*model.GraphEdge

	// positions 是"这个节点摆过没有"的唯一事实来源
	// 包含恢复进来但还没在 roster 里出现的节点
	positions map[string]model.Position
}

func New(backend store.Store) *Store {
	return &Store{
		backend:   backend,
		nodes:     make(map[string]*model.GraphNode),
		edges:     make(map[string]*model.GraphEdge),
		positions: make(map[string]model.Position),
	}
}

// Restore 启动时调一次，把上一次会话的布局快照读回来
// 返回快照里是否有内容 (决定首个 roster 要不要建默认边)
// 坏数据/读失败一律降级成"没有数据"，绝不挡启动
func (s *Store) Restore(ctx context.Context) bool {
	restored := false

	positions, err := s.backend.LoadPositions(ctx)
	switch {
	case err == store.ErrNotFound:
		// 第一次启动，正常
	case err != nil:
		zap.S().Warnf("[Topo] Failed to restore positions, starting fresh: %v", err)
	case len(positions) > 0:
		s.positions = positions
		restored = true
	}

	edges, err := s.backend.LoadEdges(ctx)
	switch {
	case err == store.ErrNotFound:
	case err != nil:
		zap.S().Warnf("[Topo] Failed to restore edges, starting fresh: %v", err)
	default:
		for i := range edges {
			edge := edges[i]
			s.edges[edge.ID] = &edge
		}
		if len(edges) > 0 {
			restored = true
		}
	}

	zap.S().Infof("[Topo] Restored layout: %d positions, %d edges", len(s.positions), len(s.edges))
	return restored
}

// ---------------------------------------------------------
// Reconciliation 入口
// ---------------------------------------------------------

// UpsertNodes 批量写入节点
// 已存在的只替换 data (位置绝不动)，新节点用 planned 里的坐标建出来
func (s *Store) UpsertNodes(records []*model.NodeRecord, planned map[string]model.Position, typeOf func(*model.NodeRecord) model.NodeType) {
	created := false
	for _, rec := range records {
		if node, ok := s.nodes[rec.ID]; ok {
			node.Data = *rec
			continue
		}
		pos, ok := planned[rec.ID]
		if !ok {
			// 防御：调度进来的记录理应都有坐标
			zap.S().Warnf("[Topo] No planned position for node %s, anchoring at origin", rec.ID)
		}
		s.nodes[rec.ID] = &model.GraphNode{
			ID:       rec.ID,
			Type:     typeOf(rec),
			Position: pos,
			Data:     *rec,
		}
		s.positions[rec.ID] = pos
		created = true
	}
	if created {
		s.persistPositions()
	}
}

// RefreshEdgeActivity 用本 tick 的指标重算每条边的视觉状态
// 纯函数式更新，幂等，不碰位置和拓扑
func (s *Store) RefreshEdgeActivity(metrics map[string]model.NodeMetrics) {
	for _, edge := range s.edges {
		m := metrics[edge.Target] // 目标节点没上报就是零值 -> 熄灭
		level := trafficLevel(m)
		edge.Activity = model.EdgeActivity{
			Active:       level > 0,
			TrafficLevel: level,
		}
	}
}

// trafficLevel 把目标节点的 CPU/GPU 利用率折算成 0-100 的流量强度
// 对两个输入都单调，空闲节点得 0
func trafficLevel(m model.NodeMetrics) int {
	level := int((m.CPUPercent + m.GPUPercent) / 2)
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}

// ---------------------------------------------------------
// 用户编辑入口 (全部立即持久化)
// ---------------------------------------------------------

// SetPosition 用户拖拽落点
func (s *Store) SetPosition(id string, pos model.Position) error {
	node, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("topo: unknown node %q", id)
	}
	node.Position = pos
	s.positions[id] = pos
	s.persistPositions()
	return nil
}

// RemoveNode 显式删除节点，顺带清掉引用它的边 (不留悬空边)
func (s *Store) RemoveNode(id string) {
	if _, ok := s.nodes[id]; !ok {
		return
	}
	delete(s.nodes, id)
	delete(s.positions, id)

	pruned := false
	for edgeID, edge := range s.edges {
		if edge.Source == id || edge.Target == id {
			delete(s.edges, edgeID)
			pruned = true
		}
	}

	s.persistPositions()
	if pruned {
		s.persistEdges()
	}
}

// AddEdge 用户手拉一条连线，两端必须都是现存节点
func (s *Store) AddEdge(source, target string) (*model.GraphEdge, error) {
	if _, ok := s.nodes[source]; !ok {
		return nil, fmt.Errorf("topo: unknown source node %q", source)
	}
	if _, ok := s.nodes[target]; !ok {
		return nil, fmt.Errorf("topo: unknown target node %q", target)
	}
	edge := &model.GraphEdge{
		ID:     uuid.New().String(),
		Source: source,
		Target: target,
	}
	s.edges[edge.ID] = edge
	s.persistEdges()
	copied := *edge
	return &copied, nil
}

func (s *Store) RemoveEdge(id string) {
	if _, ok := s.edges[id]; !ok {
		return
	}
	delete(s.edges, id)
	s.persistEdges()
}

// ResetLayout 清空全部节点/边/位置并持久化空表
// 下一个 tick 会像首次启动一样重新排版 + 重建默认边
func (s *Store) ResetLayout() {
	s.nodes = make(map[string]*model.GraphNode)
	s.edges = make(map[string]*model.GraphEdge)
	s.positions = make(map[string]model.Position)
	s.persistPositions()
	s.persistEdges()
}

// ---------------------------------------------------------
// 读接口 (都返回拷贝，调用方随便用)
// ---------------------------------------------------------

func (s *Store) HasNode(id string) bool {
	_, ok := s.nodes[id]
	return ok
}

func (s *Store) NodeCount() int { return len(s.nodes) }

// NodeIDs 当前图里所有节点 ID 的集合 (diff 用)
func (s *Store) NodeIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.nodes))
	for id := range s.nodes {
		ids[id] = struct{}{}
	}
	return ids
}

// KnownPositions 位置表的拷贝 (Layout 的 known 输入)
func (s *Store) KnownPositions() map[string]model.Position {
	out := make(map[string]model.Position, len(s.positions))
	for id, pos := range s.positions {
		out[id] = pos
	}
	return out
}

// Nodes 按 ID 排序的节点快照
func (s *Store) Nodes() []model.GraphNode {
	out := make([]model.GraphNode, 0, len(s.nodes))
	for _, node := range s.nodes {
		out = append(out, *node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges 按 ID 排序的边快照
func (s *Store) Edges() []model.GraphEdge {
	out := make([]model.GraphEdge, 0, len(s.edges))
	for _, edge := range s.edges {
		out = append(out, *edge)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot 当前布局的可序列化快照 (Restore 的逆操作)
func (s *Store) Snapshot() model.LayoutSnapshot {
	return model.LayoutSnapshot{
		Positions: s.KnownPositions(),
		Edges:     s.Edges(),
	}
}

// ---------------------------------------------------------
// 持久化 (写失败只记日志)
// ---------------------------------------------------------

func (s *Store) persistPositions() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.backend.SavePositions(ctx, s.positions); err != nil {
		zap.S().Warnf("[Topo] Failed to persist positions: %v", err)
	}
}

func (s *Store) persistEdges() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.backend.SaveEdges(ctx, s.Edges()); err != nil {
		zap.S().Warnf("[Topo] Failed to persist edges: %v", err)
	}
}
