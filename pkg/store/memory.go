package store

import (
	"context"
	"encoding/json"
	"sync"

	"fleetview/pkg/model"
)

// MemoryStore 内存版 Store，给测试和不带 Etcd 的单机 demo 用
// 布局快照走一遍 JSON，行为和 Etcd 实现保持一致 (包括坏数据的表现)
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*model.NodeRecord
	blobs map[string][]byte // key -> JSON
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]*model.NodeRecord),
		blobs: make(map[string][]byte),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) ReportNode(ctx context.Context, node *model.NodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *node
	m.nodes[node.ID] = &copied
	return nil
}

func (m *MemoryStore) ListNodes(ctx context.Context) ([]*model.NodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nodes := make([]*model.NodeRecord, 0, len(m.nodes))
	for _, n := range m.nodes {
		copied := *n
		nodes = append(nodes, &copied)
	}
	return nodes, nil
}

func (m *MemoryStore) SavePositions(ctx context.Context, positions map[string]model.Position) error {
	return m.putBlob(PositionsKey, positions)
}

func (m *MemoryStore) LoadPositions(ctx context.Context) (map[string]model.Position, error) {
	var positions map[string]model.Position
	if err := m.getBlob(PositionsKey, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

func (m *MemoryStore) SaveEdges(ctx context.Context, edges []model.GraphEdge) error {
	return m.putBlob(EdgesKey, edges)
}

func (m *MemoryStore) LoadEdges(ctx context.Context) ([]model.GraphEdge, error) {
	var edges []model.GraphEdge
	if err := m.getBlob(EdgesKey, &edges); err != nil {
		return nil, err
	}
	return edges, nil
}

// Corrupt 往指定 key 里塞坏数据，测试恢复路径用
func (m *MemoryStore) Corrupt(key string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = raw
}

func (m *MemoryStore) putBlob(key string, val interface{}) error {
	bytes, err := json.Marshal(val)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = bytes
	return nil
}

func (m *MemoryStore) getBlob(key string, out interface{}) error {
	m.mu.RLock()
	raw, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}
