package store

import (
	"context"
	"encoding/json"
	"time"

	"fleetview/pkg/model"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// 定义 Key 的前缀 (Schema Design)
const (
	NodeKeyPrefix = "/fleetview/nodes/"
	PositionsKey  = "/fleetview/layout/positions"
	EdgesKey      = "/fleetview/layout/edges"
)

type EtcdManager struct {
	client *clientv3.Client
}

// NewEtcdManager 初始化 Etcd 连接
func NewEtcdManager(endpoints []string) (*EtcdManager, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdManager{client: cli}, nil
}

func (e *EtcdManager) Close() error {
	return e.client.Close()
}

// ---------------------------------------------------------
// Roster 相关实现
// ---------------------------------------------------------

func (e *EtcdManager) ReportNode(ctx context.Context, node *model.NodeRecord) error {
	key := NodeKeyPrefix + node.ID
	return e.putValue(ctx, key, node)
}

func (e *EtcdManager) ListNodes(ctx context.Context) ([]*model.NodeRecord, error) {
	// 获取 /fleetview/nodes/ 下的所有 Key
	resp, err := e.client.Get(ctx, NodeKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	nodes := make([]*model.NodeRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var node model.NodeRecord
		if err := json.Unmarshal(kv.Value, &node); err != nil {
			zap.S().Warnf("[Etcd] Failed to unmarshal node %s: %v", kv.Key, err)
			continue
		}
		nodes = append(nodes, &node)
	}
	return nodes, nil
}

// ---------------------------------------------------------
// 布局快照相关实现
// ---------------------------------------------------------

func (e *EtcdManager) SavePositions(ctx context.Context, positions map[string]model.Position) error {
	return e.putValue(ctx, PositionsKey, positions)
}

func (e *EtcdManager) LoadPositions(ctx context.Context) (map[string]model.Position, error) {
	var positions map[string]model.Position
	if err := e.getValue(ctx, PositionsKey, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

func (e *EtcdManager) SaveEdges(ctx context.Context, edges []model.GraphEdge) error {
	return e.putValue(ctx, EdgesKey, edges)
}

func (e *EtcdManager) LoadEdges(ctx context.Context) ([]model.GraphEdge, error) {
	var edges []model.GraphEdge
	if err := e.getValue(ctx, EdgesKey, &edges); err != nil {
		return nil, err
	}
	return edges, nil
}

// ---------------------------------------------------------
// 辅助方法 (Helpers)
// ---------------------------------------------------------

// putValue 封装通用的 JSON 序列化 + Put 操作
func (e *EtcdManager) putValue(ctx context.Context, key string, val interface{}) error {
	bytes, err := json.Marshal(val)
	if err != nil {
		return err
	}
	_, err = e.client.Put(ctx, key, string(bytes))
	return err
}

// getValue 封装通用的 Get + JSON 反序列化，key 不存在返回 ErrNotFound
func (e *EtcdManager) getValue(ctx context.Context, key string, out interface{}) error {
	resp, err := e.client.Get(ctx, key)
	if err != nil {
		return err
	}
	if len(resp.Kvs) == 0 {
		return ErrNotFound
	}
	return json.Unmarshal(resp.Kvs[0].Value, out)
}
