// Package gateway 遥测源端点：把 Etcd 里的节点 roster 通过
// WebSocket 推送 + HTTP 轮询两条路喂给 Dashboard
package gateway

import (
	"context"
	"sort"
	"time"

	"fleetview/pkg/model"
	"fleetview/pkg/store"
)

// defaultLivenessWindow 心跳超过这个窗口的节点视为掉线，不进 roster
const defaultLivenessWindow = 10 * time.Second

// Roster 从存储层读全量节点并过滤掉心跳超时的
// 不管走哪条路，下发的都是完整 roster，绝不是增量
type Roster struct {
	store  store.Store
	window time.Duration
	now    func() time.Time // 测试注入
}

func NewRoster(s store.Store, window time.Duration) *Roster {
	if window <= 0 {
		window = defaultLivenessWindow
	}
	return &Roster{store: s, window: window, now: time.Now}
}

// List 当前存活节点，按 ID 排序保证输出稳定
func (r *Roster) List(ctx context.Context) ([]*model.NodeRecord, error) {
	nodes, err := r.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}

	alive := make([]*model.NodeRecord, 0, len(nodes))
	for _, node := range nodes {
		if !r.checkNode(node) {
			continue
		}
		node.Status = model.NodeReady
		alive = append(alive, node)
	}
	sort.Slice(alive, func(i, j int) bool { return alive[i].ID < alive[j].ID })
	return alive, nil
}

// checkNode 硬性条件：心跳在存活窗口内
func (r *Roster) checkNode(node *model.NodeRecord) bool {
	age := r.now().Unix() - node.LastHeartbeat
	return age <= int64(r.window.Seconds())
}

// Envelope 把 roster 包成下发报文
func (r *Roster) Envelope(ctx context.Context) (*model.Envelope, error) {
	nodes, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return &model.Envelope{Type: model.MsgNodesUpdate, Data: nodes}, nil
}
