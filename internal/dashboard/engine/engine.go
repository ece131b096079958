// Package engine 每个遥测 tick 驱动一轮 reconciliation
//
// 难点只有两条铁律：吵闹的实时数据流绝不能碰用户手动摆好的布局；
// 真正离场的节点又必须最终被移除 (缺席两个连续 tick 才算数)
package engine

import (
	"context"
	"time"

	"fleetview/internal/dashboard/diff"
	"fleetview/internal/dashboard/layout"
	"fleetview/internal/dashboard/topo"
	"fleetview/internal/dashboard/transport"
	"fleetview/pkg/model"

	"go.uber.org/zap"
)

// defaultMissThreshold 连续缺席几个 tick 才删节点
// 这是个调优参数不是定律：调小布局跟得紧，调大更抗心跳抖动
const defaultMissThreshold = 2

type Config struct {
	MissThreshold int
}

func (c *Config) applyDefaults() {
	if c.MissThreshold <= 0 {
		c.MissThreshold = defaultMissThreshold
	}
}

// View 每个 tick 对展示层暴露的全部内容
type View struct {
	Nodes      []model.GraphNode `json:"nodes"`
	Edges      []model.GraphEdge `json:"edges"`
	Connected  bool              `json:"connected"`
	LastUpdate time.Time         `json:"last_update"`
}

type op struct {
	run  func()
	done chan struct{}
}

// Engine 单写者：tick 和用户编辑都排进同一条 ops 队列，严格串行
// 所以 topo.Store 不需要自己的锁，每轮 reconciliation 读到的
// 一定是包含刚落地的用户编辑在内的最新状态
type Engine struct {
	cfg     Config
	topo    *topo.Store
	planner *layout.Planner
	channel *transport.Channel

	ops chan op

	// missed 节点连续缺席的 tick 数 (debounce 状态)
	missed map[string]int

	// needDefaultEdges 首个成功 roster 要不要自动建 hub->worker 边
	// 只有全新启动 (没恢复到任何快照) 和 reset 之后才为 true
	needDefaultEdges bool
}

func New(cfg Config, topoStore *topo.Store, planner *layout.Planner, channel *transport.Channel) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:     cfg,
		topo:    topoStore,
		planner: planner,
		channel: channel,
		ops:     make(chan op, 32),
		missed:  make(map[string]int),
	}
	if channel != nil {
		channel.Subscribe(e.enqueueRoster)
	}
	return e
}

// Bootstrap 启动时调一次：恢复持久化布局，决定要不要建默认边
// 必须发生在第一轮 reconciliation 之前
func (e *Engine) Bootstrap(ctx context.Context) {
	restored := e.topo.Restore(ctx)
	e.needDefaultEdges = !restored
}

// Run 事件主循环，阻塞到 ctx 结束；结束时拆掉传输通道，之后不再有 tick
func (e *Engine) Run(ctx context.Context) {
	if e.channel != nil {
		e.channel.Start(ctx)
		defer e.channel.Stop()
	}
	zap.S().Infof("[Engine] Started, waiting for telemetry ticks...")

	for {
		select {
		case o := <-e.ops:
			o.run()
			close(o.done)
		case <-ctx.Done():
			zap.S().Infof("[Engine] Stopped")
			return
		}
	}
}

// enqueueRoster 传输层回调：把 tick 排进队列
// 队列满就丢弃这一个 tick，roster 是全量的，下一个 tick 自动补齐
func (e *Engine) enqueueRoster(records []*model.NodeRecord) {
	o := op{
		run:  func() { e.reconcile(records) },
		done: make(chan struct{}),
	}
	select {
	case e.ops <- o:
	default:
		zap.S().Warnf("[Engine] Tick queue full, dropping roster of %d nodes", len(records))
	}
}

// do 把一个操作排进单写队列并等它执行完
func (e *Engine) do(ctx context.Context, f func()) error {
	o := op{run: f, done: make(chan struct{})}
	select {
	case e.ops <- o:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------
// Reconciliation (每 tick 一轮)
// ---------------------------------------------------------

func (e *Engine) reconcile(records []*model.NodeRecord) {
	d := diff.Rosters(e.topo.NodeIDs(), records)

	// 只有真正的新节点才找 Layout 要坐标
	// 把完整的已知位置表喂进去，已经摆好的兄弟节点会被原样尊重
	if len(d.Added) > 0 {
		planned := e.planner.Plan(records, e.topo.KnownPositions())
		e.topo.UpsertNodes(d.Added, planned, e.planner.NodeType)
	}

	// 已有节点只刷 data，位置永远不重算
	e.topo.UpsertNodes(d.Kept, nil, e.planner.NodeType)

	// 缺席一次当心跳抖动放过，连续缺席到阈值才动手删 (连带悬空边)
	for _, rec := range records {
		delete(e.missed, rec.ID)
	}
	for id := range d.RemovedIDs {
		e.missed[id]++
		if e.missed[id] >= e.cfg.MissThreshold {
			zap.S().Infof("[Engine] Node %s absent for %d consecutive ticks, removing", id, e.missed[id])
			e.topo.RemoveNode(id)
			delete(e.missed, id)
		}
	}
	for id := range e.missed {
		if !e.topo.HasNode(id) {
			delete(e.missed, id)
		}
	}

	// 首个成功 roster：从 hub 往每个 worker 拉一条默认边
	if e.needDefaultEdges && len(records) > 0 {
		e.createDefaultEdges(records)
		e.needDefaultEdges = false
	}

	// 最后用本 tick 的指标刷边的视觉状态
	metrics := make(map[string]model.NodeMetrics, len(records))
	for _, rec := range records {
		metrics[rec.ID] = rec.Metrics
	}
	e.topo.RefreshEdgeActivity(metrics)
}

func (e *Engine) createDefaultEdges(records []*model.NodeRecord) {
	var hub string
	for _, rec := range records {
		if e.planner.IsHub(rec.ID) {
			hub = rec.ID
			break
		}
	}
	if hub == "" {
		zap.S().Warnf("[Engine] First roster has no hub node, skipping default edges")
		return
	}

	count := 0
	for _, rec := range records {
		if rec.ID == hub {
			continue
		}
		if _, err := e.topo.AddEdge(hub, rec.ID); err != nil {
			zap.S().Warnf("[Engine] Failed to create default edge %s -> %s: %v", hub, rec.ID, err)
			continue
		}
		count++
	}
	zap.S().Infof("[Engine] Created %d default edges from hub %s", count, hub)
}

// ---------------------------------------------------------
// 展示层入口 (全部经过单写队列，和 tick 严格串行)
// ---------------------------------------------------------

// View 当前图模型 + 连通状态的快照
func (e *Engine) View(ctx context.Context) (View, error) {
	var v View
	err := e.do(ctx, func() {
		v.Nodes = e.topo.Nodes()
		v.Edges = e.topo.Edges()
		if e.channel != nil {
			v.Connected, v.LastUpdate = e.channel.Status()
		}
	})
	return v, err
}

// SetPosition 用户拖拽
func (e *Engine) SetPosition(ctx context.Context, id string, pos model.Position) error {
	var opErr error
	if err := e.do(ctx, func() { opErr = e.topo.SetPosition(id, pos) }); err != nil {
		return err
	}
	return opErr
}

// AddEdge 用户手动连线
func (e *Engine) AddEdge(ctx context.Context, source, target string) (*model.GraphEdge, error) {
	var (
		edge  *model.GraphEdge
		opErr error
	)
	if err := e.do(ctx, func() { edge, opErr = e.topo.AddEdge(source, target) }); err != nil {
		return nil, err
	}
	return edge, opErr
}

// RemoveEdge 用户删除连线
func (e *Engine) RemoveEdge(ctx context.Context, id string) error {
	return e.do(ctx, func() { e.topo.RemoveEdge(id) })
}

// RemoveNode 用户显式删除节点
func (e *Engine) RemoveNode(ctx context.Context, id string) error {
	return e.do(ctx, func() { e.topo.RemoveNode(id) })
}

// ResetLayout 清空布局重来：下一个 tick 全员重新排版 + 重建默认边
func (e *Engine) ResetLayout(ctx context.Context) error {
	return e.do(ctx, func() {
		e.topo.ResetLayout()
		e.missed = make(map[string]int)
		e.needDefaultEdges = true
	})
}

// Reconnect 手动重连 (传输层自己有锁，不用过队列)
func (e *Engine) Reconnect() {
	if e.channel != nil {
		e.channel.Reconnect()
	}
}
