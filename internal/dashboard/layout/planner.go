// Package layout 计算拓扑图的平面布局
// 刻意不做力导向/物理布局：确定性 + 不重叠比好看更重要，同样输入永远给同样坐标
package layout

import (
	"regexp"
	"sort"

	"fleetview/pkg/model"
)

// 画布几何常量
// 节点框 240x140，水平间距 40 (步进 280)，垂直间距 60，保证任何规模下包围盒都不可能相交
const (
	NodeWidth   = 240.0
	NodeHeight  = 140.0
	GapX        = 40.0
	GapY        = 60.0
	PerRow      = 4
	CanvasWidth = 1200.0

	// Hub 固定锚点：顶部居中
	HubAnchorX = (CanvasWidth - NodeWidth) / 2
	HubAnchorY = 40.0
)

// overflowBucket 没有匹配到任何已知 cluster 的节点进这个兜底组，排在最后
const overflowBucket = "__overflow__"

// Config 布局参数
type Config struct {
	// HubPattern 命中这个正则的节点 ID 被当作 control-plane 锚点
	HubPattern *regexp.Regexp
	// ClusterOrder cluster 分组的固定优先级，未知 cluster 排最后
	ClusterOrder []string
}

func DefaultConfig() Config {
	return Config{
		HubPattern:   regexp.MustCompile(`(?i)^(spark|master|control)`),
		ClusterOrder: []string{"vision", "navigation", "compute"},
	}
}

type Planner struct {
	cfg Config
}

func New(cfg Config) *Planner {
	if cfg.HubPattern == nil {
		cfg.HubPattern = DefaultConfig().HubPattern
	}
	return &Planner{cfg: cfg}
}

// IsHub 节点是否是 control-plane 锚点 (按名字模式匹配)
func (p *Planner) IsHub(id string) bool {
	return p.cfg.HubPattern.MatchString(id)
}

// NodeType 给图节点定类别：hub -> control-plane，已知 cluster -> worker，其余兜底
func (p *Planner) NodeType(rec *model.NodeRecord) model.NodeType {
	if p.IsHub(rec.ID) {
		return model.TypeControlPlane
	}
	if p.bucketOf(rec.Cluster) == overflowBucket {
		return model.TypeOverflowPool
	}
	return model.TypeWorker
}

// Plan 给每个节点一个坐标
// known 里已有的原样返回 (位置归 TopologyStore 管)，缺的才按网格算新的
// 空节点列表返回空表
func (p *Planner) Plan(nodes []*model.NodeRecord, known map[string]model.Position) map[string]model.Position {
	out := make(map[string]model.Position, len(nodes))
	if len(nodes) == 0 {
		return out
	}

	// 1. 拆出 hub 单例组和剩下的 worker
	workers := make([]*model.NodeRecord, 0, len(nodes))
	for _, rec := range nodes {
		if p.IsHub(rec.ID) {
			if pos, ok := known[rec.ID]; ok {
				out[rec.ID] = pos
			} else {
				out[rec.ID] = model.Position{X: HubAnchorX, Y: HubAnchorY}
			}
			continue
		}
		workers = append(workers, rec)
	}

	// 2. worker 按 cluster 分组，组内按 ID 排序保证确定性
	buckets := make(map[string][]*model.NodeRecord)
	for _, rec := range workers {
		b := p.bucketOf(rec.Cluster)
		buckets[b] = append(buckets[b], rec)
	}
	for _, members := range buckets {
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	}

	// 3. 按固定优先级逐组往下排，Y 游标累加，组和组之间永不重叠
	cursorY := HubAnchorY + NodeHeight + GapY
	for _, bucket := range p.bucketOrder(buckets) {
		members := buckets[bucket]
		for row := 0; row*PerRow < len(members); row++ {
			rowMembers := members[row*PerRow : min(len(members), (row+1)*PerRow)]

			// 每行在画布宽度内水平居中
			rowWidth := float64(len(rowMembers))*NodeWidth + float64(len(rowMembers)-1)*GapX
			startX := (CanvasWidth - rowWidth) / 2

			for i, rec := range rowMembers {
				// known 的坐标原样透传，不参与网格游标
				// 不重叠只对本轮网格分配的格子成立：用户把节点拖到
				// 某个新节点会分到的格子上，两者就会叠在一起
				if pos, ok := known[rec.ID]; ok {
					out[rec.ID] = pos
					continue
				}
				out[rec.ID] = model.Position{
					X: startX + float64(i)*(NodeWidth+GapX),
					Y: cursorY,
				}
			}
			cursorY += NodeHeight + GapY
		}
	}
	return out
}

// bucketOf cluster 标签归到哪个组，不在优先级列表里的统统进兜底组，永不报错
func (p *Planner) bucketOf(cluster string) string {
	for _, c := range p.cfg.ClusterOrder {
		if cluster == c {
			return c
		}
	}
	return overflowBucket
}

// bucketOrder 非空分组按优先级排列，兜底组放最后
func (p *Planner) bucketOrder(buckets map[string][]*model.NodeRecord) []string {
	order := make([]string, 0, len(buckets))
	for _, c := range p.cfg.ClusterOrder {
		if len(buckets[c]) > 0 {
			order = append(order, c)
		}
	}
	if len(buckets[overflowBucket]) > 0 {
		order = append(order, overflowBucket)
	}
	return order
}
