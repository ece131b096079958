package model

// NodeType 图节点类别
type NodeType string

const (
	TypeControlPlane NodeType = "control-plane"
	TypeWorker       NodeType = "worker"
	TypeOverflowPool NodeType = "overflow-pool" // 没有匹配到任何已知 cluster 的兜底组
)

// Position 画布平面坐标
// 一旦被赋值就归 TopologyStore 管，Layout 只对没有坐标的节点提建议
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EdgeActivity 边的视觉状态
// 每个 tick 由目标节点的当前指标重算，不跨 tick 保留任何独立状态
type EdgeActivity struct {
	Active       bool `json:"active"`
	TrafficLevel int  `json:"traffic_level"` // 0-100
}

// GraphNode 拓扑图里的一台机器
type GraphNode struct {
	ID       string     `json:"id"` // 等于 NodeRecord.ID
	Type     NodeType   `json:"type"`
	Position Position   `json:"position"`
	Data     NodeRecord `json:"data"`
}

// GraphEdge 两台机器之间的逻辑连线
type GraphEdge struct {
	ID       string       `json:"id"`
	Source   string       `json:"source"`
	Target   string       `json:"target"`
	Activity EdgeActivity `json:"activity"`
}

// LayoutSnapshot 持久化的布局快照：位置表 + 边表
// 这是"节点是否已经摆过"的唯一事实来源，跨会话存活
type LayoutSnapshot struct {
	Positions map[string]Position `json:"positions"`
	Edges     []GraphEdge         `json:"edges"`
}
