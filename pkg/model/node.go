package model

// NodeStatus 节点健康状态
type NodeStatus string

const (
	NodeReady   NodeStatus = "READY"
	NodeOffline NodeStatus = "OFFLINE" // 心跳超时
)

// idleThreshold CPU 和 GPU 利用率都低于这个百分比就算空闲
const idleThreshold = 5.0

// NodeMetrics 一次采样得到的资源指标 (利用率都是百分比 0-100)
type NodeMetrics struct {
	CPUPercent  float64 `json:"cpu_percent"`
	GPUPercent  float64 `json:"gpu_percent"`
	GPUTempC    float64 `json:"gpu_temp_c"`
	MemPercent  float64 `json:"mem_percent"`
	DiskPercent float64 `json:"disk_percent"`
}

// ContainerState 节点上容器的概况 (只做展示，不做编排)
type ContainerState struct {
	Running int `json:"running"`
	Total   int `json:"total"`
}

// NodeRecord 单个节点的遥测记录
// Agent 每次心跳整体覆盖写入，Gateway 原样下发，不存在增量更新
type NodeRecord struct {
	ID      string `json:"id"`                // 唯一标识，通常是 Hostname
	Cluster string `json:"cluster,omitempty"` // 逻辑分组标签，可能为空
	IP      string `json:"ip"`
	Version string `json:"version"` // Agent 版本号

	Metrics    NodeMetrics    `json:"metrics"`
	Containers ContainerState `json:"containers"`

	Status        NodeStatus `json:"status"`
	LastHeartbeat int64      `json:"last_heartbeat"` // Unix 时间戳
}

// IsIdle 由当前指标推导，不单独存储
func (n *NodeRecord) IsIdle() bool {
	return n.Metrics.CPUPercent < idleThreshold && n.Metrics.GPUPercent < idleThreshold
}

// Envelope 推送和轮询共用的报文格式
// data 永远是完整 roster：丢一条消息不要紧，下一条会自愈
type Envelope struct {
	Type string        `json:"type"`
	Data []*NodeRecord `json:"data"`
}

// MsgNodesUpdate Envelope.Type 的唯一合法值
const MsgNodesUpdate = "nodes_update"
