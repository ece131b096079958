// Package transport 维护到遥测源的唯一一条逻辑数据通路
//
// 优先走 WebSocket 推送，连续失败 FailureThreshold 次以后退化成定时轮询，
// 之后周期性尝试升回推送。状态机保证任何时刻最多只有一条活跃数据通路，
// 推和拉绝不同时工作，避免重复/冲突的更新
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fleetview/pkg/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State 通道状态机的命名状态
// CONNECTING -> CONNECTED -> DISCONNECTED -> (RECONNECTING | POLLING) -> CONNECTED
type State string

const (
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateDisconnected State = "DISCONNECTED"
	StateReconnecting State = "RECONNECTING"
	StatePolling      State = "POLLING"
)

const (
	defaultFailureThreshold = 2
	defaultBackoff          = 2 * time.Second
	defaultPollInterval     = 2 * time.Second
	defaultHandshakeTimeout = 5 * time.Second
	defaultPromoteInterval  = 30 * time.Second
)

// RosterFunc 每次成功收到完整 roster 时回调 (唯一订阅者)
type RosterFunc func(records []*model.NodeRecord)

// Conn 推送连接的最小接口，*websocket.Conn 直接满足
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// DialFunc 建立一条推送连接，ctx 带了握手超时；测试可以注入假实现
type DialFunc func(ctx context.Context) (Conn, error)

// FetchFunc 同步拉一次完整 roster
type FetchFunc func(ctx context.Context) ([]*model.NodeRecord, error)

type Config struct {
	PushURL string // ws://host/ws
	PollURL string // http://host/api/nodes

	FailureThreshold int           // 连续失败多少次退化成轮询，默认 2
	ReconnectBackoff time.Duration // 失败后重试推送的间隔，默认 2s
	PollInterval     time.Duration // 轮询间隔，默认 2s
	HandshakeTimeout time.Duration // 握手超时，超时按一次失败计
	PromoteInterval  time.Duration // 轮询模式下多久试一次升回推送，默认 30s，<0 关闭

	// Dial / Fetch 留空用默认实现 (gorilla websocket / net/http)
	Dial  DialFunc
	Fetch FetchFunc
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = defaultBackoff
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.PromoteInterval == 0 {
		c.PromoteInterval = defaultPromoteInterval
	}
	if c.Dial == nil {
		c.Dial = defaultDial(c.PushURL, c.HandshakeTimeout)
	}
	if c.Fetch == nil {
		c.Fetch = defaultFetch(c.PollURL)
	}
}

type Channel struct {
	cfg      Config
	onRoster RosterFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	failures   int
	connected  bool
	lastUpdate time.Time
	conn       Conn
	closed     bool

	// gen 数据通路的代数，每次通路被换掉就 +1
	// 被淘汰的 readLoop / 定时器醒来时发现代数对不上就直接退出
	gen int

	retryTimer   *time.Timer
	promoteTimer *time.Timer
	pollCancel   context.CancelFunc
}

func New(cfg Config) *Channel {
	cfg.applyDefaults()
	return &Channel{
		cfg:   cfg,
		state: StateConnecting,
	}
}

// Subscribe 注册唯一的订阅者，必须在 Start 之前调用
func (c *Channel) Subscribe(fn RosterFunc) {
	c.onRoster = fn
}

// Start 发起首次推送握手，立即返回
func (c *Channel) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	go c.connect(gen)
}

// Stop 拆除视图时调用：停掉所有定时器、关掉连接，之后不会再有任何 tick
func (c *Channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	c.stopTimersLocked()
	c.stopPollingLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
}

// Reconnect 手动重连：失败计数清零，拆掉现有通路，从推送重新开始
func (c *Channel) Reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.failures = 0
	c.stopTimersLocked()
	c.stopPollingLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	zap.S().Infof("[Transport] Manual reconnect requested")
	go c.connect(gen)
}

// State 当前状态机状态
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status 给展示层的连通性：只分 live / disconnected，内部状态不外露
func (c *Channel) Status() (connected bool, lastUpdate time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected, c.lastUpdate
}

// ---------------------------------------------------------
// 推送通路
// ---------------------------------------------------------

func (c *Channel) connect(gen int) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(c.ctx, c.cfg.HandshakeTimeout)
	conn, err := c.cfg.Dial(dialCtx)
	cancel()
	if err != nil {
		// 握手失败 (含超时) 按一次传输失败计
		c.onFailure(gen, fmt.Errorf("handshake: %w", err))
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.failures = 0
	c.stopPollingLocked() // 推送起来了，轮询必须停
	c.mu.Unlock()

	zap.S().Infof("[Transport] Push transport connected")
	go c.readLoop(gen, conn)
}

func (c *Channel) readLoop(gen int, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onFailure(gen, err)
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// 坏报文只丢这一个 tick，不计失败，下一条正常消息恢复
			zap.S().Warnf("[Transport] Discarding malformed payload: %v", err)
			continue
		}
		if env.Type != model.MsgNodesUpdate {
			zap.S().Debugf("[Transport] Ignoring message type %q", env.Type)
			continue
		}
		c.deliver(gen, env.Data)
	}
}

// onFailure 统一的失败路径：没到阈值就退避重试推送，到了就切轮询
func (c *Channel) onFailure(gen int, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	newGen := c.gen
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.failures++
	c.state = StateDisconnected

	if c.failures < c.cfg.FailureThreshold {
		c.state = StateReconnecting
		failures := c.failures
		backoff := c.cfg.ReconnectBackoff
		c.retryTimer = time.AfterFunc(backoff, func() { c.connect(newGen) })
		c.mu.Unlock()
		zap.S().Warnf("[Transport] Push transport lost (%v), failure %d, retrying in %s", err, failures, backoff)
		return
	}

	c.state = StatePolling
	c.startPollingLocked(newGen)
	c.mu.Unlock()
	zap.S().Warnf("[Transport] Push transport lost (%v), degrading to polling every %s", err, c.cfg.PollInterval)
}

// ---------------------------------------------------------
// 轮询通路
// ---------------------------------------------------------

func (c *Channel) startPollingLocked(gen int) {
	pollCtx, cancel := context.WithCancel(c.ctx)
	c.pollCancel = cancel
	go c.pollLoop(pollCtx, gen)

	if c.cfg.PromoteInterval > 0 {
		c.promoteTimer = time.AfterFunc(c.cfg.PromoteInterval, func() { c.promote(gen) })
	}
}

func (c *Channel) pollLoop(ctx context.Context, gen int) {
	// 切进轮询模式先立刻同步拉一次，再按固定间隔拉
	c.pollOnce(ctx, gen)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.pollOnce(ctx, gen)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) pollOnce(ctx context.Context, gen int) {
	records, err := c.cfg.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		if !c.closed && gen == c.gen {
			c.connected = false
		}
		c.mu.Unlock()
		zap.S().Warnf("[Transport] Poll failed: %v", err)
		return
	}
	c.deliver(gen, records)
}

// promote 轮询模式下定期试着升回推送，失败不影响轮询，成功才切换
func (c *Channel) promote(gen int) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.state != StatePolling {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(c.ctx, c.cfg.HandshakeTimeout)
	conn, err := c.cfg.Dial(dialCtx)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen || c.state != StatePolling {
		if err == nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.promoteTimer = time.AfterFunc(c.cfg.PromoteInterval, func() { c.promote(gen) })
		return
	}

	// 换代数，把可能还在途中的轮询响应作废，保证推拉绝不同时送达
	c.gen++
	newGen := c.gen
	c.stopPollingLocked()
	c.conn = conn
	c.state = StateConnected
	c.failures = 0
	zap.S().Infof("[Transport] Promoted back to push transport")
	go c.readLoop(newGen, conn)
}

// ---------------------------------------------------------
// 公共辅助
// ---------------------------------------------------------

// deliver 每次成功送达 (推送消息或轮询响应) 都更新连通状态和时间戳
func (c *Channel) deliver(gen int, records []*model.NodeRecord) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.connected = true
	c.lastUpdate = time.Now()
	c.mu.Unlock()

	if c.onRoster != nil {
		c.onRoster(records)
	}
}

func (c *Channel) stopTimersLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.promoteTimer != nil {
		c.promoteTimer.Stop()
		c.promoteTimer = nil
	}
}

func (c *Channel) stopPollingLocked() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
	if c.promoteTimer != nil {
		c.promoteTimer.Stop()
		c.promoteTimer = nil
	}
}

// ---------------------------------------------------------
// 默认实现
// ---------------------------------------------------------

func defaultDial(pushURL string, handshakeTimeout time.Duration) DialFunc {
	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	return func(ctx context.Context) (Conn, error) {
		conn, resp, err := dialer.DialContext(ctx, pushURL, nil)
		if err != nil {
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			return nil, err
		}
		return conn, nil
	}
}

func defaultFetch(pollURL string) FetchFunc {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context) ([]*model.NodeRecord, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("poll: unexpected status %s", resp.Status)
		}

		var env model.Envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, fmt.Errorf("poll: decode: %w", err)
		}
		if env.Type != model.MsgNodesUpdate {
			return nil, fmt.Errorf("poll: unexpected message type %q", env.Type)
		}
		return env.Data, nil
	}
}
