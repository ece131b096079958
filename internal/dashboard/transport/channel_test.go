package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleetview/internal/dashboard/transport"
	"fleetview/pkg/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a scriptable push connection.
type fakeConn struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-f.msgs:
		return websocket.TextMessage, m, nil
	case <-f.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(t *testing.T, env model.Envelope) {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	f.msgs <- raw
}

func roster(ids ...string) []*model.NodeRecord {
	out := make([]*model.NodeRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, &model.NodeRecord{ID: id})
	}
	return out
}

func testConfig() transport.Config {
	return transport.Config{
		FailureThreshold: 2,
		ReconnectBackoff: 5 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		HandshakeTimeout: 50 * time.Millisecond,
		PromoteInterval:  -1, // keep promotion out of the way unless a test wants it
	}
}

// TestDegradeToPolling after two consecutive handshake failures the channel
// must be polling, with no push connection open and no further dials.
func TestDegradeToPolling(t *testing.T) {
	var dials, fetches atomic.Int32

	cfg := testConfig()
	cfg.Dial = func(ctx context.Context) (transport.Conn, error) {
		dials.Add(1)
		return nil, errors.New("refused")
	}
	cfg.Fetch = func(ctx context.Context) ([]*model.NodeRecord, error) {
		fetches.Add(1)
		return roster("spark", "agx0"), nil
	}

	ch := transport.New(cfg)
	got := make(chan []*model.NodeRecord, 64)
	ch.Subscribe(func(r []*model.NodeRecord) { got <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Start(ctx)
	defer ch.Stop()

	require.Eventually(t, func() bool { return ch.State() == transport.StatePolling },
		time.Second, time.Millisecond)
	assert.EqualValues(t, 2, dials.Load())

	// Polling delivers rosters and counts as live.
	select {
	case r := <-got:
		assert.Len(t, r, 2)
	case <-time.After(time.Second):
		t.Fatal("no roster delivered while polling")
	}
	connected, lastUpdate := ch.Status()
	assert.True(t, connected)
	assert.False(t, lastUpdate.IsZero())

	// Polling never dials push on its own.
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 2, dials.Load())
	assert.Greater(t, fetches.Load(), int32(1))
}

// TestManualReconnect resets the failure counter and tries push first,
// stopping the poll loop once the handshake succeeds.
func TestManualReconnect(t *testing.T) {
	var allowPush atomic.Bool
	var fetches atomic.Int32
	conn := newFakeConn()

	cfg := testConfig()
	cfg.Dial = func(ctx context.Context) (transport.Conn, error) {
		if !allowPush.Load() {
			return nil, errors.New("refused")
		}
		return conn, nil
	}
	cfg.Fetch = func(ctx context.Context) ([]*model.NodeRecord, error) {
		fetches.Add(1)
		return roster("spark"), nil
	}

	ch := transport.New(cfg)
	got := make(chan []*model.NodeRecord, 64)
	ch.Subscribe(func(r []*model.NodeRecord) { got <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Start(ctx)
	defer ch.Stop()

	require.Eventually(t, func() bool { return ch.State() == transport.StatePolling },
		time.Second, time.Millisecond)

	allowPush.Store(true)
	ch.Reconnect()

	require.Eventually(t, func() bool { return ch.State() == transport.StateConnected },
		time.Second, time.Millisecond)

	// Poll loop must be gone: only one data path at a time.
	time.Sleep(10 * time.Millisecond) // let any in-flight poll drain
	settled := fetches.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, fetches.Load())

	// And the push path delivers.
	conn.push(t, model.Envelope{Type: model.MsgNodesUpdate, Data: roster("spark", "agx0")})
	select {
	case r := <-got:
		assert.Len(t, r, 2)
	case <-time.After(time.Second):
		t.Fatal("no roster delivered after reconnect")
	}
}

// TestMalformedPayloadSkipsTick garbage drops a single tick without
// touching the connection or the failure counter.
func TestMalformedPayloadSkipsTick(t *testing.T) {
	conn := newFakeConn()
	cfg := testConfig()
	cfg.Dial = func(ctx context.Context) (transport.Conn, error) { return conn, nil }
	cfg.Fetch = func(ctx context.Context) ([]*model.NodeRecord, error) {
		t.Error("poll path must not be used")
		return nil, nil
	}

	ch := transport.New(cfg)
	got := make(chan []*model.NodeRecord, 16)
	ch.Subscribe(func(r []*model.NodeRecord) { got <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Start(ctx)
	defer ch.Stop()

	require.Eventually(t, func() bool { return ch.State() == transport.StateConnected },
		time.Second, time.Millisecond)

	conn.msgs <- []byte("{definitely not json")
	conn.push(t, model.Envelope{Type: "something_else", Data: roster("x")})
	conn.push(t, model.Envelope{Type: model.MsgNodesUpdate, Data: roster("spark")})

	select {
	case r := <-got:
		require.Len(t, r, 1)
		assert.Equal(t, "spark", r[0].ID)
	case <-time.After(time.Second):
		t.Fatal("valid message after garbage was not delivered")
	}
	assert.Equal(t, transport.StateConnected, ch.State())
	assert.Empty(t, got, "malformed and foreign messages must not be delivered")
}

// TestReconnectAfterSingleFailure below the threshold the channel retries
// push instead of polling.
func TestReconnectAfterSingleFailure(t *testing.T) {
	var dials atomic.Int32
	conn := newFakeConn()

	cfg := testConfig()
	cfg.Dial = func(ctx context.Context) (transport.Conn, error) {
		if dials.Add(1) == 1 {
			return nil, errors.New("refused")
		}
		return conn, nil
	}
	cfg.Fetch = func(ctx context.Context) ([]*model.NodeRecord, error) {
		t.Error("poll path must not be used")
		return nil, nil
	}

	ch := transport.New(cfg)
	ch.Subscribe(func([]*model.NodeRecord) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Start(ctx)
	defer ch.Stop()

	require.Eventually(t, func() bool { return ch.State() == transport.StateConnected },
		time.Second, time.Millisecond)
	assert.EqualValues(t, 2, dials.Load())
}

// TestPromoteBackToPush polling upgrades to push on its own once the
// handshake works again.
func TestPromoteBackToPush(t *testing.T) {
	var allowPush atomic.Bool
	conn := newFakeConn()

	cfg := testConfig()
	cfg.PromoteInterval = 10 * time.Millisecond
	cfg.Dial = func(ctx context.Context) (transport.Conn, error) {
		if !allowPush.Load() {
			return nil, errors.New("refused")
		}
		return conn, nil
	}
	cfg.Fetch = func(ctx context.Context) ([]*model.NodeRecord, error) {
		return roster("spark"), nil
	}

	ch := transport.New(cfg)
	ch.Subscribe(func([]*model.NodeRecord) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Start(ctx)
	defer ch.Stop()

	require.Eventually(t, func() bool { return ch.State() == transport.StatePolling },
		time.Second, time.Millisecond)

	allowPush.Store(true)
	require.Eventually(t, func() bool { return ch.State() == transport.StateConnected },
		time.Second, time.Millisecond)
}

// TestPromotionInvalidatesInFlightPoll a poll response still in flight when
// the channel promotes back to push must be discarded, not delivered.
func TestPromotionInvalidatesInFlightPoll(t *testing.T) {
	var dials atomic.Int32
	conn := newFakeConn()
	release := make(chan struct{})

	cfg := testConfig()
	cfg.PromoteInterval = 10 * time.Millisecond
	cfg.Dial = func(ctx context.Context) (transport.Conn, error) {
		if dials.Add(1) <= 2 {
			return nil, errors.New("refused")
		}
		return conn, nil
	}
	cfg.Fetch = func(ctx context.Context) ([]*model.NodeRecord, error) {
		<-release
		return roster("spark", "agx0"), nil
	}

	ch := transport.New(cfg)
	got := make(chan []*model.NodeRecord, 16)
	ch.Subscribe(func(r []*model.NodeRecord) { got <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Start(ctx)
	defer ch.Stop()

	// 两次握手失败进轮询，首次 poll 卡在 Fetch 里；升回推送后才放行
	require.Eventually(t, func() bool { return ch.State() == transport.StateConnected },
		time.Second, time.Millisecond)
	close(release)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got, "stale poll response must not be delivered alongside push")

	// 推送通路本身照常工作
	conn.push(t, model.Envelope{Type: model.MsgNodesUpdate, Data: roster("spark")})
	select {
	case r := <-got:
		assert.Len(t, r, 1)
	case <-time.After(time.Second):
		t.Fatal("push delivery lost after promotion")
	}
}

// TestHandshakeTimeoutCountsAsFailure a dial that never completes inside the
// handshake window is a transport failure; two of them degrade to polling.
func TestHandshakeTimeoutCountsAsFailure(t *testing.T) {
	var dials atomic.Int32

	cfg := testConfig()
	cfg.HandshakeTimeout = 10 * time.Millisecond
	cfg.Dial = func(ctx context.Context) (transport.Conn, error) {
		dials.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	cfg.Fetch = func(ctx context.Context) ([]*model.NodeRecord, error) {
		return roster("spark"), nil
	}

	ch := transport.New(cfg)
	got := make(chan []*model.NodeRecord, 16)
	ch.Subscribe(func(r []*model.NodeRecord) { got <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Start(ctx)
	defer ch.Stop()

	require.Eventually(t, func() bool { return ch.State() == transport.StatePolling },
		time.Second, time.Millisecond)
	assert.EqualValues(t, 2, dials.Load())

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("no roster delivered while polling")
	}
}

// TestStop no deliveries after teardown.
func TestStop(t *testing.T) {
	conn := newFakeConn()
	cfg := testConfig()
	cfg.Dial = func(ctx context.Context) (transport.Conn, error) { return conn, nil }
	cfg.Fetch = func(ctx context.Context) ([]*model.NodeRecord, error) { return nil, errors.New("down") }

	ch := transport.New(cfg)
	var delivered atomic.Int32
	ch.Subscribe(func([]*model.NodeRecord) { delivered.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Start(ctx)

	require.Eventually(t, func() bool { return ch.State() == transport.StateConnected },
		time.Second, time.Millisecond)

	ch.Stop()
	before := delivered.Load()

	select {
	case conn.msgs <- mustMarshal(t, model.Envelope{Type: model.MsgNodesUpdate, Data: roster("x")}):
	default:
		// reader already gone, fine
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, delivered.Load())
}

func mustMarshal(t *testing.T, env model.Envelope) []byte {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}
