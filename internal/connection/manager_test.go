package connection

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testManagerConfig(url string) ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.URL = url
	cfg.HeartbeatInterval = 200 * time.Millisecond
	cfg.ReconnectDelay = 150 * time.Millisecond
	cfg.BufferSize = 100
	return cfg
}

func stopManager(t *testing.T, m Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

// TestManager_HeartbeatCadence verifies that a ping is sent immediately on
// connect and the next one only after the configured interval elapses.
func TestManager_HeartbeatCadence(t *testing.T) {
	var mu sync.Mutex
	var pingTimes []time.Time

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame struct {
				Type      string `json:"type"`
				Timestamp int64  `json:"timestamp"`
			}
			if json.Unmarshal(data, &frame) == nil && frame.Type == "ping" {
				if frame.Timestamp == 0 {
					t.Error("ping frame missing timestamp")
				}
				mu.Lock()
				pingTimes = append(pingTimes, time.Now())
				mu.Unlock()
			}
		}
	})
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil)
	start := time.Now()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	// Wait long enough for the immediate ping plus one interval ping.
	time.Sleep(350 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(pingTimes) < 2 {
		t.Fatalf("expected at least 2 pings, got %d", len(pingTimes))
	}
	if first := pingTimes[0].Sub(start); first > 150*time.Millisecond {
		t.Errorf("first ping took %v, expected it immediately after connect", first)
	}
	if gap := pingTimes[1].Sub(pingTimes[0]); gap < 150*time.Millisecond {
		t.Errorf("second ping after %v, expected no earlier than the interval", gap)
	}
}

// TestManager_ReconnectAfterDrop verifies that an unexpected close schedules
// exactly one reconnection attempt after the fixed delay.
func TestManager_ReconnectAfterDrop(t *testing.T) {
	var connects int64
	var mu sync.Mutex
	var connectTimes []time.Time

	server := mockWSServer(t, func(conn *websocket.Conn) {
		n := atomic.AddInt64(&connects, 1)
		mu.Lock()
		connectTimes = append(connectTimes, time.Now())
		mu.Unlock()

		if n == 1 {
			// Drop the first connection immediately.
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	// Allow the drop, the delay, and the single retry to play out.
	time.Sleep(600 * time.Millisecond)

	if got := atomic.LoadInt64(&connects); got != 2 {
		t.Fatalf("connects = %d, want exactly 2", got)
	}

	mu.Lock()
	gap := connectTimes[1].Sub(connectTimes[0])
	mu.Unlock()
	if gap < 100*time.Millisecond {
		t.Errorf("reconnected after %v, expected no earlier than the delay", gap)
	}

	if m.State() != StateConnected {
		t.Errorf("State = %v, want %v", m.State(), StateConnected)
	}
	if m.Stats().Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", m.Stats().Reconnects)
	}
}

// TestManager_StartIdempotent verifies that concurrent Start calls never
// produce a second connection.
func TestManager_StartIdempotent(t *testing.T) {
	var connects int64

	server := mockWSServer(t, func(conn *websocket.Conn) {
		atomic.AddInt64(&connects, 1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Start(context.Background())
		}()
	}
	wg.Wait()
	defer stopManager(t, m)

	time.Sleep(200 * time.Millisecond)

	if got := atomic.LoadInt64(&connects); got != 1 {
		t.Errorf("connects = %d, want 1", got)
	}
}

func TestManager_MessagesForwarded(t *testing.T) {
	payload := `{"type":"update","component":"users","data":7}`

	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(payload))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	select {
	case msg := <-m.Messages():
		if string(msg.Data) != payload {
			t.Errorf("got %q, want %q", msg.Data, payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for forwarded message")
	}
}

// TestManager_NoHeartbeatAfterStop verifies the heartbeat stops with the
// manager instead of rescheduling itself forever.
func TestManager_NoHeartbeatAfterStop(t *testing.T) {
	var pings int64

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &frame) == nil && frame.Type == "ping" {
				atomic.AddInt64(&pings, 1)
			}
		}
	})
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.HeartbeatInterval = 100 * time.Millisecond

	m := NewManager(cfg, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	stopManager(t, m)

	before := atomic.LoadInt64(&pings)
	time.Sleep(300 * time.Millisecond)
	after := atomic.LoadInt64(&pings)

	if before == 0 {
		t.Error("expected at least one ping before Stop")
	}
	if after != before {
		t.Errorf("pings continued after Stop: before=%d after=%d", before, after)
	}

	if m.State() != StateDisconnected {
		t.Errorf("State = %v, want %v", m.State(), StateDisconnected)
	}
}

// TestManager_StopDuringConnect verifies that a dial completing after Stop
// does not leave a live socket on a stopped manager.
func TestManager_StopDuringConnect(t *testing.T) {
	connClosed := make(chan struct{})

	server := mockWSServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(connClosed)
		}
	})
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil).(*manager)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	defer m.cancel()

	// Stop won the race against a dial already in flight.
	m.started = false
	m.attemptInFlight = true

	m.connect()

	select {
	case <-connClosed:
	case <-time.After(time.Second):
		t.Fatal("dialed connection left open on a stopped manager")
	}

	if m.State() != StateDisconnected {
		t.Errorf("State = %v, want %v", m.State(), StateDisconnected)
	}
	m.mu.Lock()
	if m.client != nil {
		t.Error("stopped manager adopted the client")
	}
	if m.attemptInFlight {
		t.Error("attempt still marked in flight")
	}
	m.mu.Unlock()
}

// TestManager_StopTimeoutKeepsMessagesOpen verifies that a Stop whose context
// has already expired leaves the message channel alone while goroutines may
// still be forwarding into it.
func TestManager_StopTimeoutKeepsMessagesOpen(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.BufferSize = 1 // keep watchLoop busy forwarding

	m := NewManager(cfg, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait for the flood to start.
	select {
	case <-m.Messages():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for first message")
	}

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Stop(expired); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Drain for a while; a send to a closed channel would panic the
	// forwarding goroutine and fail the test.
	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case <-m.Messages():
		case <-deadline:
			return
		}
	}
}

func TestManager_MessagesClosedAfterStop(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server)), nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stopManager(t, m)

	select {
	case _, ok := <-m.Messages():
		if ok {
			return // drain buffered messages is fine
		}
	case <-time.After(time.Second):
		t.Fatal("Messages channel not closed after Stop")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
