package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns at most one live connection to the channel and keeps it
// alive: liveness pings while connected, a fixed-delay reconnect when the
// connection drops. Transport failures are never surfaced to callers; the
// manager logs and retries for as long as it is running.
type Manager interface {
	// Start opens the connection. It is a no-op if the manager is already
	// running; concurrent calls never produce a second connection.
	Start(ctx context.Context) error

	// Stop cancels the heartbeat and any pending reconnect, then closes
	// the connection.
	Stop(ctx context.Context) error

	// Messages returns the channel of raw inbound messages.
	Messages() <-chan TimestampedMessage

	// State returns the current connection state.
	State() State

	// Stats returns current connection statistics.
	Stats() ManagerStats
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	// Output channel consumed by the dispatcher
	out chan TimestampedMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	state           State
	client          Client
	started         bool
	attemptInFlight bool // a connect attempt or reconnect timer is pending

	connectAttempts int64
	reconnects      int64
	heartbeatsSent  int64
	lastConnectedAt time.Time
}

// NewManager creates a new connection manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &manager{
		cfg:    cfg,
		logger: logger,
		out:    make(chan TimestampedMessage, cfg.BufferSize),
		state:  StateDisconnected,
	}
}

// Start begins the connection manager.
func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.scheduleConnect(0)

	m.logger.Info("connection manager started",
		"url", m.cfg.URL,
		"heartbeat_interval", m.cfg.HeartbeatInterval,
		"reconnect_delay", m.cfg.ReconnectDelay,
	)

	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	cancel := m.cancel
	client := m.client
	m.client = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Close()
	}

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	// Close the output channel only once the goroutines are known to be
	// gone: watchLoop may still be forwarding on the timeout path.
	select {
	case <-done:
		close(m.out)
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, leaving message channel open")
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// Messages returns the output channel.
func (m *manager) Messages() <-chan TimestampedMessage {
	return m.out
}

// State returns the current connection state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ManagerStats{
		State:           m.state,
		ConnectAttempts: m.connectAttempts,
		Reconnects:      m.reconnects,
		HeartbeatsSent:  m.heartbeatsSent,
		LastConnectedAt: m.lastConnectedAt,
	}
}

// scheduleConnect arranges exactly one connect attempt after the given delay.
// Redundant calls while an attempt or timer is pending are dropped, so a
// close event and a concurrent Start cannot double-connect.
func (m *manager) scheduleConnect(delay time.Duration) {
	m.mu.Lock()
	if m.attemptInFlight || m.state == StateConnected || !m.started {
		m.mu.Unlock()
		return
	}
	m.attemptInFlight = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if delay > 0 {
			select {
			case <-m.ctx.Done():
				m.clearAttempt()
				return
			case <-time.After(delay):
			}
		}

		m.connect()
	}()
}

// connect performs a single connection attempt.
func (m *manager) connect() {
	m.mu.Lock()
	m.state = StateConnecting
	m.connectAttempts++
	attempt := m.connectAttempts
	m.mu.Unlock()

	clientCfg := ClientConfig{
		URL:              m.cfg.URL,
		Token:            m.cfg.Token,
		ClientID:         uuid.NewString(),
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.BufferSize,
	}
	client := NewClient(clientCfg, m.logger)

	if err := client.Connect(m.ctx); err != nil {
		m.logger.Warn("connect failed",
			"attempt", attempt,
			"error", err,
		)
		m.mu.Lock()
		m.state = StateDisconnected
		m.attemptInFlight = false
		m.mu.Unlock()
		m.scheduleConnect(m.cfg.ReconnectDelay)
		return
	}

	m.mu.Lock()
	// Stop may have run while the dial was in flight; a stopped manager
	// must not adopt the socket.
	if !m.started {
		m.state = StateDisconnected
		m.attemptInFlight = false
		m.mu.Unlock()
		client.Close()
		return
	}
	m.client = client
	m.state = StateConnected
	m.attemptInFlight = false
	m.lastConnectedAt = time.Now()
	if attempt > 1 {
		m.reconnects++
	}
	m.mu.Unlock()

	m.logger.Info("channel connected", "attempt", attempt)

	// The heartbeat context is owned by this connection: cancelled on
	// disconnect so no timer outlives the socket it pings.
	hbCtx, hbCancel := context.WithCancel(m.ctx)

	m.wg.Add(2)
	go m.heartbeatLoop(hbCtx, client)
	go m.watchLoop(client, hbCancel)
}

func (m *manager) clearAttempt() {
	m.mu.Lock()
	m.attemptInFlight = false
	m.mu.Unlock()
}

// watchLoop forwards inbound messages and reacts to connection loss.
func (m *manager) watchLoop(client Client, hbCancel context.CancelFunc) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			hbCancel()
			return

		case err := <-client.Errors():
			m.logger.Warn("connection lost", "error", err)
			m.onDisconnect(client, hbCancel)
			return

		case msg := <-client.Messages():
			select {
			case m.out <- msg:
			case <-m.ctx.Done():
				hbCancel()
				return
			default:
				m.logger.Warn("message buffer full, dropping message")
			}
		}
	}
}

// onDisconnect tears down the dead connection and schedules one reconnect.
func (m *manager) onDisconnect(client Client, hbCancel context.CancelFunc) {
	hbCancel()

	m.mu.Lock()
	m.state = StateDisconnected
	if m.client == client {
		m.client = nil
	}
	m.mu.Unlock()

	client.Close()

	m.logger.Info("channel disconnected, reconnecting",
		"delay", m.cfg.ReconnectDelay,
	)
	m.scheduleConnect(m.cfg.ReconnectDelay)
}

// heartbeatLoop sends a liveness ping immediately on connect, then at the
// configured cadence until the connection's context is cancelled.
func (m *manager) heartbeatLoop(ctx context.Context, client Client) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	m.sendHeartbeat(client)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sendHeartbeat(client)
		}
	}
}

// sendHeartbeat sends a single ping frame if the connection is live.
func (m *manager) sendHeartbeat(client Client) {
	if !client.IsConnected() {
		return
	}

	frame := heartbeatFrame{
		Type:      "ping",
		Timestamp: time.Now().UnixMilli(),
	}
	data, _ := json.Marshal(frame)

	if err := client.Send(data); err != nil {
		m.logger.Debug("failed to send heartbeat", "error", err)
		return
	}

	m.mu.Lock()
	m.heartbeatsSent++
	m.mu.Unlock()
}
