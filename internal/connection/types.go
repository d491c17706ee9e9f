package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
)

// State describes the manager's view of the live channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// heartbeatFrame is the liveness ping sent to the server while connected.
type heartbeatFrame struct {
	Type      string `json:"type"`      // Always "ping"
	Timestamp int64  `json:"timestamp"` // Epoch milliseconds
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Channel URL (e.g. wss://lms.example.com/ws/main)
	Token            string        // Bearer token for the handshake (empty = anonymous)
	ClientID         string        // Sent as X-Client-ID header
	HandshakeTimeout time.Duration // Dial timeout
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	URL               string        // Channel URL, see ChannelURL
	Token             string        // Bearer token attached on dial
	HeartbeatInterval time.Duration // Cadence of liveness pings while connected
	ReconnectDelay    time.Duration // Fixed wait before re-attempting a dropped connection
	HandshakeTimeout  time.Duration // Dial timeout per attempt
	WriteTimeout      time.Duration // Write deadline for sends
	BufferSize        int           // Buffer size for the output message channel
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HeartbeatInterval: 30 * time.Second,
		ReconnectDelay:    5 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        1000,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State           State
	ConnectAttempts int64
	Reconnects      int64
	HeartbeatsSent  int64
	LastConnectedAt time.Time
}
