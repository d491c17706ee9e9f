package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nexuslearn/livefeed/internal/connection"
)

// Notifier is the UI notification surface contract. Display must not block
// and must be safe to call at high frequency.
type Notifier interface {
	Display(message, category string)
}

// Board receives live stat updates for bound display cells.
type Board interface {
	ApplyStats(values map[string]string)
	SetUserCount(count int64)
}

// Sink receives every dispatched event, e.g. for archival or caching.
// Consume must not block the dispatcher.
type Sink interface {
	Consume(ev Event, receivedAt time.Time)
}

// DispatcherStats contains runtime statistics.
type DispatcherStats struct {
	Received      int64
	Notifications int64
	Updates       int64
	Pongs         int64
	ParseErrors   int64
	Unknown       int64
}

// Dispatcher decodes raw channel messages and routes them by kind. No
// inbound payload is ever fatal: malformed messages and unknown tags are
// logged and dropped.
type Dispatcher struct {
	logger *slog.Logger

	input    <-chan connection.TimestampedMessage
	notifier Notifier
	board    Board
	sinks    []Sink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats DispatcherStats
}

// NewDispatcher creates a dispatcher reading from the manager's output.
func NewDispatcher(
	input <-chan connection.TimestampedMessage,
	notifier Notifier,
	board Board,
	logger *slog.Logger,
	sinks ...Sink,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		input:    input,
		notifier: notifier,
		board:    board,
		sinks:    sinks,
	}
}

// Start begins dispatching messages.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.dispatchLoop()

	d.logger.Info("dispatcher started", "sinks", len(d.sinks))
	return nil
}

// Stop gracefully shuts down the dispatcher.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.logger.Info("stopping dispatcher")

	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
	case <-ctx.Done():
		d.logger.Warn("dispatcher stop timed out")
	}

	return nil
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// dispatchLoop is the main dispatch goroutine.
func (d *Dispatcher) dispatchLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case msg, ok := <-d.input:
			if !ok {
				d.logger.Info("input channel closed")
				return
			}
			d.handle(msg)
		}
	}
}

// handle decodes and routes a single message.
func (d *Dispatcher) handle(msg connection.TimestampedMessage) {
	d.count(func(s *DispatcherStats) { s.Received++ })

	ev, err := Decode(msg.Data)
	if err != nil {
		d.logger.Warn("failed to parse message", "error", err)
		d.count(func(s *DispatcherStats) { s.ParseErrors++ })
		return
	}

	switch ev.Kind {
	case KindPong:
		d.logger.Debug("pong received")
		d.count(func(s *DispatcherStats) { s.Pongs++ })
		return

	case KindNotification:
		d.notifier.Display(ev.Notification.Message, ev.Notification.Category)
		d.count(func(s *DispatcherStats) { s.Notifications++ })

	case KindUpdate:
		switch ev.Update.Component {
		case ComponentStats:
			d.board.ApplyStats(ev.Update.Stats)
		case ComponentUsers:
			d.board.SetUserCount(ev.Update.Users)
		default:
			d.logger.Debug("skipping update component", "component", ev.Update.Component)
			d.count(func(s *DispatcherStats) { s.Unknown++ })
			return
		}
		d.count(func(s *DispatcherStats) { s.Updates++ })

	default:
		d.logger.Debug("skipping message type", "type", ev.RawType)
		d.count(func(s *DispatcherStats) { s.Unknown++ })
		return
	}

	for _, sink := range d.sinks {
		sink.Consume(ev, msg.ReceivedAt)
	}
}

func (d *Dispatcher) count(fn func(*DispatcherStats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}
