package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexuslearn/livefeed/internal/config"
	"github.com/nexuslearn/livefeed/internal/feed"
)

const writeTimeout = 3 * time.Second

// Metrics contains snapshot writer counters.
type Metrics struct {
	StatWrites int64
	UserWrites int64
	Dropped    int64
	Errors     int64
}

type pendingUpdate struct {
	update     feed.Update
	receivedAt time.Time
}

// Snapshot mirrors the latest stat values into Redis so other services can
// read the current dashboard state without holding a feed connection. It
// implements feed.Sink; writes happen on a worker goroutine so Consume
// never blocks the dispatcher.
type Snapshot struct {
	client   *redis.Client
	ttl      time.Duration
	instance string
	logger   *slog.Logger

	updates chan pendingUpdate

	mu      sync.Mutex
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSnapshot connects to Redis and verifies the connection.
func NewSnapshot(cfg config.CacheConfig, instance string, logger *slog.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = writeTimeout
	opts.WriteTimeout = writeTimeout

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Snapshot{
		client:   rdb,
		ttl:      cfg.TTL,
		instance: instance,
		logger:   logger,
		updates:  make(chan pendingUpdate, 256),
	}, nil
}

// Start begins the write loop.
func (s *Snapshot) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.writeLoop()

	s.logger.Info("cache snapshot started", "ttl", s.ttl)
	return nil
}

// Stop shuts down the write loop and closes the client.
func (s *Snapshot) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("cache snapshot stop timed out")
	}

	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Stats returns current metrics.
func (s *Snapshot) Stats() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// Consume queues an update for mirroring. Non-update events are ignored,
// and updates are dropped when the queue is full.
func (s *Snapshot) Consume(ev feed.Event, receivedAt time.Time) {
	if ev.Kind != feed.KindUpdate || ev.Update == nil {
		return
	}

	select {
	case s.updates <- pendingUpdate{update: *ev.Update, receivedAt: receivedAt}:
	default:
		s.mu.Lock()
		s.metrics.Dropped++
		s.mu.Unlock()
		s.logger.Warn("cache queue full, dropping update", "component", ev.Update.Component)
	}
}

func (s *Snapshot) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case p := <-s.updates:
			s.apply(p)
		}
	}
}

func (s *Snapshot) apply(p pendingUpdate) {
	if s.client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()

	var err error
	switch p.update.Component {
	case feed.ComponentStats:
		err = s.writeStats(ctx, p)
		if err == nil {
			s.mu.Lock()
			s.metrics.StatWrites++
			s.mu.Unlock()
		}
	case feed.ComponentUsers:
		err = s.writeUsers(ctx, p)
		if err == nil {
			s.mu.Lock()
			s.metrics.UserWrites++
			s.mu.Unlock()
		}
	default:
		return
	}

	if err != nil {
		s.mu.Lock()
		s.metrics.Errors++
		s.mu.Unlock()
		s.logger.Error("cache write failed", "component", p.update.Component, "error", err)
	}
}

func (s *Snapshot) writeStats(ctx context.Context, p pendingUpdate) error {
	if len(p.update.Stats) == 0 {
		return nil
	}

	key := s.statsKey()
	fields := make(map[string]any, len(p.update.Stats)+1)
	for k, v := range p.update.Stats {
		fields[k] = v
	}
	fields["updated_at"] = p.receivedAt.Format(time.RFC3339Nano)

	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.ttl).Err()
}

func (s *Snapshot) writeUsers(ctx context.Context, p pendingUpdate) error {
	key := s.usersKey()
	val := strconv.FormatInt(p.update.Users, 10)
	return s.client.Set(ctx, key, val, s.ttl).Err()
}

func (s *Snapshot) statsKey() string {
	return fmt.Sprintf("livefeed:%s:stats", s.instance)
}

func (s *Snapshot) usersKey() string {
	return fmt.Sprintf("livefeed:%s:users", s.instance)
}
