package archive

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexuslearn/livefeed/internal/config"
	"github.com/nexuslearn/livefeed/internal/feed"
)

// notificationRow is the storage shape for an archived notification.
type notificationRow struct {
	ID         uuid.UUID
	Message    string
	Category   string
	ReceivedAt int64 // Microseconds
}

// statSampleRow is the storage shape for one archived stat value.
type statSampleRow struct {
	Component  string
	Key        string
	Value      string
	ReceivedAt int64 // Microseconds
}

// Metrics contains archiver counters.
type Metrics struct {
	Notifications int64
	Samples       int64
	Flushes       int64
	Errors        int64
}

// batchSender is the subset of pgxpool.Pool the archiver writes through.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Archiver batches dispatched events and writes them to Postgres. It
// implements feed.Sink; Consume never blocks the dispatcher, actual writes
// happen on the flush goroutine.
type Archiver struct {
	cfg    config.ArchiveConfig
	logger *slog.Logger
	db     batchSender

	mu         sync.Mutex
	notifBatch []notificationRow
	statBatch  []statSampleRow
	metrics    Metrics

	flushKick   chan struct{}
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewArchiver creates an archiver writing to the given pool.
func NewArchiver(cfg config.ArchiveConfig, db *pgxpool.Pool, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archiver{
		cfg:        cfg,
		logger:     logger,
		notifBatch: make([]notificationRow, 0, cfg.BatchSize),
		statBatch:  make([]statSampleRow, 0, cfg.BatchSize),
		flushKick:  make(chan struct{}, 1),
	}
	// A typed nil pool must not look like a live sender.
	if db != nil {
		a.db = db
	}
	return a
}

// Start begins the flush loop.
func (a *Archiver) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.flushTicker = time.NewTicker(a.cfg.FlushInterval)

	a.wg.Add(1)
	go a.flushLoop()

	a.logger.Info("archiver started",
		"batch_size", a.cfg.BatchSize,
		"flush_interval", a.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the archiver.
func (a *Archiver) Stop(ctx context.Context) error {
	a.logger.Info("stopping archiver")

	if a.cancel != nil {
		a.cancel()
	}
	if a.flushTicker != nil {
		a.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("archiver stopped")
	case <-ctx.Done():
		a.logger.Warn("archiver stop timed out")
	}

	// Final flush runs on the caller's context: the archiver's own context
	// is already cancelled at this point.
	a.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (a *Archiver) Stats() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

// Consume adds a dispatched event to the pending batches.
func (a *Archiver) Consume(ev feed.Event, receivedAt time.Time) {
	switch ev.Kind {
	case feed.KindNotification:
		row := notificationRow{
			ID:         uuid.New(),
			Message:    ev.Notification.Message,
			Category:   ev.Notification.Category,
			ReceivedAt: receivedAt.UnixMicro(),
		}
		a.mu.Lock()
		a.notifBatch = append(a.notifBatch, row)
		full := len(a.notifBatch) >= a.cfg.BatchSize
		a.mu.Unlock()
		if full {
			a.kick()
		}

	case feed.KindUpdate:
		rows := transformUpdate(ev.Update, receivedAt)
		if len(rows) == 0 {
			return
		}
		a.mu.Lock()
		a.statBatch = append(a.statBatch, rows...)
		full := len(a.statBatch) >= a.cfg.BatchSize
		a.mu.Unlock()
		if full {
			a.kick()
		}
	}
}

// transformUpdate converts an update event to stat sample rows.
func transformUpdate(upd *feed.Update, receivedAt time.Time) []statSampleRow {
	ts := receivedAt.UnixMicro()

	switch upd.Component {
	case feed.ComponentStats:
		rows := make([]statSampleRow, 0, len(upd.Stats))
		for key, val := range upd.Stats {
			rows = append(rows, statSampleRow{
				Component:  upd.Component,
				Key:        key,
				Value:      val,
				ReceivedAt: ts,
			})
		}
		return rows

	case feed.ComponentUsers:
		return []statSampleRow{{
			Component:  upd.Component,
			Key:        "count",
			Value:      strconv.FormatInt(upd.Users, 10),
			ReceivedAt: ts,
		}}
	}

	return nil
}

// kick asks the flush loop to run without waiting for the ticker.
func (a *Archiver) kick() {
	select {
	case a.flushKick <- struct{}{}:
	default:
	}
}

// flushLoop periodically flushes the batches.
func (a *Archiver) flushLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.flushTicker.C:
			a.flush(a.ctx)
		case <-a.flushKick:
			a.flush(a.ctx)
		}
	}
}

// flush writes the current batches to the database.
func (a *Archiver) flush(ctx context.Context) {
	a.mu.Lock()
	notifs := a.notifBatch
	stats := a.statBatch
	a.notifBatch = make([]notificationRow, 0, a.cfg.BatchSize)
	a.statBatch = make([]statSampleRow, 0, a.cfg.BatchSize)
	a.mu.Unlock()

	if len(notifs) == 0 && len(stats) == 0 {
		return
	}
	if a.db == nil {
		return
	}

	start := time.Now()

	if err := a.batchInsert(ctx, notifs, stats); err != nil {
		a.logger.Error("batch insert failed",
			"error", err,
			"notifications", len(notifs),
			"samples", len(stats),
		)
		a.mu.Lock()
		a.metrics.Errors++
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	a.metrics.Notifications += int64(len(notifs))
	a.metrics.Samples += int64(len(stats))
	a.metrics.Flushes++
	a.mu.Unlock()

	a.logger.Debug("flushed archive",
		"notifications", len(notifs),
		"samples", len(stats),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (a *Archiver) batchInsert(ctx context.Context, notifs []notificationRow, stats []statSampleRow) error {
	batch := &pgx.Batch{}
	for _, r := range notifs {
		batch.Queue(`
			INSERT INTO notifications (id, message, category, received_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.Message, r.Category, r.ReceivedAt)
	}
	for _, r := range stats {
		batch.Queue(`
			INSERT INTO stat_samples (component, key, value, received_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (component, key, received_at) DO NOTHING
		`, r.Component, r.Key, r.Value, r.ReceivedAt)
	}

	results := a.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}

