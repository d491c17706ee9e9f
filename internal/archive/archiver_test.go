package archive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nexuslearn/livefeed/internal/config"
	"github.com/nexuslearn/livefeed/internal/feed"
)

// fakeSender records batches instead of talking to Postgres.
type fakeSender struct {
	mu      sync.Mutex
	batches []*pgx.Batch
	ctxErrs []error
}

func (f *fakeSender) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return &fakeResults{n: b.Len()}
}

type fakeResults struct{ n int }

func (r *fakeResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, nil }
func (r *fakeResults) Query() (pgx.Rows, error)         { return nil, nil }
func (r *fakeResults) QueryRow() pgx.Row                { return nil }
func (r *fakeResults) Close() error                     { return nil }

func testConfig() config.ArchiveConfig {
	return config.ArchiveConfig{
		BatchSize:     100,
		FlushInterval: time.Hour, // Tests trigger flushes explicitly
	}
}

func TestTransformUpdate_Stats(t *testing.T) {
	upd := &feed.Update{
		Component: feed.ComponentStats,
		Stats: map[string]string{
			"activeCourses": "12",
			"completions":   "15+",
		},
	}
	now := time.Now()

	rows := transformUpdate(upd, now)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	seen := map[string]string{}
	for _, r := range rows {
		if r.Component != feed.ComponentStats {
			t.Errorf("component = %q, want %q", r.Component, feed.ComponentStats)
		}
		if r.ReceivedAt != now.UnixMicro() {
			t.Errorf("received_at = %d, want %d", r.ReceivedAt, now.UnixMicro())
		}
		seen[r.Key] = r.Value
	}
	if seen["activeCourses"] != "12" {
		t.Errorf("activeCourses = %q, want %q", seen["activeCourses"], "12")
	}
	if seen["completions"] != "15+" {
		t.Errorf("completions = %q, want %q", seen["completions"], "15+")
	}
}

func TestTransformUpdate_Users(t *testing.T) {
	upd := &feed.Update{
		Component: feed.ComponentUsers,
		Users:     7,
	}

	rows := transformUpdate(upd, time.Now())
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Key != "count" {
		t.Errorf("key = %q, want %q", rows[0].Key, "count")
	}
	if rows[0].Value != "7" {
		t.Errorf("value = %q, want %q", rows[0].Value, "7")
	}
}

func TestTransformUpdate_UnknownComponent(t *testing.T) {
	upd := &feed.Update{Component: "widgets"}

	rows := transformUpdate(upd, time.Now())
	if rows != nil {
		t.Errorf("expected nil rows for unknown component, got %v", rows)
	}
}

func TestConsume_BatchesNotifications(t *testing.T) {
	a := NewArchiver(testConfig(), nil, nil)

	ev := feed.Event{
		Kind: feed.KindNotification,
		Notification: &feed.Notification{
			Message:  "Quiz graded",
			Category: "success",
		},
	}
	a.Consume(ev, time.Now())
	a.Consume(ev, time.Now())

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.notifBatch) != 2 {
		t.Errorf("notifBatch length = %d, want 2", len(a.notifBatch))
	}
	if a.notifBatch[0].ID == a.notifBatch[1].ID {
		t.Error("expected distinct row IDs")
	}
	if a.notifBatch[0].Message != "Quiz graded" {
		t.Errorf("message = %q, want %q", a.notifBatch[0].Message, "Quiz graded")
	}
}

func TestConsume_IgnoresPong(t *testing.T) {
	a := NewArchiver(testConfig(), nil, nil)

	a.Consume(feed.Event{Kind: feed.KindPong}, time.Now())

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.notifBatch) != 0 || len(a.statBatch) != 0 {
		t.Error("pong events should not be archived")
	}
}

func TestFlush_EmptyBatchIsNoop(t *testing.T) {
	a := NewArchiver(testConfig(), nil, nil)

	a.flush(context.Background())

	if got := a.Stats().Flushes; got != 0 {
		t.Errorf("Flushes = %d, want 0", got)
	}
}

// Rows still batched when Stop is called must reach the database: the final
// flush runs on the caller's context, not the archiver's cancelled one.
func TestStop_FlushesPendingRows(t *testing.T) {
	a := NewArchiver(testConfig(), nil, nil)
	sender := &fakeSender{}
	a.db = sender

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	a.Consume(feed.Event{
		Kind: feed.KindNotification,
		Notification: &feed.Notification{
			Message:  "Assignment posted",
			Category: "info",
		},
	}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.batches) != 1 {
		t.Fatalf("batches sent = %d, want 1", len(sender.batches))
	}
	if sender.batches[0].Len() != 1 {
		t.Errorf("batch length = %d, want 1", sender.batches[0].Len())
	}
	if sender.ctxErrs[0] != nil {
		t.Errorf("final flush ran on a dead context: %v", sender.ctxErrs[0])
	}

	stats := a.Stats()
	if stats.Notifications != 1 {
		t.Errorf("Notifications = %d, want 1", stats.Notifications)
	}
	if stats.Errors != 0 {
		t.Errorf("Errors = %d, want 0", stats.Errors)
	}
}

func TestLifecycle(t *testing.T) {
	a := NewArchiver(testConfig(), nil, nil)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}
