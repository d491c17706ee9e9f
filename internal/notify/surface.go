// Package notify implements the stacked notification surface.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Item is a single displayed notification.
type Item struct {
	ID       string
	Message  string
	Category string
	PostedAt time.Time
}

type entry struct {
	item  Item
	timer *time.Timer
}

// Surface is the notification stack. Every Display call produces an
// independent item that self-dismisses after the configured duration unless
// dismissed earlier. Display never blocks and is safe to call at high
// frequency from the dispatcher.
type Surface struct {
	logger       *slog.Logger
	dismissAfter time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	order   []string // insertion order for Active
	closed  bool

	displayed int64
	dismissed int64
	expired   int64
}

// SurfaceStats contains counters for the status surface.
type SurfaceStats struct {
	Active    int
	Displayed int64
	Dismissed int64
	Expired   int64
}

// NewSurface creates a notification surface.
func NewSurface(dismissAfter time.Duration, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.Default()
	}
	if dismissAfter <= 0 {
		dismissAfter = 5 * time.Second
	}
	return &Surface{
		logger:       logger,
		dismissAfter: dismissAfter,
		entries:      make(map[string]*entry),
	}
}

// Display posts a new notification item.
func (s *Surface) Display(message, category string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	id := uuid.NewString()
	e := &entry{
		item: Item{
			ID:       id,
			Message:  message,
			Category: category,
			PostedAt: time.Now(),
		},
	}
	e.timer = time.AfterFunc(s.dismissAfter, func() { s.expire(id) })

	s.entries[id] = e
	s.order = append(s.order, id)
	s.displayed++

	s.logger.Debug("notification displayed",
		"id", id,
		"category", category,
	)
}

// Dismiss removes an item before its timer fires. Returns false if the item
// is already gone.
func (s *Surface) Dismiss(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	s.remove(id)
	s.dismissed++
	return true
}

// Active returns currently displayed items in display order.
func (s *Surface) Active() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Item, 0, len(s.order))
	for _, id := range s.order {
		if e, ok := s.entries[id]; ok {
			items = append(items, e.item)
		}
	}
	return items
}

// Stats returns surface counters.
func (s *Surface) Stats() SurfaceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SurfaceStats{
		Active:    len(s.entries),
		Displayed: s.displayed,
		Dismissed: s.dismissed,
		Expired:   s.expired,
	}
}

// Close cancels all outstanding dismiss timers. Display becomes a no-op.
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
	s.order = nil
}

// expire is the timer callback for self-dismissal.
func (s *Surface) expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return
	}
	s.remove(id)
	s.expired++
}

// remove deletes an entry and its order slot. Caller holds the lock.
func (s *Surface) remove(id string) {
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
