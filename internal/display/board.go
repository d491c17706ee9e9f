// Package display holds the bound display cells fed by live updates.
//
// A Board is the headless equivalent of the marketing page's stat counters:
// keyed text cells updated by "stats" merges, plus a set of cells bound to
// the live-user-count role that all change together on a "users" update.
package display

import (
	"strconv"
	"sync"
	"time"
)

// DefaultUserCountCell is bound to the live-user-count role when no
// bindings are configured.
const DefaultUserCountCell = "liveUsers"

// Board is a thread-safe set of display cells.
type Board struct {
	mu        sync.RWMutex
	cells     map[string]string
	userCells []string
	updatedAt time.Time
}

// NewBoard creates a board with the given cells bound to the
// live-user-count role.
func NewBoard(userCells ...string) *Board {
	if len(userCells) == 0 {
		userCells = []string{DefaultUserCountCell}
	}
	return &Board{
		cells:     make(map[string]string),
		userCells: append([]string(nil), userCells...),
	}
}

// ApplyStats merges keyed values into matching cells.
func (b *Board) ApplyStats(values map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, val := range values {
		b.cells[key] = val
	}
	b.updatedAt = time.Now()
}

// SetUserCount updates every cell bound to the live-user-count role.
func (b *Board) SetUserCount(count int64) {
	text := strconv.FormatInt(count, 10)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, key := range b.userCells {
		b.cells[key] = text
	}
	b.updatedAt = time.Now()
}

// Cell returns the current text of a cell.
func (b *Board) Cell(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	val, ok := b.cells[key]
	return val, ok
}

// Snapshot returns a copy of all cells.
func (b *Board) Snapshot() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]string, len(b.cells))
	for key, val := range b.cells {
		out[key] = val
	}
	return out
}

// UpdatedAt returns the time of the last update, zero if none.
func (b *Board) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}
