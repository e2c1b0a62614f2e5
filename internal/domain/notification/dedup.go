package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDedupWindow is both the entry lifetime and the prune period.
const DefaultDedupWindow = 15 * time.Second

// Window suppresses a push delivery whose id was already delivered within
// the window. It only guards the push path; poll merges rely on the store's
// own id check.
type Window struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewWindow creates a dedup window. A zero ttl uses DefaultDedupWindow.
func NewWindow(ttl time.Duration, now func() time.Time, logger *zap.Logger) *Window {
	if ttl <= 0 {
		ttl = DefaultDedupWindow
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Window{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		now:    now,
		logger: logger,
	}
}

// Seen reports whether id is inside the window and records it if not.
// Records without an id are never suppressed.
func (w *Window) Seen(_ context.Context, id string) bool {
	if id == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if first, ok := w.seen[id]; ok && now.Sub(first) <= w.ttl {
		return true
	}
	w.seen[id] = now
	return false
}

// Prune drops entries older than the window and returns how many went.
func (w *Window) Prune() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	removed := 0
	for id, first := range w.seen {
		if now.Sub(first) > w.ttl {
			delete(w.seen, id)
			removed++
		}
	}
	return removed
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Run prunes on a fixed tick until ctx is done.
func (w *Window) Run(ctx context.Context) {
	ticker := time.NewTicker(w.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := w.Prune(); n > 0 {
				w.logger.Debug("dedup window pruned", zap.Int("removed", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
