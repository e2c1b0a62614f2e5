package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// InitInterval is the poll period right after start-up.
	InitInterval = 30 * time.Second
	// PanelInterval is the poll period while the notification panel is open.
	PanelInterval = 120 * time.Second

	fetchTimeout = 30 * time.Second
)

// Poller periodically merges the server snapshot into the store. It is the
// fallback for push deliveries that never arrived.
type Poller struct {
	fetcher  Fetcher
	store    *Store
	logger   *zap.Logger
	trigger  chan struct{}
	reset    chan struct{}
	mu       sync.Mutex
	interval time.Duration
	lastSync time.Time
	lastErr  error
}

// NewPoller creates a poller. A non-positive interval uses InitInterval.
func NewPoller(fetcher Fetcher, store *Store, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = InitInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		fetcher:  fetcher,
		store:    store,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		reset:    make(chan struct{}, 1),
		interval: interval,
	}
}

// Run fetches immediately, then on every tick or Refresh until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		case <-p.trigger:
			p.poll(ctx)
		case <-p.reset:
			ticker.Reset(p.Interval())
		}
	}
}

// Refresh requests an immediate fetch without blocking. Requests made while
// one is already queued collapse into it.
func (p *Poller) Refresh() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// SetInterval changes the poll period of a running poller.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	changed := p.interval != d
	p.interval = d
	p.mu.Unlock()

	if !changed {
		return
	}
	select {
	case p.reset <- struct{}{}:
	default:
	}
}

func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// LastSync returns the time of the last successful fetch and the error of
// the last attempt.
func (p *Poller) LastSync() (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSync, p.lastErr
}

// SyncOnce fetches and merges one snapshot.
func (p *Poller) SyncOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	list, err := p.fetcher.FetchNotifications(ctx)

	p.mu.Lock()
	p.lastErr = err
	if err == nil {
		p.lastSync = time.Now()
	}
	p.mu.Unlock()

	if err != nil {
		return err
	}
	added := p.store.MergeSnapshot(list)
	p.logger.Debug("notification snapshot merged",
		zap.Int("received", len(list)),
		zap.Int("added", added),
		zap.Int("unread", p.store.UnreadCount()),
	)
	return nil
}

func (p *Poller) poll(ctx context.Context) {
	if err := p.SyncOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("notification poll failed", zap.Error(err))
	}
}
