package notification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultToastTTL = 8 * time.Second

	localKeyPrefix = "local:"
)

// Toast is an unread notification waiting to be shown or dismissed.
type Toast struct {
	Key     string    `json:"key"`
	Record  Record    `json:"notification"`
	AddedAt time.Time `json:"added_at"`
}

// ChangeKind names a store mutation in the change feed.
type ChangeKind string

const (
	ChangeIngested     ChangeKind = "ingested"
	ChangeMerged       ChangeKind = "merged"
	ChangeRead         ChangeKind = "read"
	ChangeReadReverted ChangeKind = "read_reverted"
	ChangeAllRead      ChangeKind = "all_read"
	ChangeUnreadCount  ChangeKind = "unread_count"
	ChangeToastRemoved ChangeKind = "toast_removed"
)

// Change is one entry of the store change feed.
type Change struct {
	Kind        ChangeKind `json:"kind"`
	Key         string     `json:"key,omitempty"`
	UnreadCount int        `json:"unread_count"`
}

// StoreOptions configures a Store.
type StoreOptions struct {
	ToastTTL time.Duration
	Alerter  Alerter
	Logger   *zap.Logger
	Now      func() time.Time
}

// Store is the authoritative in-memory notification collection.
//
// Every exported operation runs under one mutex, so list and counter
// mutations are atomic relative to each other. Nothing orders a push ingest
// against a poll merge; the id check is the only guard against double
// counting.
type Store struct {
	mu       sync.Mutex
	items    []*Record
	index    map[string]*Record
	unread   int
	pending  map[string]int
	toasts   []Toast
	subs     map[int]chan Change
	nextSub  int
	api      ReadMarker
	alerter  Alerter
	logger   *zap.Logger
	now      func() time.Time
	toastTTL time.Duration
}

// NewStore creates an empty store confirming read state through api.
func NewStore(api ReadMarker, opts StoreOptions) *Store {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ToastTTL <= 0 {
		opts.ToastTTL = DefaultToastTTL
	}
	return &Store{
		index:    make(map[string]*Record),
		pending:  make(map[string]int),
		subs:     make(map[int]chan Change),
		api:      api,
		alerter:  opts.Alerter,
		logger:   opts.Logger,
		now:      opts.Now,
		toastTTL: opts.ToastTTL,
	}
}

// Ingest stores a pushed record. A record whose id is already present is
// ignored and Ingest returns false.
func (s *Store) Ingest(rec Record) bool {
	s.mu.Lock()
	if rec.ID != "" {
		if _, ok := s.index[rec.ID]; ok {
			s.mu.Unlock()
			return false
		}
	}

	stored := s.insertLocked(rec)
	stored.IsNew = true
	if !stored.Read {
		s.unread++
		s.addToastLocked(stored)
	}
	snapshot := stored.Clone()
	s.publishLocked(Change{Kind: ChangeIngested, Key: stored.Key, UnreadCount: s.unread})
	s.mu.Unlock()

	if !snapshot.Read {
		s.alert(snapshot)
	}
	return true
}

// MergeSnapshot merges a server snapshot. Records not yet present are
// prepended in server order; existing local records are kept untouched.
// The unread counter is then replaced by the snapshot's unread count, which
// discards any local optimistic adjustment the server has not seen yet.
func (s *Store) MergeSnapshot(list []Record) int {
	s.mu.Lock()
	fresh := make([]*Record, 0, len(list))
	batch := make(map[string]struct{}, len(list))
	unread := 0
	for _, rec := range list {
		if !rec.Read {
			unread++
		}
		if rec.ID != "" {
			if _, ok := s.index[rec.ID]; ok {
				continue
			}
			if _, ok := batch[rec.ID]; ok {
				continue
			}
			batch[rec.ID] = struct{}{}
		}
		stored := rec.Clone()
		stored.IsNew = false
		stored.Key = keyFor(stored)
		fresh = append(fresh, &stored)
	}

	for i := len(fresh) - 1; i >= 0; i-- {
		s.index[fresh[i].Key] = fresh[i]
		if !fresh[i].Read {
			s.addToastLocked(fresh[i])
		}
	}
	s.items = append(fresh, s.items...)
	s.unread = unread
	s.publishLocked(Change{Kind: ChangeMerged, UnreadCount: s.unread})
	s.mu.Unlock()
	return len(fresh)
}

// SetUnreadCount applies a server-pushed unread count.
func (s *Store) SetUnreadCount(n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	s.unread = n
	s.publishLocked(Change{Kind: ChangeUnreadCount, UnreadCount: n})
	s.mu.Unlock()
}

// MarkRead optimistically marks key read and blocks until the server
// confirms or rejects it.
func (s *Store) MarkRead(ctx context.Context, key string) {
	<-s.MarkReadAsync(ctx, key)
}

// MarkReadAsync applies the optimistic update before returning and confirms
// it in the background. The returned channel closes once the confirmation
// has been applied or rolled back.
//
// A rejected confirmation reverts the record only if this call flipped it
// and no later mutation advanced its generation.
func (s *Store) MarkReadAsync(ctx context.Context, key string) <-chan struct{} {
	s.mu.Lock()
	var (
		flipped bool
		gen     uint64
	)
	if rec, ok := s.index[key]; ok {
		if !rec.Read {
			rec.Read = true
			rec.generation++
			flipped = true
			if s.unread > 0 {
				s.unread--
			}
		}
		gen = rec.generation
	}
	s.pending[key]++
	s.removeToastLocked(key)
	s.publishLocked(Change{Kind: ChangeRead, Key: key, UnreadCount: s.unread})
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)

		var err error
		if isLocalKey(key) {
			s.logger.Debug("notification has no server id, skipping read confirmation", zap.String("key", key))
		} else {
			err = s.api.MarkRead(ctx, key)
		}
		s.finishMarkRead(key, flipped, gen, err)
	}()
	return done
}

func (s *Store) finishMarkRead(key string, flipped bool, gen uint64, err error) {
	s.mu.Lock()
	if s.pending[key] <= 1 {
		delete(s.pending, key)
	} else {
		s.pending[key]--
	}
	if err == nil {
		s.mu.Unlock()
		return
	}

	reverted := false
	if rec, ok := s.index[key]; ok && flipped && rec.Read && rec.generation == gen {
		rec.Read = false
		rec.generation++
		s.unread++
		reverted = true
		s.publishLocked(Change{Kind: ChangeReadReverted, Key: key, UnreadCount: s.unread})
	}
	s.mu.Unlock()

	s.logger.Warn("mark read rejected by server",
		zap.String("key", key),
		zap.Bool("reverted", reverted),
		zap.Error(err),
	)
}

// MarkAllRead optimistically marks every record read and blocks until the
// server answered. A failure is logged and not rolled back; the next poll
// reconciles the counter.
func (s *Store) MarkAllRead(ctx context.Context) {
	<-s.MarkAllReadAsync(ctx)
}

// MarkAllReadAsync applies the optimistic update before returning.
func (s *Store) MarkAllReadAsync(ctx context.Context) <-chan struct{} {
	s.mu.Lock()
	for _, rec := range s.items {
		rec.Read = true
		rec.generation++
	}
	s.unread = 0
	s.toasts = nil
	s.publishLocked(Change{Kind: ChangeAllRead, UnreadCount: 0})
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.api.MarkAllRead(ctx); err != nil {
			s.logger.Warn("mark all read rejected by server", zap.Error(err))
		}
	}()
	return done
}

// RemoveToast drops the toast for key. Read state is not touched.
func (s *Store) RemoveToast(key string) {
	s.mu.Lock()
	if s.removeToastLocked(key) {
		s.publishLocked(Change{Kind: ChangeToastRemoved, Key: key, UnreadCount: s.unread})
	}
	s.mu.Unlock()
}

// Toasts returns the toasts that have not timed out, newest first.
func (s *Store) Toasts() []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireToastsLocked()
	out := make([]Toast, len(s.toasts))
	copy(out, s.toasts)
	return out
}

// ConsumeToasts drains the live toasts and clears the isNew flag on their
// records.
func (s *Store) ConsumeToasts() []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireToastsLocked()
	out := s.toasts
	s.toasts = nil
	for _, t := range out {
		if rec, ok := s.index[t.Key]; ok {
			rec.IsNew = false
		}
	}
	return out
}

// Notifications returns a copy of the records, most recent first.
func (s *Store) Notifications() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, len(s.items))
	for i, rec := range s.items {
		out[i] = rec.Clone()
	}
	return out
}

// Get returns a copy of the record stored under key.
func (s *Store) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index[key]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// UnreadCount returns the unread counter, including optimistic updates not
// yet confirmed by the server.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Pending reports whether a read confirmation for key is in flight.
func (s *Store) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[key] > 0
}

// Subscribe registers a change listener. Slow listeners miss changes rather
// than block the store. The returned func unsubscribes.
func (s *Store) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Change, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// publishLocked sends c while s.mu is held, so listeners see changes in the
// order they were applied.
func (s *Store) publishLocked(c Change) {
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (s *Store) insertLocked(rec Record) *Record {
	stored := rec.Clone()
	stored.Key = keyFor(stored)
	s.items = append([]*Record{&stored}, s.items...)
	s.index[stored.Key] = &stored
	return &stored
}

func (s *Store) addToastLocked(rec *Record) {
	s.removeToastLocked(rec.Key)
	s.toasts = append([]Toast{{Key: rec.Key, Record: rec.Clone(), AddedAt: s.now()}}, s.toasts...)
}

func (s *Store) removeToastLocked(key string) bool {
	for i, t := range s.toasts {
		if t.Key == key {
			s.toasts = append(s.toasts[:i], s.toasts[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) expireToastsLocked() {
	now := s.now()
	kept := s.toasts[:0]
	for _, t := range s.toasts {
		if now.Sub(t.AddedAt) < s.toastTTL {
			kept = append(kept, t)
		}
	}
	s.toasts = kept
}

func (s *Store) alert(rec Record) {
	if s.alerter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("notification alert panicked", zap.Any("panic", r))
		}
	}()
	if err := s.alerter.Sound(); err != nil {
		s.logger.Debug("notification sound failed", zap.Error(err))
	}
	if err := s.alerter.Desktop(rec); err != nil {
		s.logger.Debug("desktop alert failed", zap.Error(err))
	}
}

func keyFor(rec Record) string {
	if rec.ID != "" {
		return rec.ID
	}
	return localKeyPrefix + uuid.NewString()
}

func isLocalKey(key string) bool {
	return strings.HasPrefix(key, localKeyPrefix)
}
