package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu         sync.Mutex
	readErr    error
	allErr     error
	gate       chan struct{}
	readCalls  []string
	allCalls   int
	snapshot   []Record
	fetchErr   error
	fetchCalls int
}

func (f *fakeAPI) MarkRead(ctx context.Context, id string) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls = append(f.readCalls, id)
	return f.readErr
}

func (f *fakeAPI) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allCalls++
	return f.allErr
}

func (f *fakeAPI) FetchNotifications(ctx context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	return f.snapshot, f.fetchErr
}

type countingAlerter struct {
	mu     sync.Mutex
	sounds int
	panic  bool
}

func (a *countingAlerter) Sound() error {
	a.mu.Lock()
	a.sounds++
	a.mu.Unlock()
	if a.panic {
		panic("no audio device")
	}
	return errors.New("autoplay blocked")
}

func (a *countingAlerter) Desktop(Record) error { return nil }

func rec(id string, read bool) Record {
	return Record{ID: id, Type: TypeOrder, Message: "order " + id, Read: read}
}

func ids(list []Record) []string {
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.ID
	}
	return out
}

func TestIngestIsIdempotent(t *testing.T) {
	s := NewStore(&fakeAPI{}, StoreOptions{})

	assert.True(t, s.Ingest(rec("a", false)))
	assert.False(t, s.Ingest(rec("a", false)))

	assert.Len(t, s.Notifications(), 1)
	assert.Equal(t, 1, s.UnreadCount())
	assert.Len(t, s.Toasts(), 1)
}

func TestIngestPrependsAndFlagsNew(t *testing.T) {
	s := NewStore(&fakeAPI{}, StoreOptions{})
	s.Ingest(rec("a", false))
	s.Ingest(rec("b", true))

	list := s.Notifications()
	require.Equal(t, []string{"b", "a"}, ids(list))
	assert.True(t, list[0].IsNew)
	assert.Equal(t, 1, s.UnreadCount(), "read records do not count")
	assert.Len(t, s.Toasts(), 1, "read records do not toast")
}

func TestIngestWithoutIDIsStoredEveryTime(t *testing.T) {
	s := NewStore(&fakeAPI{}, StoreOptions{})
	s.Ingest(Record{Type: TypeOther, Message: "hello"})
	s.Ingest(Record{Type: TypeOther, Message: "hello"})

	list := s.Notifications()
	require.Len(t, list, 2)
	assert.NotEqual(t, list[0].Key, list[1].Key)
	assert.Equal(t, 2, s.UnreadCount())
}

func TestIngestSwallowsAlerterFailures(t *testing.T) {
	alerter := &countingAlerter{panic: true}
	s := NewStore(&fakeAPI{}, StoreOptions{Alerter: alerter})

	assert.NotPanics(t, func() { s.Ingest(rec("a", false)) })
	assert.NotPanics(t, func() { s.Ingest(rec("b", true)) })
	assert.Equal(t, 1, alerter.sounds, "only unread records alert")
	assert.Equal(t, 1, s.UnreadCount())
}

func TestMergeSnapshotReplacesCounterAndKeepsLocalRecords(t *testing.T) {
	s := NewStore(&fakeAPI{}, StoreOptions{})
	for _, id := range []string{"l1", "l2", "l3", "l4", "x"} {
		s.Ingest(rec(id, false))
	}
	require.Equal(t, 5, s.UnreadCount())

	added := s.MergeSnapshot([]Record{
		rec("x", false),
		rec("s1", false),
		rec("s2", false),
		rec("s3", true),
		rec("s4", true),
	})

	assert.Equal(t, 4, added)
	assert.Equal(t, 3, s.UnreadCount())
	assert.Equal(t, []string{"s1", "s2", "s3", "s4", "x", "l4", "l3", "l2", "l1"}, ids(s.Notifications()))
}

func TestMergeSnapshotToastsOnlyNewUnread(t *testing.T) {
	s := NewStore(&fakeAPI{}, StoreOptions{})
	s.Ingest(rec("a", false))
	s.RemoveToast("a")

	s.MergeSnapshot([]Record{rec("a", false), rec("b", false), rec("c", true)})

	toasts := s.Toasts()
	require.Len(t, toasts, 1)
	assert.Equal(t, "b", toasts[0].Key)
}

func TestMergeSnapshotIgnoresDuplicatesInsideBatch(t *testing.T) {
	s := NewStore(&fakeAPI{}, StoreOptions{})

	added := s.MergeSnapshot([]Record{rec("a", false), rec("a", false)})

	assert.Equal(t, 1, added)
	assert.Len(t, s.Notifications(), 1)
	assert.Equal(t, 2, s.UnreadCount(), "counter still mirrors the snapshot as sent")
}

func TestMergeSnapshotDiscardsLocalOptimism(t *testing.T) {
	api := &fakeAPI{}
	s := NewStore(api, StoreOptions{})
	s.MergeSnapshot([]Record{rec("a", false), rec("b", false)})
	s.MarkRead(context.Background(), "a")
	require.Equal(t, 1, s.UnreadCount())

	// the server has not applied the read yet
	s.MergeSnapshot([]Record{rec("a", false), rec("b", false)})

	assert.Equal(t, 2, s.UnreadCount())
	got, ok := s.Get("a")
	require.True(t, ok)
	assert.True(t, got.Read, "existing records are not overwritten by the merge")
}

func TestMarkReadIsOptimistic(t *testing.T) {
	api := &fakeAPI{gate: make(chan struct{})}
	s := NewStore(api, StoreOptions{})
	s.Ingest(rec("a", false))
	s.Ingest(rec("b", false))

	done := s.MarkReadAsync(context.Background(), "a")

	got, _ := s.Get("a")
	assert.True(t, got.Read)
	assert.Equal(t, 1, s.UnreadCount())
	assert.True(t, s.Pending("a"))
	for _, toast := range s.Toasts() {
		assert.NotEqual(t, "a", toast.Key)
	}

	close(api.gate)
	<-done

	assert.False(t, s.Pending("a"))
	got, _ = s.Get("a")
	assert.True(t, got.Read)
	assert.Equal(t, 1, s.UnreadCount())
	assert.Equal(t, []string{"a"}, api.readCalls)
}

func TestMarkReadRollsBackOnFailure(t *testing.T) {
	api := &fakeAPI{readErr: errors.New("boom")}
	s := NewStore(api, StoreOptions{})
	s.Ingest(rec("a", false))

	s.MarkRead(context.Background(), "a")

	got, _ := s.Get("a")
	assert.False(t, got.Read)
	assert.Equal(t, 1, s.UnreadCount())
	assert.False(t, s.Pending("a"))
}

func TestMarkReadFloorsCounterAtZero(t *testing.T) {
	s := NewStore(&fakeAPI{}, StoreOptions{})
	s.Ingest(rec("a", false))
	s.SetUnreadCount(0)

	s.MarkRead(context.Background(), "a")

	assert.Equal(t, 0, s.UnreadCount())
}

func TestMarkReadOfUnknownRecordStillConfirms(t *testing.T) {
	api := &fakeAPI{readErr: errors.New("not found")}
	s := NewStore(api, StoreOptions{})

	s.MarkRead(context.Background(), "ghost")

	assert.Equal(t, []string{"ghost"}, api.readCalls)
	assert.Equal(t, 0, s.UnreadCount())
	assert.False(t, s.Pending("ghost"))
}

func TestMarkReadDoesNotRevertAlreadyReadRecord(t *testing.T) {
	api := &fakeAPI{readErr: errors.New("boom")}
	s := NewStore(api, StoreOptions{})
	s.Ingest(rec("a", true))

	s.MarkRead(context.Background(), "a")

	got, _ := s.Get("a")
	assert.True(t, got.Read)
	assert.Equal(t, 0, s.UnreadCount())
}

func TestStaleRollbackIsSkippedAfterMarkAllRead(t *testing.T) {
	api := &fakeAPI{gate: make(chan struct{}), readErr: errors.New("timeout")}
	s := NewStore(api, StoreOptions{})
	s.Ingest(rec("a", false))
	s.Ingest(rec("b", false))

	done := s.MarkReadAsync(context.Background(), "a")
	s.MarkAllRead(context.Background())
	close(api.gate)
	<-done

	got, _ := s.Get("a")
	assert.True(t, got.Read, "generation advanced, rollback must not apply")
	assert.Equal(t, 0, s.UnreadCount())
}

func TestMarkReadSkipsServerForLocalRecords(t *testing.T) {
	api := &fakeAPI{}
	s := NewStore(api, StoreOptions{})
	s.Ingest(Record{Type: TypeOther, Message: "no id"})
	key := s.Notifications()[0].Key

	s.MarkRead(context.Background(), key)

	assert.Empty(t, api.readCalls)
	got, _ := s.Get(key)
	assert.True(t, got.Read)
	assert.Equal(t, 0, s.UnreadCount())
}

func TestMarkAllReadHasNoRollback(t *testing.T) {
	api := &fakeAPI{allErr: errors.New("boom")}
	s := NewStore(api, StoreOptions{})
	s.Ingest(rec("a", false))
	s.Ingest(rec("b", false))

	s.MarkAllRead(context.Background())

	assert.Equal(t, 0, s.UnreadCount())
	for _, r := range s.Notifications() {
		assert.True(t, r.Read)
	}
	assert.Empty(t, s.Toasts())
	assert.Equal(t, 1, api.allCalls)
}

func TestRemoveToastKeepsReadState(t *testing.T) {
	s := NewStore(&fakeAPI{}, StoreOptions{})
	s.Ingest(rec("a", false))

	s.RemoveToast("a")

	assert.Empty(t, s.Toasts())
	got, _ := s.Get("a")
	assert.False(t, got.Read)
	assert.Equal(t, 1, s.UnreadCount())
}

func TestToastsExpire(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(&fakeAPI{}, StoreOptions{
		ToastTTL: 5 * time.Second,
		Now:      func() time.Time { return now },
	})
	s.Ingest(rec("a", false))
	require.Len(t, s.Toasts(), 1)

	now = now.Add(6 * time.Second)
	assert.Empty(t, s.Toasts())
}

func TestConsumeToastsClearsNewFlag(t *testing.T) {
	s := NewStore(&fakeAPI{}, StoreOptions{})
	s.Ingest(rec("a", false))

	consumed := s.ConsumeToasts()

	require.Len(t, consumed, 1)
	assert.True(t, consumed[0].Record.IsNew)
	assert.Empty(t, s.Toasts())
	got, _ := s.Get("a")
	assert.False(t, got.IsNew)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	s := NewStore(&fakeAPI{}, StoreOptions{})
	ch, unsubscribe := s.Subscribe(4)
	defer unsubscribe()

	s.Ingest(rec("a", false))
	s.SetUnreadCount(7)

	first := <-ch
	assert.Equal(t, ChangeIngested, first.Kind)
	assert.Equal(t, "a", first.Key)
	second := <-ch
	assert.Equal(t, ChangeUnreadCount, second.Kind)
	assert.Equal(t, 7, second.UnreadCount)
}

func TestSubscribeSeesConcurrentChangesInOrder(t *testing.T) {
	const workers, perWorker = 8, 20
	s := NewStore(&fakeAPI{}, StoreOptions{})
	ch, unsubscribe := s.Subscribe(workers * perWorker)
	defer unsubscribe()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.Ingest(rec(fmt.Sprintf("w%d-%d", w, i), false))
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, ch, workers*perWorker)
	for want := 1; want <= workers*perWorker; want++ {
		c := <-ch
		require.Equal(t, want, c.UnreadCount)
	}
}

func TestSetUnreadCountFloorsAtZero(t *testing.T) {
	s := NewStore(&fakeAPI{}, StoreOptions{})
	s.SetUnreadCount(-3)
	assert.Equal(t, 0, s.UnreadCount())
}
