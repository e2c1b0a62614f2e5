package notification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIngestor(clock *fakeClock) (*Ingestor, *Store) {
	store := NewStore(&fakeAPI{}, StoreOptions{})
	return NewIngestor(store, NewWindow(15*time.Second, clock.Now, nil), nil), store
}

func TestIngestorDedupsNearSimultaneousDeliveries(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	ing, store := newTestIngestor(clock)
	ctx := context.Background()
	payload := json.RawMessage(`{"_id":"n1","type":"order","message":"Order shipped","read":false}`)

	ing.Handle(ctx, EventNewNotification, payload)
	clock.Advance(2 * time.Second)
	ing.Handle(ctx, EventNotificationCreated, payload)

	assert.Len(t, store.Notifications(), 1)
	assert.Equal(t, 1, store.UnreadCount())
}

func TestIngestorAfterWindowFallsBackToStoreCheck(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	ing, store := newTestIngestor(clock)
	ctx := context.Background()
	payload := json.RawMessage(`{"_id":"n1","type":"order","message":"Order shipped"}`)

	ing.Handle(ctx, EventNewNotification, payload)
	clock.Advance(20 * time.Second)
	ing.Handle(ctx, EventNewNotification, payload)

	assert.Len(t, store.Notifications(), 1, "store id check still holds")
	assert.Equal(t, 1, store.UnreadCount())
}

func TestIngestorInitialNotificationsMerge(t *testing.T) {
	ing, store := newTestIngestor(&fakeClock{t: time.Now()})

	ing.Handle(context.Background(), EventInitialNotifications, json.RawMessage(`[
		{"_id":"a","type":"order","message":"one","read":false},
		{"_id":"b","type":"product","message":"two","read":true},
		"garbage"
	]`))

	assert.Len(t, store.Notifications(), 2)
	assert.Equal(t, 1, store.UnreadCount())
}

func TestIngestorUnreadCountShapes(t *testing.T) {
	ing, store := newTestIngestor(&fakeClock{t: time.Now()})
	ctx := context.Background()

	ing.Handle(ctx, EventUnreadCount, json.RawMessage(`4`))
	assert.Equal(t, 4, store.UnreadCount())

	ing.Handle(ctx, EventNotificationUnreadCount, json.RawMessage(`{"count":9}`))
	assert.Equal(t, 9, store.UnreadCount())

	ing.Handle(ctx, EventNotificationUnreadCount, json.RawMessage(`"lots"`))
	assert.Equal(t, 9, store.UnreadCount(), "malformed counts are dropped")
}

func TestIngestorRejectsInexactCounts(t *testing.T) {
	ing, store := newTestIngestor(&fakeClock{t: time.Now()})
	ctx := context.Background()
	store.SetUnreadCount(3)

	for _, raw := range []string{`2.5`, `{"count":1e300}`, `{"unreadCount":-1e12}`, `{"count":7.0000001}`} {
		err := ing.handle(ctx, EventUnreadCount, json.RawMessage(raw))
		require.ErrorIs(t, err, ErrMalformedPayload, raw)
	}
	assert.Equal(t, 3, store.UnreadCount())

	require.NoError(t, ing.handle(ctx, EventUnreadCount, json.RawMessage(`{"unreadCount":12.0}`)))
	assert.Equal(t, 12, store.UnreadCount())

	require.NoError(t, ing.handle(ctx, EventUnreadCount, json.RawMessage(`-2`)))
	assert.Equal(t, 0, store.UnreadCount())
}

func TestIngestorKeepsRecordsWithoutID(t *testing.T) {
	ing, store := newTestIngestor(&fakeClock{t: time.Now()})
	ctx := context.Background()
	payload := json.RawMessage(`{"type":"other","message":"anonymous"}`)

	ing.Handle(ctx, EventNewNotification, payload)
	ing.Handle(ctx, EventNewNotification, payload)

	assert.Len(t, store.Notifications(), 2)
}

func TestIngestorDropsUnknownAndMalformed(t *testing.T) {
	ing, store := newTestIngestor(&fakeClock{t: time.Now()})
	ctx := context.Background()

	ing.Handle(ctx, "typing", json.RawMessage(`{}`))
	ing.Handle(ctx, EventNewNotification, json.RawMessage(`[1,2]`))

	assert.Empty(t, store.Notifications())
	err := ing.handle(ctx, "typing", nil)
	require.ErrorIs(t, err, ErrUnknownEvent)
	err = ing.handle(ctx, EventNewNotification, json.RawMessage(`[1,2]`))
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeListWrapped(t *testing.T) {
	list, err := DecodeList(json.RawMessage(`{"notifications":[{"id":"a"}],"unread_count":1}`))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ID)
}
