package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Push channel event names.
const (
	EventJoin                    = "join"
	EventInitialNotifications    = "initialNotifications"
	EventNewNotification         = "newNotification"
	EventNotificationCreated     = "notification.created"
	EventUnreadCount             = "unreadCount"
	EventNotificationUnreadCount = "notification.unreadCount"
)

// Ingestor routes raw push events into the store. Single-record events pass
// through the dedup window first.
type Ingestor struct {
	store  *Store
	dedup  SeenSet
	logger *zap.Logger
}

func NewIngestor(store *Store, dedup SeenSet, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{store: store, dedup: dedup, logger: logger}
}

// Handle applies one push event. Malformed payloads and unknown events are
// logged and dropped.
func (i *Ingestor) Handle(ctx context.Context, event string, data json.RawMessage) {
	if err := i.handle(ctx, event, data); err != nil {
		i.logger.Warn("push event dropped", zap.String("event", event), zap.Error(err))
	}
}

func (i *Ingestor) handle(ctx context.Context, event string, data json.RawMessage) error {
	switch event {
	case EventInitialNotifications:
		list, err := DecodeList(data)
		if err != nil {
			return err
		}
		added := i.store.MergeSnapshot(list)
		i.logger.Debug("initial notifications merged", zap.Int("received", len(list)), zap.Int("added", added))
		return nil

	case EventNewNotification, EventNotificationCreated:
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if i.dedup != nil && i.dedup.Seen(ctx, rec.ID) {
			i.logger.Debug("duplicate push delivery suppressed", zap.String("id", rec.ID))
			return nil
		}
		if !i.store.Ingest(rec) {
			i.logger.Debug("notification already stored", zap.String("id", rec.ID))
		}
		return nil

	case EventUnreadCount, EventNotificationUnreadCount:
		n, err := decodeCount(data)
		if err != nil {
			return err
		}
		i.store.SetUnreadCount(n)
		return nil
	}
	return ErrUnknownEvent
}

// DecodeList decodes a notification list sent either as a bare array or
// wrapped as {"notifications": [...]}. Elements that are not objects are
// skipped.
func DecodeList(data json.RawMessage) ([]Record, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var wrapped struct {
			Notifications []json.RawMessage `json:"notifications"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		raw = wrapped.Notifications
	}

	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal(item, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeCount(data json.RawMessage) (int, error) {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		return countOf(n)
	}
	var wrapped struct {
		Count       *float64 `json:"count"`
		UnreadCount *float64 `json:"unreadCount"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	switch {
	case wrapped.Count != nil:
		return countOf(*wrapped.Count)
	case wrapped.UnreadCount != nil:
		return countOf(*wrapped.UnreadCount)
	}
	return 0, ErrMalformedPayload
}

// countOf accepts whole numbers in the int32 range. Negative counts pass and
// are floored by the store.
func countOf(n float64) (int, error) {
	if math.IsNaN(n) || n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
		return 0, fmt.Errorf("%w: unread count %v", ErrMalformedPayload, n)
	}
	return int(n), nil
}
