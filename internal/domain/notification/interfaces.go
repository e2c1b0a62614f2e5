package notification

import "context"

// Fetcher returns the server's current notification snapshot.
type Fetcher interface {
	FetchNotifications(ctx context.Context) ([]Record, error)
}

// ReadMarker persists read state on the server.
type ReadMarker interface {
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

// Alerter plays the one-shot side effects of a fresh unread notification.
// Implementations may fail; the store ignores their errors.
type Alerter interface {
	Sound() error
	Desktop(rec Record) error
}

// SeenSet is a short-lived memory of delivered notification ids.
type SeenSet interface {
	// Seen reports whether id was already delivered inside the window and
	// records it otherwise.
	Seen(ctx context.Context, id string) bool
}
