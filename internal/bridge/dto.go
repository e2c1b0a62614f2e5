package bridge

import (
	"marketnotify/internal/domain/linkresolver"
	"marketnotify/internal/domain/notification"
)

// NotificationResponse is one record as seen by UI collaborators.
type NotificationResponse struct {
	notification.Record
	Priority notification.Priority `json:"priority"`
	Pending  bool                  `json:"pending"`
}

type NotificationListResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
	UnreadCount   int                    `json:"unread_count"`
}

type UnreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}

type ToastListResponse struct {
	Toasts []notification.Toast `json:"toasts"`
}

type MarkReadResponse struct {
	Key         string `json:"key"`
	Read        bool   `json:"read"`
	Pending     bool   `json:"pending"`
	UnreadCount int    `json:"unread_count"`
}

// OpenRequest carries the viewer role of a notification click.
type OpenRequest struct {
	Role string `json:"role" validate:"required,oneof=buyer user seller admin"`
}

type OpenResponse struct {
	URL           string `json:"url"`
	Path          string `json:"path"`
	Query         string `json:"query"`
	RelatedID     string `json:"related_id,omitempty"`
	Fragment      string `json:"fragment,omitempty"`
	LoginRequired bool   `json:"login_required"`
	MarkedRead    bool   `json:"marked_read"`
}

type PanelResponse struct {
	Open            bool    `json:"open"`
	IntervalSeconds float64 `json:"interval_seconds"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Connection  string `json:"connection"`
	UnreadCount int    `json:"unread_count"`
	LastSync    string `json:"last_sync,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

func toNotificationResponse(rec notification.Record, pending bool) NotificationResponse {
	return NotificationResponse{
		Record:   rec,
		Priority: rec.EffectivePriority(),
		Pending:  pending,
	}
}

func toOpenResponse(nav linkresolver.Navigation, marked bool) OpenResponse {
	return OpenResponse{
		URL:           nav.URL,
		Path:          nav.Target.Path,
		Query:         nav.Target.Query(),
		RelatedID:     nav.Target.RelatedID,
		Fragment:      nav.Target.Fragment,
		LoginRequired: nav.LoginRequired,
		MarkedRead:    marked,
	}
}
