package bridge

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketnotify/internal/domain/linkresolver"
	"marketnotify/internal/domain/notification"
	"marketnotify/internal/domain/realtime"
	"marketnotify/internal/middleware"
	"marketnotify/internal/pkg/response"
	"marketnotify/internal/pkg/validator"
)

const keepAlivePeriod = 25 * time.Second

// Navigator resolves click destinations.
type Navigator interface {
	Destination(ctx context.Context, rec *notification.Record, role linkresolver.Role, token string, now time.Time) linkresolver.Navigation
}

// Poller is the part of the reconciliation poller the bridge drives.
type Poller interface {
	SetInterval(d time.Duration)
	Interval() time.Duration
	Refresh()
	LastSync() (time.Time, error)
}

// Connection reports push connection state.
type Connection interface {
	State() realtime.State
}

// Deps are the collaborators of the bridge.
type Deps struct {
	// Ctx bounds read confirmations started by bridge calls. They outlive
	// the request that started them.
	Ctx           context.Context
	Store         *notification.Store
	Navigator     Navigator
	Poller        Poller
	Connection    Connection
	InitInterval  time.Duration
	PanelInterval time.Duration
	// SessionToken is used for /open when the caller sends no Authorization.
	SessionToken func() string
	Logger       *zap.Logger
	Now          func() time.Time
}

type Handler struct {
	deps Deps
}

func NewHandler(deps Deps) *Handler {
	if deps.Ctx == nil {
		deps.Ctx = context.Background()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.InitInterval <= 0 {
		deps.InitInterval = notification.InitInterval
	}
	if deps.PanelInterval <= 0 {
		deps.PanelInterval = notification.PanelInterval
	}
	return &Handler{deps: deps}
}

// GetNotifications returns the ordered notification list and unread count.
func (h *Handler) GetNotifications(c *gin.Context) {
	records := h.deps.Store.Notifications()
	items := make([]NotificationResponse, len(records))
	for i, rec := range records {
		items[i] = toNotificationResponse(rec, h.deps.Store.Pending(rec.Key))
	}

	response.Success(c, http.StatusOK, NotificationListResponse{
		Notifications: items,
		UnreadCount:   h.deps.Store.UnreadCount(),
	})
}

func (h *Handler) GetUnreadCount(c *gin.Context) {
	response.Success(c, http.StatusOK, UnreadCountResponse{UnreadCount: h.deps.Store.UnreadCount()})
}

// MarkAsRead applies the optimistic read flip and confirms in the background.
func (h *Handler) MarkAsRead(c *gin.Context) {
	key := c.Param("id")
	if _, ok := h.deps.Store.Get(key); !ok {
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Notification not found")
		return
	}

	h.deps.Store.MarkReadAsync(h.deps.Ctx, key)

	response.Success(c, http.StatusAccepted, MarkReadResponse{
		Key:         key,
		Read:        true,
		Pending:     h.deps.Store.Pending(key),
		UnreadCount: h.deps.Store.UnreadCount(),
	})
}

func (h *Handler) MarkAllAsRead(c *gin.Context) {
	h.deps.Store.MarkAllReadAsync(h.deps.Ctx)
	response.Success(c, http.StatusAccepted, UnreadCountResponse{UnreadCount: h.deps.Store.UnreadCount()})
}

func (h *Handler) GetToasts(c *gin.Context) {
	response.Success(c, http.StatusOK, ToastListResponse{Toasts: nonNil(h.deps.Store.Toasts())})
}

func (h *Handler) ConsumeToasts(c *gin.Context) {
	response.Success(c, http.StatusOK, ToastListResponse{Toasts: nonNil(h.deps.Store.ConsumeToasts())})
}

func (h *Handler) DismissToast(c *gin.Context) {
	h.deps.Store.RemoveToast(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// Open resolves where a click leads. The record is marked read unless the
// click needs a login first.
func (h *Handler) Open(c *gin.Context) {
	key := c.Param("id")
	rec, ok := h.deps.Store.Get(key)
	if !ok {
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Notification not found")
		return
	}

	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", errs)
		return
	}

	token := middleware.BearerToken(c)
	if token == "" && h.deps.SessionToken != nil {
		token = h.deps.SessionToken()
	}

	nav := h.deps.Navigator.Destination(c.Request.Context(), &rec, linkresolver.Role(req.Role), token, h.deps.Now())

	marked := false
	if nav.MarkRead && !rec.Read {
		h.deps.Store.MarkReadAsync(h.deps.Ctx, key)
		marked = true
	}

	response.Success(c, http.StatusOK, toOpenResponse(nav, marked))
}

func (h *Handler) OpenPanel(c *gin.Context) {
	h.setPanel(c, true)
}

func (h *Handler) ClosePanel(c *gin.Context) {
	h.setPanel(c, false)
}

func (h *Handler) setPanel(c *gin.Context, open bool) {
	interval := h.deps.InitInterval
	if open {
		interval = h.deps.PanelInterval
	}
	h.deps.Poller.SetInterval(interval)
	if open {
		h.deps.Poller.Refresh()
	}

	response.Success(c, http.StatusOK, PanelResponse{
		Open:            open,
		IntervalSeconds: h.deps.Poller.Interval().Seconds(),
	})
}

// Stream is a server-sent event feed of store changes.
func (h *Handler) Stream(c *gin.Context) {
	changes, unsubscribe := h.deps.Store.Subscribe(64)
	defer unsubscribe()

	keepAlive := time.NewTicker(keepAlivePeriod)
	defer keepAlive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("unread_count", UnreadCountResponse{UnreadCount: h.deps.Store.UnreadCount()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case change, ok := <-changes:
			if !ok {
				return false
			}
			c.SSEvent("change", change)
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", h.deps.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}

func (h *Handler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:      "ok",
		Connection:  h.deps.Connection.State().String(),
		UnreadCount: h.deps.Store.UnreadCount(),
	}
	last, err := h.deps.Poller.LastSync()
	if !last.IsZero() {
		resp.LastSync = last.UTC().Format(time.RFC3339)
	}
	if err != nil {
		resp.LastError = err.Error()
	}
	if h.deps.Connection.State() != realtime.StateConnected {
		resp.Status = "degraded"
	}
	c.JSON(http.StatusOK, resp)
}

func nonNil(t []notification.Toast) []notification.Toast {
	if t == nil {
		return []notification.Toast{}
	}
	return t
}
