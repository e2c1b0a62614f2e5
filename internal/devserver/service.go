package devserver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"marketnotify/internal/pkg/jwt"
	"marketnotify/internal/pkg/utils"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInjectedFailure    = errors.New("injected failure")
)

const listLimit = 100

// Options toggle failure injection.
type Options struct {
	FailMarkRead bool
}

type Service struct {
	repo   *Repository
	hub    *Hub
	jwt    *jwt.Service
	logger *zap.Logger

	failMarkRead atomic.Bool
}

func NewService(repo *Repository, hub *Hub, jwtService *jwt.Service, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{repo: repo, hub: hub, jwt: jwtService, logger: logger}
	s.failMarkRead.Store(opts.FailMarkRead)
	hub.SetJoinFunc(s.onJoin)
	return s
}

// SetFailMarkRead makes mark-read requests fail until reset.
func (s *Service) SetFailMarkRead(fail bool) {
	s.failMarkRead.Store(fail)
}

type LoginResult struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateToken(u.ID, string(u.Role))
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &LoginResult{Token: token, User: u}, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]map[string]any, int64, error) {
	list, err := s.repo.GetNotificationsByUserID(ctx, userID, listLimit)
	if err != nil {
		return nil, 0, err
	}

	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		unread = 0
	}

	docs := make([]map[string]any, len(list))
	for i := range list {
		docs[i] = list[i].Doc()
	}
	return docs, unread, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.repo.CountUnread(ctx, userID)
}

func (s *Service) MarkAsRead(ctx context.Context, id, userID string) error {
	if s.failMarkRead.Load() {
		return ErrInjectedFailure
	}
	if err := s.repo.MarkAsRead(ctx, id, userID); err != nil {
		return err
	}
	s.pushUnreadCount(ctx, userID)
	return nil
}

func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllAsRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.pushUnreadCount(ctx, userID)
	return n, nil
}

func (s *Service) SearchProducts(ctx context.Context, q string) ([]Product, error) {
	return s.repo.SearchProducts(ctx, q, 10)
}

// CreateNotificationRequest creates a notification for a user. Data and Meta
// are stored verbatim, so any producer shape can be emulated.
type CreateNotificationRequest struct {
	UserID    string         `json:"user_id" validate:"required,objectid"`
	Type      string         `json:"type" validate:"required,max=32"`
	Message   string         `json:"message" validate:"required"`
	Priority  string         `json:"priority" validate:"omitempty,oneof=high normal low"`
	Channels  []string       `json:"channels"`
	RelatedID string         `json:"related_id" validate:"max=64"`
	Data      map[string]any `json:"data"`
	Meta      map[string]any `json:"meta"`
	// Duplicate also emits notification.created for the same record.
	Duplicate bool `json:"duplicate"`
	// Silent stores the record without pushing it; only a poll sees it.
	Silent bool `json:"silent"`
}

func (s *Service) CreateNotification(ctx context.Context, req CreateNotificationRequest) (map[string]any, error) {
	if _, err := s.repo.GetUserByID(ctx, req.UserID); err != nil {
		return nil, err
	}

	data, err := encodeJSON(req.Data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	meta, err := encodeJSON(req.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}

	channels := req.Channels
	if len(channels) == 0 {
		channels = []string{"in_app"}
	}

	n := &Notification{
		UserID:    req.UserID,
		Type:      req.Type,
		Message:   req.Message,
		Priority:  req.Priority,
		Channels:  utils.ChannelsToString(channels),
		RelatedID: req.RelatedID,
		Data:      data,
		Meta:      meta,
	}
	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return nil, err
	}

	doc := n.Doc()
	if req.Silent {
		return doc, nil
	}

	delivered := s.hub.SendToUser(n.UserID, WSEvent{Event: EventNewNotification, Data: doc})
	if req.Duplicate {
		s.hub.SendToUser(n.UserID, WSEvent{Event: EventNotificationCreated, Data: doc})
	}
	s.pushUnreadCount(ctx, n.UserID)

	s.logger.Info("notification created",
		zap.String("id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("type", n.Type),
		zap.Int("delivered", delivered),
	)
	return doc, nil
}

func (s *Service) pushUnreadCount(ctx context.Context, userID string) {
	if !s.hub.Online(userID) {
		return
	}
	n, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		s.logger.Warn("count unread", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.hub.SendToUser(userID, WSEvent{Event: EventUnreadCount, Data: n})
}

func (s *Service) onJoin(userID string) []WSEvent {
	ctx := context.Background()
	docs, unread, err := s.List(ctx, userID)
	if err != nil {
		s.logger.Warn("initial notifications", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return []WSEvent{
		{Event: EventInitialNotifications, Data: docs},
		{Event: EventNotificationUnreadCount, Data: map[string]int64{"count": unread}},
	}
}
