package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketnotify/internal/config"
	"marketnotify/internal/database"
	"marketnotify/internal/devserver"
	"marketnotify/internal/domain/notification"
	"marketnotify/internal/domain/realtime"
	"marketnotify/internal/pkg/jwt"
)

const testPassword = "password123"

func init() {
	gin.SetMode(gin.TestMode)
}

type backend struct {
	ts   *httptest.Server
	dev  *devserver.Server
	seed *devserver.SeedResult
}

func newBackend(t *testing.T) *backend {
	t.Helper()

	db, err := database.Connect("file:"+t.Name()+"?mode=memory&cache=shared", nil)
	require.NoError(t, err)

	dev := devserver.New(db, jwt.New("test-secret", time.Hour), devserver.Options{}, nil)
	require.NoError(t, dev.Repo.Migrate())
	seed, err := devserver.Seed(context.Background(), dev.Repo, testPassword)
	require.NoError(t, err)

	ts := httptest.NewServer(dev.Router)
	t.Cleanup(func() {
		ts.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return &backend{ts: ts, dev: dev, seed: seed}
}

func (b *backend) config(email string) *config.Config {
	return &config.Config{
		AppEnv:  "test",
		API:     config.APIConfig{BaseURL: b.ts.URL, Timeout: 5 * time.Second},
		Push:    config.PushConfig{URL: "ws" + strings.TrimPrefix(b.ts.URL, "http") + "/ws", MinBackoff: 50 * time.Millisecond, MaxBackoff: 200 * time.Millisecond},
		Session: config.SessionConfig{Email: email, Password: testPassword},
		Poll:    config.PollConfig{InitInterval: time.Minute, PanelInterval: 2 * time.Minute},
		Dedup:   config.DedupConfig{Window: 15 * time.Second, Backend: "memory"},
		Toast:   config.ToastConfig{TTL: 8 * time.Second},
		Bridge:  config.BridgeConfig{Addr: "127.0.0.1:0"},
	}
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
	})
	return a
}

func bridgeCall(t *testing.T, a *App, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func findByMessage(list []notification.Record, substr string) (notification.Record, bool) {
	for _, r := range list {
		if strings.Contains(r.Message, substr) {
			return r, true
		}
	}
	return notification.Record{}, false
}

func TestDaemonSyncsOnJoin(t *testing.T) {
	b := newBackend(t)
	a := startApp(t, b.config(devserver.BuyerEmail))

	assert.Equal(t, b.seed.Buyer.ID, a.UserID())
	require.Eventually(t, func() bool {
		return a.Manager().State() == realtime.StateConnected && len(a.Store().Notifications()) == 4
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 3, a.Store().UnreadCount())

	code, body := bridgeCall(t, a, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "connected", body["connection"])
}

func TestDaemonSuppressesDuplicatePush(t *testing.T) {
	b := newBackend(t)
	a := startApp(t, b.config(devserver.BuyerEmail))
	require.Eventually(t, func() bool {
		return b.dev.Hub.Online(b.seed.Buyer.ID) && len(a.Store().Notifications()) == 4
	}, 5*time.Second, 20*time.Millisecond)

	doc, err := b.dev.Service.CreateNotification(context.Background(), devserver.CreateNotificationRequest{
		UserID:    b.seed.Buyer.ID,
		Type:      "order",
		Message:   "Order confirmed",
		RelatedID: b.seed.Products[0].ID,
		Duplicate: true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(a.Store().Notifications()) == 5
	}, 5*time.Second, 20*time.Millisecond)
	assert.Never(t, func() bool {
		return len(a.Store().Notifications()) > 5
	}, 300*time.Millisecond, 20*time.Millisecond)

	id := doc["_id"].(string)
	_, ok := a.Store().Get(id)
	assert.True(t, ok)
	assert.Eventually(t, func() bool {
		return a.Store().UnreadCount() == 4
	}, 2*time.Second, 20*time.Millisecond)

	code, body := bridgeCall(t, a, http.MethodGet, "/api/v1/toasts", nil)
	require.Equal(t, http.StatusOK, code)
	keys := []any{}
	for _, toast := range body["data"].(map[string]any)["toasts"].([]any) {
		keys = append(keys, toast.(map[string]any)["key"])
	}
	assert.Contains(t, keys, id)
}

func TestDaemonOpenResolvesAndMarksRead(t *testing.T) {
	b := newBackend(t)
	a := startApp(t, b.config(devserver.BuyerEmail))
	require.Eventually(t, func() bool {
		return len(a.Store().Notifications()) == 4
	}, 5*time.Second, 20*time.Millisecond)

	rec, ok := findByMessage(a.Store().Notifications(), "Blue Widget")
	require.True(t, ok)
	require.False(t, rec.Read)

	code, body := bridgeCall(t, a, http.MethodPost, "/api/v1/notifications/"+rec.ID+"/open", map[string]string{"role": "buyer"})
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "/product/"+b.seed.Products[0].ID, data["url"])
	assert.Equal(t, false, data["login_required"])
	assert.Equal(t, true, data["marked_read"])

	assert.Eventually(t, func() bool {
		n, err := b.dev.Repo.CountUnread(context.Background(), b.seed.Buyer.ID)
		return err == nil && n == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDaemonRollsBackFailedMarkRead(t *testing.T) {
	b := newBackend(t)
	a := startApp(t, b.config(devserver.SellerEmail))
	require.Eventually(t, func() bool {
		return len(a.Store().Notifications()) == 4
	}, 5*time.Second, 20*time.Millisecond)

	b.dev.Service.SetFailMarkRead(true)
	rec := a.Store().Notifications()[0]

	code, _ := bridgeCall(t, a, http.MethodPatch, "/api/v1/notifications/"+rec.ID+"/read", nil)
	require.Equal(t, http.StatusAccepted, code)

	require.Eventually(t, func() bool {
		got, ok := a.Store().Get(rec.ID)
		return ok && !got.Read && !a.Store().Pending(rec.ID)
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 4, a.Store().UnreadCount())
}

func TestNewWithTokenSession(t *testing.T) {
	b := newBackend(t)
	res, err := b.dev.Service.Login(context.Background(), devserver.SellerEmail, testPassword)
	require.NoError(t, err)

	cfg := b.config("")
	cfg.Session = config.SessionConfig{Token: res.Token}

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, b.seed.Seller.ID, a.UserID())
	assert.Equal(t, "seller", a.role)
}

func TestNewFailsOnBadCredentials(t *testing.T) {
	b := newBackend(t)
	cfg := b.config(devserver.BuyerEmail)
	cfg.Session.Password = "wrong-password"

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestDaemonRejoinsAfterServerDrop(t *testing.T) {
	b := newBackend(t)
	a := startApp(t, b.config(devserver.BuyerEmail))
	require.Eventually(t, func() bool {
		return b.dev.Hub.Online(b.seed.Buyer.ID)
	}, 5*time.Second, 20*time.Millisecond)

	// Silent: never pushed, only a sync can deliver it.
	_, err := b.dev.Service.CreateNotification(context.Background(), devserver.CreateNotificationRequest{
		UserID:  b.seed.Buyer.ID,
		Type:    "order",
		Message: "Missed while offline",
		Silent:  true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, b.dev.Hub.CloseUser(b.seed.Buyer.ID))

	require.Eventually(t, func() bool {
		_, ok := findByMessage(a.Store().Notifications(), "Missed while offline")
		return ok && b.dev.Hub.Online(b.seed.Buyer.ID)
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, realtime.StateConnected, a.Manager().State())
}
