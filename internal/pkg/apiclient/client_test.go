package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

type callLog struct {
	mu    sync.Mutex
	calls []call
}

func (l *callLog) All() []call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]call(nil), l.calls...)
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, *callLog) {
	t.Helper()
	log := &callLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Auth: r.Header.Get("Authorization")}
		_ = json.NewDecoder(r.Body).Decode(&c.Body)
		log.mu.Lock()
		log.calls = append(log.calls, c)
		log.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

func TestFetchNotificationsDecodesEnvelope(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{"success":true,"data":{"notifications":[{"_id":"n1","type":"order","read":false},{"_id":"n2","isRead":true}],"unread_count":1}}`)
	c := New(srv.URL+"/", time.Second, nil)
	c.SetToken("tok")

	list, err := c.FetchNotifications(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n1", list[0].ID)
	assert.True(t, list[1].Read)

	got := calls.All()
	require.Len(t, got, 1)
	assert.Equal(t, "/api/v1/notifications", got[0].Path)
	assert.Equal(t, "Bearer tok", got[0].Auth)
}

func TestMarkReadPaths(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{"success":true,"data":{"updated":1}}`)
	c := New(srv.URL, time.Second, nil)

	require.NoError(t, c.MarkRead(context.Background(), "n1"))
	require.NoError(t, c.MarkAllRead(context.Background()))

	got := calls.All()
	require.Len(t, got, 2)
	assert.Equal(t, http.MethodPatch, got[0].Method)
	assert.Equal(t, "/api/v1/notifications/n1/read", got[0].Path)
	assert.Equal(t, "/api/v1/notifications/read-all", got[1].Path)
	assert.Equal(t, "", got[0].Auth)
}

func TestErrorEnvelopeBecomesAPIError(t *testing.T) {
	srv, _ := newServer(t, http.StatusInternalServerError, `{"success":false,"error":{"code":"INTERNAL","message":"db down"}}`)
	c := New(srv.URL, time.Second, nil)

	err := c.MarkRead(context.Background(), "n1")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "INTERNAL", apiErr.Code)
	assert.Equal(t, "db down", apiErr.Message)
	assert.True(t, IsStatus(err, http.StatusInternalServerError))
}

func TestErrorWithoutEnvelope(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadGateway, `bad gateway`)
	c := New(srv.URL, time.Second, nil)

	_, err := c.FetchNotifications(context.Background())
	assert.True(t, IsStatus(err, http.StatusBadGateway))
	assert.EqualError(t, err, "api returned status 502")
}

func TestSearchProductsAcceptsBothShapes(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{"success":true,"data":{"products":[{"_id":"p1","title":"Red Lamp"}]}}`)
	c := New(srv.URL, time.Second, nil)

	hits, err := c.SearchProducts(context.Background(), "Red Lamp")
	require.NoError(t, err)
	assert.Equal(t, []ProductHit{{ID: "p1", Title: "Red Lamp"}}, hits)
	assert.Equal(t, "q=Red+Lamp", calls.All()[0].Query)

	srv2, _ := newServer(t, http.StatusOK, `{"success":true,"data":[{"_id":"p2","title":"Mug"}]}`)
	hits, err = New(srv2.URL, time.Second, nil).SearchProducts(context.Background(), "Mug")
	require.NoError(t, err)
	assert.Equal(t, "p2", hits[0].ID)
}

func TestLoginStoresToken(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{"success":true,"data":{"token":"jwt-1","user":{"id":"u1","role":"buyer"}}}`)
	c := New(srv.URL, time.Second, nil)

	out, err := c.Login(context.Background(), "a@b.c", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", out.User.ID)
	assert.Equal(t, "jwt-1", c.Token())
	assert.Equal(t, "a@b.c", calls.All()[0].Body["email"])
}
