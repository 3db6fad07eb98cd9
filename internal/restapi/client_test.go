package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	logx "pushfeed/pkg/logx"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:         srv.URL,
		Timeout:         2 * time.Second,
		RetryMaxElapsed: 500 * time.Millisecond,
		RatePerSec:      100,
	}, func() string { return "test-token" }, logx.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, srv
}

func TestListNotificationsSendsBearerToken(t *testing.T) {
	t.Parallel()
	var gotAuth atomic.Value
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(listResponse{
			Notifications: nil,
			Total:         0,
		})
	}))

	if _, err := c.ListNotifications(context.Background(), 10); err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotAuth.Load() != "Bearer test-token" {
		t.Fatalf("expected bearer credential, got %v", gotAuth.Load())
	}
}

func TestUnreadCount(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notifications/unread-count" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(countResponse{Count: 7})
	}))

	n, err := c.UnreadCount(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("expected 7, got %d err=%v", n, err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(countResponse{Count: 1})
	}))

	if _, err := c.UnreadCount(context.Background()); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if hits.Load() < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", hits.Load())
	}
}

func TestUnauthorizedIsPermanent(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	err := c.MarkAllRead(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("401 must not be retried, got %d attempts", hits.Load())
	}
}

func TestMarkReadSendsIDs(t *testing.T) {
	t.Parallel()
	var got atomic.Value
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string][]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		got.Store(body["ids"])
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := c.MarkRead(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	ids, _ := got.Load().([]string)
	if len(ids) != 2 || ids[0] != "a" {
		t.Fatalf("ids not sent: %v", ids)
	}

	// Empty id lists skip the round trip entirely.
	if err := c.MarkRead(context.Background(), nil); err != nil {
		t.Fatalf("empty mark read: %v", err)
	}
}

func TestSnapshotBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	srvDown := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(srvDown)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:         srv.URL,
		RetryMaxElapsed: 50 * time.Millisecond,
		RatePerSec:      1000,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	}, func() string { return "t" }, logx.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := c.ListNotifications(context.Background(), 5); err == nil {
			t.Fatalf("expected failure while backend is down")
		}
	}
	// Third call trips the open breaker without touching the backend.
	if _, err := c.ListNotifications(context.Background(), 5); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
}
