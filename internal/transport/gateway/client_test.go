package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/relayerr"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{
		URL:           url,
		Token:         "secret",
		RatePerSec:    100,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		ReadyPoll:     20 * time.Millisecond,
		Timeout:       time.Second,
	}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSendPostsJSONWithToken(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		got  map[string]string
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/")
	if err := c.Send(context.Background(), "6281@c.us", "halo"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer secret" {
		t.Fatalf("auth=%q", auth)
	}
	if got["to"] != "6281@c.us" || got["text"] != "halo" {
		t.Fatalf("payload=%v", got)
	}
}

func TestSendRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.Send(context.Background(), "x@c.us", "t"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("calls=%d want 3", n)
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown chat", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	err := c.Send(context.Background(), "x@c.us", "t")
	if !errors.Is(err, relayerr.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("calls=%d want 1", n)
	}
}

func TestStartBecomesReadyAndRecovers(t *testing.T) {
	t.Parallel()
	var ready atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := "connecting"
		if ready.Load() {
			state = "ready"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"state": state})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Start(ctx, nil)
	}()

	waitFor(t, func() bool { return c.State() == transport.StateConnecting })
	ready.Store(true)
	select {
	case <-c.Ready():
	case <-time.After(10 * time.Second):
		t.Fatal("transport never became ready")
	}

	cancel()
	<-done
	if c.State() != transport.StateDisconnected {
		t.Fatalf("state=%v after stop", c.State())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}
