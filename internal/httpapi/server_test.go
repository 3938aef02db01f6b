package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"relaybot/internal/forward"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type stubForwarder struct {
	calls   int
	last    forward.Email
	results []forward.Result
}

func (s *stubForwarder) Forward(_ context.Context, e forward.Email) []forward.Result {
	s.calls++
	s.last = e
	return s.results
}

func newTestServer(fw Forwarder, in Inbound) *Server {
	started := time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC)
	return New(Options{
		Forwarder: fw,
		Inbound:   in,
		State:     func() transport.State { return transport.StateReady },
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
		Started: started,
		Now:     func() time.Time { return started.Add(90 * time.Second) },
		Log:     logx.Nop(),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if w.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func TestSendEmailMissingSender(t *testing.T) {
	fw := &stubForwarder{}
	h := newTestServer(fw, nil).Handler()

	w, out := do(t, h, http.MethodPost, "/send-email", `{"subject":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if out["error"] != "missing sender" {
		t.Fatalf("body = %v", out)
	}
	if fw.calls != 0 {
		t.Fatal("forwarder must not be invoked without a sender")
	}

	w, _ = do(t, h, http.MethodPost, "/send-email", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid json status = %d", w.Code)
	}
}

func TestSendEmailNoTarget(t *testing.T) {
	fw := &stubForwarder{}
	h := newTestServer(fw, nil).Handler()

	w, out := do(t, h, http.MethodPost, "/send-email", `{"sender":"a@b.c"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if out["ok"] != true || out["note"] != "no target matched" {
		t.Fatalf("body = %v", out)
	}
}

func TestSendEmailResults(t *testing.T) {
	fw := &stubForwarder{results: []forward.Result{
		{Target: "1@c.us", OK: true},
		{Target: "2@c.us", OK: false, Error: "boom"},
	}}
	h := newTestServer(fw, nil).Handler()

	w, _ := do(t, h, http.MethodPost, "/send-email", `{"sender":"a@b.c","subject":"S","body":"B"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out struct {
		OK      bool             `json:"ok"`
		Results []forward.Result `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.OK || len(out.Results) != 2 || out.Results[1].Error != "boom" {
		t.Fatalf("body = %s", w.Body.String())
	}
	if fw.last.Subject != "S" || fw.last.Body != "B" {
		t.Fatalf("forwarded = %+v", fw.last)
	}
}

func TestSendEmailPanicIs500(t *testing.T) {
	h := newTestServer(panicForwarder{}, nil).Handler()
	w, out := do(t, h, http.MethodPost, "/send-email", `{"sender":"a@b.c"}`)
	if w.Code != http.StatusInternalServerError || out["error"] != "internal error" {
		t.Fatalf("status=%d body=%v", w.Code, out)
	}
}

type panicForwarder struct{}

func (panicForwarder) Forward(context.Context, forward.Email) []forward.Result { panic("kaboom") }

func TestHealth(t *testing.T) {
	h := newTestServer(&stubForwarder{}, nil).Handler()
	w, out := do(t, h, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if out["ok"] != true || out["uptime"] != float64(90) || out["transport"] != "ready" {
		t.Fatalf("body = %v", out)
	}
	if out["uptime_human"] == "" {
		t.Fatalf("uptime_human empty: %v", out)
	}

	w, _ = do(t, h, http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d", w.Code)
	}
}

func TestInbound(t *testing.T) {
	var got []transport.Message
	accept := true
	in := func(_ context.Context, m transport.Message) bool {
		got = append(got, m)
		return accept
	}
	h := newTestServer(&stubForwarder{}, in).Handler()

	w, _ := do(t, h, http.MethodPost, "/inbound/message", `{"from":"628@c.us","text":".ping"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	if len(got) != 1 || got[0].From != "628@c.us" || got[0].Text != ".ping" || got[0].ReceivedAt.IsZero() {
		t.Fatalf("inbound = %+v", got)
	}

	w, _ = do(t, h, http.MethodPost, "/inbound/message", `{"text":".ping"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing from status = %d", w.Code)
	}

	accept = false
	w, _ = do(t, h, http.MethodPost, "/inbound/message", `{"from":"628@c.us","text":".ping"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("busy status = %d", w.Code)
	}
}

func TestMetricsMounted(t *testing.T) {
	h := newTestServer(&stubForwarder{}, nil).Handler()
	w, _ := do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || w.Body.String() != "# metrics\n" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestRunServesAndStops(t *testing.T) {
	s := New(Options{Addr: "127.0.0.1:0", Forwarder: &stubForwarder{}, Log: logx.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Addr() == "" {
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + s.Addr() + "/")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
}
