// Package httpapi is the relay's HTTP listener: the e-mail webhook, the
// inbound chat hook, health and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"relaybot/internal/forward"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const maxBody = 1 << 20

// Forwarder relays one e-mail notification.
type Forwarder interface {
	Forward(ctx context.Context, e forward.Email) []forward.Result
}

// Inbound accepts one chat message; false means it was not accepted (busy).
type Inbound func(ctx context.Context, msg transport.Message) bool

// StateFunc reports transport connectivity for the health endpoint.
type StateFunc func() transport.State

type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Pprof        bool

	Forwarder Forwarder
	Inbound   Inbound   // optional; POST /inbound/message is 404 without it
	State     StateFunc // optional
	Metrics   http.Handler

	Started time.Time
	Now     func() time.Time
	Log     logx.Logger
}

type Server struct {
	opts Options
	log  logx.Logger

	mu   sync.Mutex
	srv  *http.Server
	addr string
}

func New(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Started.IsZero() {
		opts.Started = opts.Now()
	}
	return &Server{opts: opts, log: opts.Log.With(logx.String("comp", "http"))}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST /send-email", s.handleSendEmail)
	if s.opts.Inbound != nil {
		mux.HandleFunc("POST /inbound/message", s.handleInbound)
	}
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}
	if s.opts.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return s.recoverer(mux)
}

// Run listens and serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.opts.WriteTimeout,
	}

	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.log.Info("http listening", logx.String("addr", s.addr), logx.Bool("pprof", s.opts.Pprof))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("http shutdown error", logx.Err(err))
	}
	s.log.Info("http stopped", logx.String("addr", s.addr))
	return nil
}

// Addr reports the actual listen address once Run has started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("http handler panic",
					logx.String("path", r.URL.Path),
					logx.Any("panic", rec),
					logx.String("stack", string(debug.Stack())),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.opts.Now()
	up := now.Sub(s.opts.Started)
	resp := map[string]any{
		"ok":           true,
		"uptime":       int64(up / time.Second),
		"uptime_human": strings.TrimSpace(humanize.RelTime(s.opts.Started, now, "", "")),
	}
	if s.opts.State != nil {
		resp["transport"] = s.opts.State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var in forward.Email
	if err := decodeJSON(w, r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(in.Sender) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing sender"})
		return
	}

	results := s.opts.Forwarder.Forward(r.Context(), in)
	if len(results) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "note": "no target matched"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "results": results})
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var msg transport.Message
	if err := decodeJSON(w, r, &msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(msg.From) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing from"})
		return
	}
	msg.ReceivedAt = s.opts.Now()
	// Handlers outlive the request; detach from its context.
	if !s.opts.Inbound(context.WithoutCancel(r.Context()), msg) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "busy"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
