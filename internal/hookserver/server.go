// Package hookserver is the HTTP endpoint the host platform calls on every
// document lifecycle event.
package hookserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"assignbot/internal/assign"
	"assignbot/internal/dispatch"
	"assignbot/internal/document"
	"assignbot/internal/storage"
	logx "assignbot/pkg/logx"
)

const (
	DefaultAddr   = "127.0.0.1:8085"
	maxBodyBytes  = 1 << 20
	maxErrorLimit = 500
)

// Firer routes a decoded event. *hooks.Registry implements it.
type Firer interface {
	Fire(ctx context.Context, ev document.Event) (assign.Outcome, bool)
}

// ErrorLister backs GET /errors. storage.Store implements it.
type ErrorLister interface {
	ListErrors(ctx context.Context, limit int) ([]storage.ErrorEntry, error)
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Response is the body of every answered hook call.
type Response struct {
	Handled bool   `json:"handled"`
	Status  string `json:"status,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
}

type Server struct {
	cfg    Config
	log    logx.Logger
	hooks  Firer
	errLog ErrorLister
	auth   *Auth

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
}

// New builds the server. errs may be nil, in which case GET /errors
// answers 404.
func New(cfg Config, hooks Firer, errs ErrorLister, auth *Auth, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log, hooks: hooks, errLog: errs, auth: auth}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	mux.HandleFunc("POST /hooks/{doctype}/{event}", s.auth.Wrap(s.handleHook))
	if s.errLog != nil {
		mux.HandleFunc("GET /errors", s.auth.Wrap(s.handleErrors))
	}
	return mux
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	doctype, event := r.PathValue("doctype"), r.PathValue("event")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	ev, err := document.DecodeEvent(doctype, event, body)
	if err != nil {
		s.log.Warn("hook body rejected", logx.String("doctype", doctype), logx.String("event", event), logx.Err(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The host may hang up before every recipient is served; the run
	// still completes, bounded by the registry's own timeout.
	out, handled := s.hooks.Fire(context.WithoutCancel(r.Context()), ev)
	resp := Response{Handled: handled}
	if handled {
		resp.Status = string(out.Status)
		resp.Reason = out.Reason
		resp.Sent = out.Sent()
		for _, res := range out.Results {
			if res.Status == dispatch.StatusFailed {
				resp.Failed++
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxErrorLimit)
	}
	entries, err := s.errLog.ListErrors(r.Context(), limit)
	if err != nil {
		s.log.Warn("list errors failed", logx.Err(err))
		http.Error(w, "list errors failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []storage.ErrorEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	addr := ln.Addr().String()
	s.srv, s.ln, s.addr = srv, ln, addr

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("hook server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("hook server listening", logx.String("addr", addr), logx.Bool("auth", s.auth != nil))
	return nil
}

// Stop shuts the server down, waiting for in-flight hooks until ctx ends.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, ln, addr := s.srv, s.ln, s.addr
	s.srv, s.ln, s.addr = nil, nil, ""
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("hook server shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.log.Info("hook server stopped", logx.String("addr", addr))
}

// Addr reports the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
