// Package server exposes the agent registry, message router, wallet
// operations, and janitor over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/movegrid/movegrid/core/janitor"
	"github.com/movegrid/movegrid/core/ratelimit"
	"github.com/movegrid/movegrid/core/registry"
	"github.com/movegrid/movegrid/core/router"
	"github.com/movegrid/movegrid/core/runtime"
)

// Config tunes the HTTP surface.
type Config struct {
	Addr       string
	CORSOrigin string

	// DevFallbackSecret, when non-empty, is used for agent creation
	// requests that omit secret material. Only dev deployments set this;
	// config validation enforces the explicit flag.
	DevFallbackSecret string

	Logger *slog.Logger
}

// Server wires the HTTP handlers to the core collaborators.
type Server struct {
	registry *registry.Registry
	router   *router.Router
	binder   *runtime.Binder
	janitor  *janitor.Janitor
	limiter  *ratelimit.Limiter
	cfg      Config
	logger   *slog.Logger
}

func New(reg *registry.Registry, rt *router.Router, binder *runtime.Binder, jan *janitor.Janitor, limiter *ratelimit.Limiter, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: reg,
		router:   rt,
		binder:   binder,
		janitor:  jan,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter().StrictSlash(true)
	r.Use(s.logRequests)

	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/users/{userID}/agents", s.handleCreateAgent).Methods(http.MethodPost)
	v1.HandleFunc("/users/{userID}/agents", s.handleListAgents).Methods(http.MethodGet)
	v1.HandleFunc("/users/{userID}/agents", s.handleRemoveAllAgents).Methods(http.MethodDelete)

	v1.HandleFunc("/agents", s.handleListAllAgents).Methods(http.MethodGet)
	v1.HandleFunc("/agents/{agentID}", s.handleGetAgent).Methods(http.MethodGet)
	v1.HandleFunc("/agents/{agentID}", s.handleRenameAgent).Methods(http.MethodPatch)
	v1.HandleFunc("/agents/{agentID}", s.handleRemoveAgent).Methods(http.MethodDelete)

	v1.HandleFunc("/agents/{agentID}/messages", s.handleMessage).Methods(http.MethodPost)
	v1.HandleFunc("/agents/{agentID}/conversation", s.handleHistory).Methods(http.MethodGet)
	v1.HandleFunc("/agents/{agentID}/conversation", s.handleClearHistory).Methods(http.MethodDelete)

	v1.HandleFunc("/agents/{agentID}/balance", s.handleBalance).Methods(http.MethodGet)
	v1.HandleFunc("/agents/{agentID}/transfer", s.handleTransfer).Methods(http.MethodPost)
	v1.HandleFunc("/agents/{agentID}/verify", s.handleVerify).Methods(http.MethodPost)

	v1.HandleFunc("/admin/sweep", s.handleSweep).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{s.cfg.CORSOrigin},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPatch,
			http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", clientAddr(r),
			"duration", time.Since(start))
	})
}

// checkLimit enforces the rate budget for a request once its owner is
// known. Handlers call it before doing any real work.
func (s *Server) checkLimit(r *http.Request, tier ratelimit.Tier, ownerID string) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Check(tier, clientAddr(r), ownerID)
}

// clientAddr prefers the first forwarded hop, falling back to the socket
// peer.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
