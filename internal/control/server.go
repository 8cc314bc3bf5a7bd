// Package control is the daemon's localhost HTTP surface. The CLI and the
// dashboard use it to trigger cycles, manage the watch list and stream
// cache changes.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/musher-dev/adoc/internal/observability"
	"github.com/musher-dev/adoc/internal/poller"
)

const shutdownTimeout = 5 * time.Second

// ErrNotLoopback is returned when asked to listen on a non-local address.
var ErrNotLoopback = errors.New("control API only listens on loopback addresses")

// Engine is the trigger surface of *poller.Engine.
type Engine interface {
	Refresh(ctx context.Context) (poller.Result, error)
	ConfigChanged(ctx context.Context) (poller.Result, error)
	CheckBuildTracked(ctx context.Context, org, project string, id int) (poller.TrackStatus, error)
	TrackBuild(ctx context.Context, org, project string, id int) (poller.Result, error)
	UntrackBuild(ctx context.Context, id int) (poller.Result, error)
	State() poller.State
}

// Cache is the store area the daemon writes.
type Cache interface {
	Snapshot() (map[string]json.RawMessage, error)
	OnAnyChange(fn func(key string, value json.RawMessage)) func()
}

// CycleResponse is returned by every endpoint that runs a cycle.
type CycleResponse struct {
	OK     bool          `json:"ok"`
	Result poller.Result `json:"result"`
}

// StatusResponse describes the daemon.
type StatusResponse struct {
	State   poller.State `json:"state"`
	Version string       `json:"version"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server routes control requests to the engine.
type Server struct {
	engine  Engine
	cache   Cache
	version string
	router  *mux.Router
}

// NewServer creates a Server and registers its routes.
func NewServer(engine Engine, cache Cache, version string) *Server {
	s := &Server{engine: engine, cache: cache, version: version, router: mux.NewRouter()}
	s.registerRoutes()

	return s
}

// registerRoutes keeps every route on the root router so a method mismatch
// answers 405 rather than falling through a subrouter as 404.
func (s *Server) registerRoutes() {
	r := s.router

	r.HandleFunc("/v1/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/v1/config", s.handleConfigChanged).Methods(http.MethodPost)
	r.HandleFunc("/v1/builds/{org}/{project}/{id:[0-9]+}/tracked", s.handleCheckTracked).Methods(http.MethodGet)
	r.HandleFunc("/v1/watched/{org}/{project}/{id:[0-9]+}", s.handleTrack).Methods(http.MethodPut)
	r.HandleFunc("/v1/watched/{id:[0-9]+}", s.handleUntrack).Methods(http.MethodDelete)
	r.HandleFunc("/v1/cache", s.handleCache).Methods(http.MethodGet)
	r.HandleFunc("/v1/events", s.handleEvents).Methods(http.MethodGet)
}

// Handler returns the traced router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "control",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// ListenAndServe serves on addr until ctx is done. addr must be a loopback
// address.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := checkLoopback(addr); err != nil {
		return err
	}

	logger := observability.FromContext(ctx).With(slog.String("component", "control"))

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return observability.WithLogger(ctx, logger) },
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("Control API listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve control API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown control API: %w", err)
	}

	return nil
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid control address %q: %w", addr, err)
	}

	if host == "localhost" {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}

	return fmt.Errorf("%s: %w", addr, ErrNotLoopback)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{State: s.engine.State(), Version: s.version})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Refresh(r.Context())
	s.writeCycle(w, r, res, err)
}

func (s *Server) handleConfigChanged(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.ConfigChanged(r.Context())
	s.writeCycle(w, r, res, err)
}

func (s *Server) handleCheckTracked(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	id, ok := buildID(w, vars["id"])
	if !ok {
		return
	}

	status, err := s.engine.CheckBuildTracked(r.Context(), vars["org"], vars["project"], id)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	id, ok := buildID(w, vars["id"])
	if !ok {
		return
	}

	res, err := s.engine.TrackBuild(r.Context(), vars["org"], vars["project"], id)
	if errors.Is(err, poller.ErrForeignOrganization) {
		s.writeError(w, r, http.StatusUnprocessableEntity, err)
		return
	}

	s.writeCycle(w, r, res, err)
}

func (s *Server) handleUntrack(w http.ResponseWriter, r *http.Request) {
	id, ok := buildID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}

	res, err := s.engine.UntrackBuild(r.Context(), id)
	s.writeCycle(w, r, res, err)
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.cache.Snapshot()
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) writeCycle(w http.ResponseWriter, r *http.Request, res poller.Result, err error) {
	if err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusOK, CycleResponse{OK: true, Result: res})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	observability.FromContext(r.Context()).Warn("Control request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func buildID(w http.ResponseWriter, raw string) (int, bool) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid build id: " + raw})
		return 0, false
	}

	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
