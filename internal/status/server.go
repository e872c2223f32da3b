// Package status serves the agent's HTTP status, debug and metrics endpoints.
package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/smccarney/pldm/internal/hostpdr"
	"github.com/smccarney/pldm/internal/mctp"
	"github.com/smccarney/pldm/internal/metrics"
	"github.com/smccarney/pldm/internal/pdrstore"
)

// Source is the handler state the endpoints report.
type Source interface {
	StatusReport(ctx context.Context) (hostpdr.Status, error)
	SensorList(ctx context.Context) ([]hostpdr.SensorRecord, error)
	EntityList(ctx context.Context) ([]hostpdr.EntityRecord, error)
	TriggerFetch(ctx context.Context, handles []uint32) error
}

// History is the persisted fetch cycle log.
type History interface {
	ListCycles(ctx context.Context, limit int) ([]*pdrstore.Cycle, error)
	GetCycle(ctx context.Context, id string) (*pdrstore.Cycle, error)
}

// Server routes the status endpoints.
type Server struct {
	source    Source
	history   History
	transport mctp.Transport
	timeout   time.Duration
	router    *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithHistory enables the /cycles endpoints.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithTransport adds transport counters to /status.
func WithTransport(t mctp.Transport) Option {
	return func(s *Server) { s.transport = t }
}

// WithTimeout bounds how long a request waits for the event loop.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// NewServer returns a server reporting source.
func NewServer(source Source, opts ...Option) *Server {
	s := &Server{source: source, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(metrics.HTTPMiddleware(metrics.StatusServerCollectors()))

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/sensors", s.handleSensors).Methods(http.MethodGet)
	router.HandleFunc("/entities", s.handleEntities).Methods(http.MethodGet)
	router.HandleFunc("/fetch", s.handleFetch).Methods(http.MethodPost)
	router.HandleFunc("/cycles", s.handleCycles).Methods(http.MethodGet)
	router.HandleFunc("/cycles/{id}", s.handleCycle).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", addr).Msg("Status server listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}

func (s *Server) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	st, err := s.source.StatusReport(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"state":            st.State,
		"host_firmware_up": st.HostFirmwareUp,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	st, err := s.source.StatusReport(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	resp := map[string]any{"handler": st}
	if s.transport != nil {
		resp["transport"] = s.transport.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	sensors, err := s.source.SensorList(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, sensors)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	entities, err := s.source.EntityList(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

// handleFetch starts a fetch cycle. ?handles=1,2,3 fetches only those
// records.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	handles, err := parseHandles(r.URL.Query().Get("handles"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.source.TriggerFetch(ctx, handles); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	log.Info().Int("handles", len(handles)).Str("remote", r.RemoteAddr).Msg("PDR fetch requested over HTTP")
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "handles": handles})
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, errors.New("cycle history is disabled"))
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	cycles, err := s.history.ListCycles(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cycles)
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, errors.New("cycle history is disabled"))
		return
	}
	id := mux.Vars(r)["id"]
	c, err := s.history.GetCycle(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, fmt.Errorf("cycle %s not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func parseHandles(s string) ([]uint32, error) {
	if s == "" {
		return nil, nil
	}
	var handles []uint32
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 0, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid record handle %q", part)
		}
		handles = append(handles, uint32(n))
	}
	return handles, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
