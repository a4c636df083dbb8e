// Package api provides the HTTP surface of Unsent.
//
// It exposes the dialogue turn endpoint, the delivery hand-off endpoints,
// and read access to a reflection's state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unsent-labs/unsent/internal/models"
	"github.com/unsent-labs/unsent/internal/store"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// Server timeouts.
const (
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// TurnProcessor handles one inbound dialogue turn.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, req *models.TurnRequest) *models.TurnResponse
}

// DeliverySequencer handles the delivery hand-off endpoints.
type DeliverySequencer interface {
	ProcessIdentity(ctx context.Context, req models.IdentityRequest) (*models.TurnResponse, error)
	ProcessMode(ctx context.Context, req models.ModeRequest) (*models.TurnResponse, error)
	ProcessThirdParty(ctx context.Context, req models.ThirdPartyRequest) (*models.TurnResponse, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the HTTP handlers to the dialogue and delivery modules.
type Server struct {
	addr     string
	turns    TurnProcessor
	delivery DeliverySequencer
	store    store.Store
	httpSrv  *http.Server
}

// NewServer creates an API server.
func NewServer(turns TurnProcessor, delivery DeliverySequencer, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{addr: cfg.Addr, turns: turns, delivery: delivery, store: st}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/turn", s.turnHandler)
	mux.HandleFunc("/delivery/identity", s.identityHandler)
	mux.HandleFunc("/delivery/mode", s.modeHandler)
	mux.HandleFunc("/delivery/thirdparty", s.thirdPartyHandler)
	mux.HandleFunc("/reflections/", s.reflectionHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down")
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.turnHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, errorBody("Invalid JSON format"))
		return
	}
	if req.SessionID == "" {
		writeJSONResponse(w, http.StatusBadRequest, errorBody("session_id is required"))
		return
	}

	resp := s.turns.ProcessTurn(r.Context(), &req)
	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) identityHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.IdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.identityHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, errorBody("Invalid JSON format"))
		return
	}

	resp, err := s.delivery.ProcessIdentity(r.Context(), req)
	if err != nil {
		s.writeDeliveryError(w, "Server.identityHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) modeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.modeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, errorBody("Invalid JSON format"))
		return
	}

	resp, err := s.delivery.ProcessMode(r.Context(), req)
	if err != nil {
		s.writeDeliveryError(w, "Server.modeHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) thirdPartyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.ThirdPartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.thirdPartyHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, errorBody("Invalid JSON format"))
		return
	}

	resp, err := s.delivery.ProcessThirdParty(r.Context(), req)
	if err != nil {
		s.writeDeliveryError(w, "Server.thirdPartyHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) reflectionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/reflections/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, errorBody("Invalid reflection id"))
		return
	}

	reflection, err := s.store.GetReflection(id)
	if err != nil {
		if errors.Is(err, models.ErrReflectionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, errorBody("Reflection not found"))
			return
		}
		slog.Error("Server.reflectionHandler: store lookup failed", "error", err, "reflection_id", id)
		writeJSONResponse(w, http.StatusInternalServerError, errorBody("Internal server error"))
		return
	}
	writeJSONResponse(w, http.StatusOK, reflection)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDeliveryError maps sequencer errors onto HTTP status codes. Client
// mistakes come back as 400 or 404; everything else is internal.
func (s *Server) writeDeliveryError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, models.ErrReflectionNotFound):
		writeJSONResponse(w, http.StatusNotFound, errorBody("Reflection not found"))
	case errors.Is(err, models.ErrInvalidDeliveryMode),
		errors.Is(err, models.ErrIdentityUndecided),
		errors.Is(err, models.ErrNoSummary),
		errors.Is(err, models.ErrMissingContact),
		errors.Is(err, models.ErrInvalidEmail):
		writeJSONResponse(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error(op+": delivery failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorBody("Delivery failed"))
	}
}
