// Package gateway exposes the workflows and the query layer over HTTP.
// Mutating routes sit behind bearer auth; reads and health are open.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/deidlabs/linkd/internal/audit"
	"github.com/deidlabs/linkd/internal/query"
	"github.com/deidlabs/linkd/internal/saga"
	"github.com/deidlabs/linkd/internal/telemetry"
)

type Server struct {
	verifier  *saga.Verifier
	creator   *saga.Creator
	query     *query.Service
	log       *slog.Logger
	metrics   *telemetry.Metrics
	authToken string
}

func New(verifier *saga.Verifier, creator *saga.Creator, querySvc *query.Service,
	log *slog.Logger, metrics *telemetry.Metrics, authToken string) *Server {
	return &Server{
		verifier:  verifier,
		creator:   creator,
		query:     querySvc,
		log:       log,
		metrics:   metrics,
		authToken: authToken,
	}
}

// Handler builds the route table. Mutating routes are wrapped in auth.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/links/{subject}/stats", s.handleStats)
	mux.HandleFunc("GET /v1/links/{subject}", s.handleListLinks)
	mux.HandleFunc("GET /v1/links/{subject}/{platform}", s.handleGetLink)
	mux.HandleFunc("GET /v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /v1/tasks/{id}/validations/{subject}", s.handleGetValidation)

	mux.Handle("POST /v1/links/authorize", s.auth(s.handleAuthorize))
	mux.Handle("POST /v1/links/callback", s.auth(s.handleCallback))
	mux.Handle("POST /v1/links/{subject}/{platform}/push", s.auth(s.handlePushLink))
	mux.Handle("POST /v1/links/{subject}/{platform}/confirm", s.auth(s.handleConfirmLink))
	mux.Handle("POST /v1/links/{subject}/{platform}/fail", s.auth(s.handleFailLink))
	mux.Handle("DELETE /v1/links/{subject}/{platform}", s.auth(s.handleDeleteLink))
	mux.Handle("POST /v1/tasks", s.auth(s.handleCreateTask))
	mux.Handle("POST /v1/tasks/{id}/retry", s.auth(s.handleRetryTask))
	mux.Handle("POST /v1/tasks/{id}/confirm", s.auth(s.handleConfirmTask))
	mux.Handle("POST /v1/tasks/{id}/validate", s.auth(s.handleValidateTask))

	return s.instrument(mux)
}

// Serve runs the HTTP server until ctx is canceled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("gateway listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// auth enforces the bearer token on mutating routes. An empty configured
// token disables auth for local development.
func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			audit.Record("deny", "gateway.auth", "bad or missing bearer token", "")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

// instrument records per-route request durations.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.metrics.RequestDuration.Record(r.Context(), time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", r.URL.Path),
		))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error    string `json:"error"`
	Kind     string `json:"kind,omitempty"`
	RecordID string `json:"record_id,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeWorkflowError maps workflow error kinds onto HTTP statuses. The
// record ID rides along for chain_submit failures so clients know what to
// retry.
func (s *Server) writeWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	var sagaErr *saga.Error
	if !errors.As(err, &sagaErr) {
		if errors.Is(err, query.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch sagaErr.Kind {
	case saga.KindValidation:
		status = http.StatusBadRequest
	case saga.KindUpstreamAuth:
		status = http.StatusUnauthorized
	case saga.KindNotQualified:
		status = http.StatusForbidden
	case saga.KindNotFound:
		status = http.StatusNotFound
	case saga.KindAlreadyLinked, saga.KindInvalidTransition:
		status = http.StatusConflict
	case saga.KindUpstreamUnavailable, saga.KindMetadataPublish, saga.KindChain, saga.KindChainSubmit:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{
		Error:    sagaErr.Message,
		Kind:     string(sagaErr.Kind),
		RecordID: sagaErr.RecordID,
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
