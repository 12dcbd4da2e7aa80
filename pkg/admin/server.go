// Package admin exposes the operational HTTP surface of the sandbox guard.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-sandbox/pkg/domain"
	"github.com/polisai/polis-sandbox/pkg/whitelist"
)

// RequestIDHeader carries the request correlation ID.
const RequestIDHeader = "X-Request-ID"

const maxBodyBytes = 64 << 10

// Guard is the subset of the sandbox guard the admin surface drives.
type Guard interface {
	Explain(ctx context.Context, origin domain.TemplateOrigin) domain.Decision
	ClearCache() int
	CacheLen() int
	Whitelist() *whitelist.Spec
	Recent(n int) []domain.DiagnosticRecord
}

type requestIDKey struct{}

// RequestIDFromContext returns the request ID assigned by the server.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Server is the admin HTTP server.
type Server struct {
	guard   Guard
	metrics *Metrics
	logger  *slog.Logger
	handler http.Handler
	srv     *http.Server
}

// NewServer builds the admin handler tree. metrics may be nil.
func NewServer(addr string, guard Guard, metrics *Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	s := &Server{guard: guard, metrics: metrics, logger: logger}

	mux := http.NewServeMux()
	s.route(mux, "GET /healthz", "/healthz", s.handleHealth)
	s.route(mux, "POST /cache/clear", "/cache/clear", s.handleCacheClear)
	s.route(mux, "POST /classify", "/classify", s.handleClassify)
	s.route(mux, "GET /whitelist", "/whitelist", s.handleWhitelist)
	s.route(mux, "GET /decisions", "/decisions", s.handleDecisions)
	mux.Handle("GET /metrics", metrics.Handler())

	s.handler = otelhttp.NewHandler(s.withRequestID(mux), "sandbox.admin")
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) route(mux *http.ServeMux, pattern, endpoint string, h http.HandlerFunc) {
	mux.Handle(pattern, s.metrics.Middleware(endpoint, h))
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve listens on the configured address until Shutdown.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("Admin server listening", "address", ln.Addr().String())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type cacheClearResponse struct {
	Cleared int `json:"cleared"`
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	n := s.guard.ClearCache()
	s.metrics.RecordCacheClear()
	s.logger.Info("Trust cache cleared via admin API",
		"entries", n,
		"request_id", RequestIDFromContext(r.Context()))
	s.writeJSON(w, http.StatusOK, cacheClearResponse{Cleared: n})
}

type classifyRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "body must be {\"path\", \"name\"}")
		return
	}
	if req.Path == "" && req.Name == "" {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "path or name is required")
		return
	}

	decision := s.guard.Explain(r.Context(), domain.TemplateOrigin{Path: req.Path, Name: req.Name})
	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleWhitelist(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.guard.Whitelist().Snapshot())
}

type decisionsResponse struct {
	CacheEntries int                       `json:"cache_entries"`
	Decisions    []domain.DiagnosticRecord `json:"decisions"`
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, decisionsResponse{
		CacheEntries: s.guard.CacheLen(),
		Decisions:    s.guard.Recent(limit),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode admin response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.writeJSON(w, status, domain.ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: RequestIDFromContext(r.Context()),
	})
}
