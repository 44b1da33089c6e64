package api

import (
	"context"
	"crypto/subtle"
	stdjson "encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/hatemosphere/highscore-backend/internal/audit"
	"github.com/hatemosphere/highscore-backend/internal/auth"
	"github.com/hatemosphere/highscore-backend/internal/engine"
)

// DefaultMaxBodyBytes bounds command request bodies.
const DefaultMaxBodyBytes = 64 << 10

// Server is the HTTP API server.
type Server struct {
	engine            *engine.Manager
	auth              *auth.Authenticator
	clientKey         auth.ClientKeyFunc
	trustProxyHeaders bool
	separateMgmt      bool // management routes are served by ManagementRouter only
	maxBodyBytes      int64
	adminToken        string // bearer token for admin routes (empty = admin routes off)
	humaAPI           huma.API
}

// NewServer creates a new API server.
func NewServer(engine *engine.Manager, authenticator *auth.Authenticator, opts ...ServerOption) *Server {
	s := &Server{
		engine:       engine,
		auth:         authenticator,
		clientKey:    auth.RemoteAddrKey,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures the API server.
type ServerOption func(*Server)

// WithClientKeyFunc sets how the identity a nonce is bound to is derived.
func WithClientKeyFunc(fn auth.ClientKeyFunc) ServerOption {
	return func(s *Server) { s.clientKey = fn }
}

// WithTrustProxyHeaders makes X-Real-Ip / X-Forwarded-For the remote address.
func WithTrustProxyHeaders(trust bool) ServerOption {
	return func(s *Server) { s.trustProxyHeaders = trust }
}

// WithSeparateManagement removes health, metrics and admin routes from
// Router; serve them from ManagementRouter instead.
func WithSeparateManagement() ServerOption {
	return func(s *Server) { s.separateMgmt = true }
}

// WithAdminToken enables admin routes behind the given bearer token.
func WithAdminToken(token string) ServerOption {
	return func(s *Server) { s.adminToken = token }
}

// WithMaxBodyBytes sets the command request body limit.
func WithMaxBodyBytes(n int64) ServerOption {
	return func(s *Server) { s.maxBodyBytes = n }
}

// humaJSONFormat uses stdlib encoding/json for huma request/response serialization.
var humaJSONFormat = huma.Format{
	Marshal: func(w io.Writer, v any) error {
		return stdjson.NewEncoder(w).Encode(v)
	},
	Unmarshal: stdjson.Unmarshal,
}

// newHumaConfig creates the huma configuration for the API.
func newHumaConfig() huma.Config {
	registry := huma.NewMapRegistry("#/components/schemas/", huma.DefaultSchemaNamer)
	config := huma.Config{
		OpenAPI: &huma.OpenAPI{
			OpenAPI: "3.1.0",
			Info: &huma.Info{
				Title:   "Highscore Backend API",
				Version: "0.1.0",
			},
			Components: &huma.Components{
				Schemas: registry,
			},
		},
		OpenAPIPath:   "", // Disabled; served via our own route.
		DocsPath:      "",
		SchemasPath:   "",
		Formats:       map[string]huma.Format{"application/json": humaJSONFormat, "json": humaJSONFormat},
		DefaultFormat: "application/json",
	}
	config.FieldsOptionalByDefault = true
	return config
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Router returns the configured HTTP handler with the command endpoint and,
// unless WithSeparateManagement was given, the management endpoints.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	if !s.separateMgmt {
		mgmtAPI := humago.New(mux, newHumaConfig())
		mgmtAPI.UseMiddleware(metricsHumaMiddleware)
		s.registerManagement(mgmtAPI)
	}

	api := humago.New(mux, newHumaConfig())
	api.UseMiddleware(metricsHumaMiddleware)
	api.UseMiddleware(s.clientKeyHumaMiddleware)
	api.UseMiddleware(auditHumaMiddleware)
	s.humaAPI = api
	s.registerHighscore(api)

	// HTTP-level middleware (outermost applied last).
	var handler http.Handler = mux
	handler = gzipDecompressor(handler)
	handler = cors(handler)
	handler = requestLogger(handler)
	handler = recoverer(handler)
	if s.trustProxyHeaders {
		handler = realIP(handler)
	}
	return handler
}

// ManagementRouter returns a handler serving only the management endpoints,
// for a separate listener.
func (s *Server) ManagementRouter() http.Handler {
	mux := http.NewServeMux()
	mgmtAPI := humago.New(mux, newHumaConfig())
	mgmtAPI.UseMiddleware(metricsHumaMiddleware)
	s.registerManagement(mgmtAPI)

	var handler http.Handler = mux
	handler = requestLogger(handler)
	handler = recoverer(handler)
	return handler
}

// registerManagement registers health, metrics, OpenAPI and admin operations.
func (s *Server) registerManagement(api huma.API) {
	// Liveness.
	huma.Register(api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
		out := &HealthCheckOutput{}
		out.Body.Status = "ok"
		return out, nil
	})

	// Readiness: storage must answer.
	huma.Register(api, huma.Operation{
		OperationID: "readyCheck",
		Method:      http.MethodGet,
		Path:        "/readyz",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
		if err := s.engine.Ping(ctx); err != nil {
			slog.Warn("readiness check failed", "error", err)
			return nil, huma.Error503ServiceUnavailable("storage unavailable")
		}
		out := &HealthCheckOutput{}
		out.Body.Status = "ok"
		return out, nil
	})

	// Prometheus metrics.
	huma.Register(api, huma.Operation{
		OperationID: "getMetrics",
		Method:      http.MethodGet,
		Path:        "/metrics",
		Tags:        []string{"Meta"},
	}, func(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
		return &huma.StreamResponse{
			Body: func(ctx huma.Context) {
				rec := httptest.NewRecorder()
				MetricsHandler().ServeHTTP(rec, &http.Request{})
				for k, vals := range rec.Header() {
					for _, v := range vals {
						ctx.SetHeader(k, v)
					}
				}
				_, _ = ctx.BodyWriter().Write(rec.Body.Bytes())
			},
		}, nil
	})

	// OpenAPI document of the command API.
	huma.Register(api, huma.Operation{
		OperationID: "getOpenAPISpec",
		Method:      http.MethodGet,
		Path:        "/api/openapi",
		Tags:        []string{"Meta"},
	}, func(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
		return &huma.StreamResponse{
			Body: func(ctx huma.Context) {
				ctx.SetHeader("Content-Type", "application/json")
				if s.humaAPI != nil {
					data, _ := stdjson.Marshal(s.humaAPI.OpenAPI())
					_, _ = ctx.BodyWriter().Write(data)
				} else {
					_, _ = ctx.BodyWriter().Write([]byte(`{}`))
				}
			},
		}, nil
	})

	// On-demand database backup, only with an admin token.
	if s.adminToken == "" {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "createBackup",
		Method:      http.MethodPost,
		Path:        "/api/admin/backup",
		Tags:        []string{"Admin"},
		Middlewares: huma.Middlewares{s.adminHumaMiddleware(api)},
	}, func(ctx context.Context, input *struct{}) (*CreateBackupOutput, error) {
		key, err := s.engine.Backup(ctx)
		if errors.Is(err, engine.ErrBackupNotConfigured) {
			return nil, huma.Error503ServiceUnavailable("backups are not enabled")
		}
		if err != nil {
			slog.Error("on-demand backup failed", "error", err)
			return nil, huma.Error500InternalServerError("backup failed")
		}
		out := &CreateBackupOutput{}
		out.Body.Key = key
		return out, nil
	})
}

// adminHumaMiddleware requires "Authorization: Bearer <admin token>".
func (s *Server) adminHumaMiddleware(api huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		token, ok := strings.CutPrefix(ctx.Header("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			slog.Warn("admin request rejected", "path", ctx.Operation().Path, "ip", ctx.RemoteAddr()) //nolint:gosec // structured logger, not format string
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "admin token required")
			return
		}
		next(ctx)
	}
}

// clientKeyHumaMiddleware resolves the nonce identity for the request and
// stores it on the context.
func (s *Server) clientKeyHumaMiddleware(ctx huma.Context, next func(huma.Context)) {
	key := s.clientKey(ctx)
	next(huma.WithContext(ctx, auth.WithClientKey(ctx.Context(), key)))
}

// metricsHumaMiddleware records Prometheus metrics for each huma request using
// the operation path as the route label for clean, low-cardinality metrics.
func metricsHumaMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)
	elapsed := time.Since(start)

	route := ctx.Operation().Path
	status := ctx.Status()
	if status == 0 {
		status = 200
	}

	httpRequestsTotal.WithLabelValues(ctx.Method(), route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(ctx.Method(), route).Observe(elapsed.Seconds())
}

// auditExcludedCommands lists high-frequency commands that carry no access
// decision and are left out of audit logging.
var auditExcludedCommands = map[string]struct{}{
	cmdGetNonce: {},
}

// auditHumaMiddleware counts every command by outcome and writes an audit
// entry for each access decision. The handler fills in the trace.
func auditHumaMiddleware(ctx huma.Context, next func(huma.Context)) {
	trace := &commandTrace{}
	next(huma.WithContext(ctx, withTrace(ctx.Context(), trace)))

	commandsTotal.WithLabelValues(commandLabel(trace.command, trace.errorID), trace.errorID).Inc()

	if !trace.protected {
		return
	}
	if _, excluded := auditExcludedCommands[trace.command]; excluded {
		return
	}

	e := audit.Event{
		Client:    trace.client,
		Command:   trace.command,
		Outcome:   outcomeFor(trace.errorID),
		IP:        ctx.RemoteAddr(),
		RequestID: RequestIDFromContext(ctx.Context()),
		Username:  trace.username,
		Score:     trace.score,
	}
	if trace.errorID != ErrIDNone {
		e.Reason = trace.errorID
	}
	e.Log("Audit Log: command")
}

// commandLabel bounds metric cardinality to the known command names.
func commandLabel(command, errorID string) string {
	switch command {
	case cmdGetNonce, cmdGetScores, cmdAddScore:
		return command
	}
	if errorID == ErrIDInvalidCommand {
		return "unknown"
	}
	return command
}

func outcomeFor(errorID string) string {
	switch errorID {
	case ErrIDNone:
		return audit.OutcomeGranted
	case ErrIDDBLoginError:
		return audit.OutcomeFailed
	default:
		return audit.OutcomeDenied
	}
}

type requestIDKey struct{}

// RequestIDFromContext returns the id assigned by the request logger.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestLogger assigns a request id and logs each HTTP request with method,
// path, status, and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-Id")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		slog.Info("request", //nolint:gosec // structured logger, not format string
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"latency", time.Since(start),
			"request_id", id,
		)
	})
}

// realIP extracts the real client IP from X-Real-Ip or X-Forwarded-For headers.
func realIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rip := r.Header.Get("X-Real-Ip"); rip != "" {
			r.RemoteAddr = rip
		} else if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if i := strings.IndexByte(xff, ','); i > 0 {
				r.RemoteAddr = strings.TrimSpace(xff[:i])
			} else {
				r.RemoteAddr = xff
			}
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer recovers from panics and returns a 500 envelope.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				slog.Error("panic recovered", "error", rvr, "method", r.Method, "path", r.URL.Path) //nolint:gosec // structured logger, not format string
				writeEnvelope(w, http.StatusInternalServerError, ErrIDInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Preflight values for browser clients.
const (
	corsMaxAge       = "60"
	corsAllowMethods = "POST, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, Accept, Origin, cache-control, cnonce, hash"
)

// cors allows any origin. OPTIONS preflights carrying an Origin are answered
// here and never reach the mux.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Origin") != "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Max-Age", corsMaxAge)
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// gzipDecompressor transparently decompresses gzip request bodies.
func gzipDecompressor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				writeEnvelope(w, http.StatusBadRequest, ErrIDBadRequest)
				return
			}
			r.Body = io.NopCloser(gz)
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
		}
		next.ServeHTTP(w, r)
	})
}

// writeEnvelope writes an error envelope outside of huma.
func writeEnvelope(w http.ResponseWriter, status int, id string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = stdjson.NewEncoder(w).Encode(Envelope{Error: id, Response: map[string]any{}})
}
