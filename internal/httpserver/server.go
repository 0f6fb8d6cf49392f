package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"campushub/portalgate/internal/audit"
	"campushub/portalgate/internal/config"
	"campushub/portalgate/internal/guard"
	"campushub/portalgate/internal/observability"
	"campushub/portalgate/internal/portal"
	"campushub/portalgate/internal/profile"
)

// Runtimes hands out the client runtime behind a request.
type Runtimes interface {
	ForRequest(r *http.Request) (*portal.Runtime, error)
	GuardSource() guard.SourceFunc
}

type ProfileService interface {
	CompleteOnboarding(ctx context.Context, uid string, in profile.Onboarding) (profile.Profile, error)
	SetRole(ctx context.Context, uid, role string) (profile.Profile, error)
	SetLoanLimit(ctx context.Context, uid string, limit float64) (profile.Profile, error)
	List(ctx context.Context, f profile.ListFilter) ([]profile.Profile, error)
	SavePreferences(ctx context.Context, uid string, prefs map[string]bool) error
}

type AuditLogger interface {
	Log(ctx context.Context, e audit.Event) error
}

// AuditLogStore reads back mirrored audit events for the admin viewer.
type AuditLogStore interface {
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
	Delete(ctx context.Context, id string) error
}

type Deps struct {
	Clients   Runtimes
	Guards    *guard.Guards
	Profiles  ProfileService
	Audit     AuditLogger
	AuditLogs AuditLogStore
	Metrics   *Metrics
	// MetricsHandler serves /metrics; nil means promhttp.Handler().
	MetricsHandler http.Handler
	// Ready reports whether backing stores are reachable. Nil means always
	// ready.
	Ready         func(ctx context.Context) error
	Logger        *zap.Logger
	SecureCookies bool
	Version       string
}

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	deps.SecureCookies = deps.SecureCookies || cfg.SecureCookies
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewHandler(deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

type handlers struct {
	Deps
}

func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MetricsHandler == nil {
		deps.MetricsHandler = promhttp.Handler()
	}
	if deps.Version == "" {
		deps.Version = "0.1.0"
	}
	h := &handlers{Deps: deps}

	r := chi.NewRouter()
	r.Use(loggingMiddleware(deps.Logger))
	r.Use(deps.Metrics.Middleware)
	r.Use(portal.WithClient(deps.SecureCookies))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", h.handleReady)
	r.Get("/v1/info", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": "portalgate",
			"version": deps.Version,
		})
	})
	r.Handle("/metrics", deps.MetricsHandler)

	if deps.Clients == nil || deps.Guards == nil {
		r.HandleFunc("/*", func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusServiceUnavailable, "portal unavailable")
		})
		return r
	}

	authed := deps.Guards.RequireAuthenticated(deps.Clients.GuardSource())
	admin := deps.Guards.RequireAdmin(deps.Clients.GuardSource())

	r.Get(deps.Guards.LoginPath(), h.handleLoginPage)

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)
		r.Post("/password-reset", h.handlePasswordReset)
		r.Post("/password-reset/confirm", h.handlePasswordResetConfirm)
		r.With(authed).Get("/me", h.handleMe)
		r.With(authed).Get("/token", h.handleToken)
		r.With(authed).Post("/change-password", h.handleChangePassword)
	})

	r.Get("/v1/preferences", h.handleGetPreferences)
	r.Put("/v1/preferences", h.handlePutPreferences)
	r.With(authed).Post("/v1/profile/onboarding", h.handleOnboarding)

	r.With(authed).Get("/dashboard", h.handleDashboard)
	r.With(admin).Get("/admin", h.handleAdminPage)

	r.Route("/v1/admin/users", func(r chi.Router) {
		r.Use(admin)
		r.Get("/", h.handleListUsers)
		r.Put("/{id}/role", h.handleSetRole)
		r.Put("/{id}/limit", h.handleSetLoanLimit)
	})

	r.Route("/v1/admin/audit-logs", func(r chi.Router) {
		r.Use(admin)
		r.Get("/", h.handleListAuditLogs)
		r.Delete("/{id}", h.handleDeleteAuditLog)
	})

	return r
}

func (h *handlers) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			observability.From(r.Context()).Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// runtime resolves the client runtime or answers 503.
func (h *handlers) runtime(w http.ResponseWriter, r *http.Request) (*portal.Runtime, bool) {
	rt, err := h.Clients.ForRequest(r)
	if err != nil {
		observability.From(r.Context()).Error("client runtime unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "client session unavailable")
		return nil, false
	}
	return rt, true
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// loggingMiddleware assigns a request id, scopes a logger with it onto the
// request context and writes one access line per request.
func loggingMiddleware(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
			if reqID == "" {
				reqID = newRequestID()
			}
			w.Header().Set("X-Request-Id", reqID)

			log := base.With(zap.String("request_id", reqID))
			ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
			ctx = observability.ToContext(ctx, log)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(rec, r.WithContext(ctx))

			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("ip", clientIP(r)),
			)
		})
	}
}

type requestIDKey struct{}

func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func requestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(requestIDKey{}).(string); ok {
		return s
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// auditReq records an audit event with request context folded into the
// detail. Audit failures never fail the request.
func (h *handlers) auditReq(r *http.Request, actor, action, target, outcome, detail string) {
	if h.Audit == nil {
		return
	}
	parts := []string{
		"rid=" + requestIDFromContext(r.Context()),
		"ip=" + clientIP(r),
		"ua=" + strings.TrimSpace(r.UserAgent()),
	}
	if strings.TrimSpace(detail) != "" {
		parts = append(parts, "detail="+strings.TrimSpace(detail))
	}
	clientID, _ := portal.ClientID(r.Context())
	err := h.Audit.Log(r.Context(), audit.Event{
		Actor:    actor,
		Action:   action,
		Target:   target,
		Outcome:  outcome,
		Detail:   strings.Join(parts, " | "),
		ClientID: clientID,
	})
	if err != nil {
		observability.From(r.Context()).Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
