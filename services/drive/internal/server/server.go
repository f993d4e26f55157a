package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"filevault/internal/clock"
	"filevault/internal/ratelimit"
	"filevault/internal/util"
	"filevault/pkg/domain"
	"filevault/services/drive/internal/app"
	"filevault/services/drive/internal/security"
)

const maxJSONBody = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	// Redis backs rate limiting and audit alerts. Nil disables both.
	Redis          redis.Scripter
	Clock          clock.Clock
	CORSOrigins    []string
	TrustedProxies *util.TrustedProxies
	CookieSecure   bool
	MaxUploadBytes int64

	LoginRateLimitPerMinute  int
	VerifyRateLimitPerMinute int
	GoogleRateLimitPerMinute int
}

// Server exposes the HTTP API.
type Server struct {
	app            *app.App
	router         chi.Router
	validate       *validator.Validate
	alerter        *security.AuditAlerter
	corsOrigins    []string
	trustedProxies *util.TrustedProxies
	cookieSecure   bool
	maxUploadBytes int64
	loginLimiter   *ratelimit.FixedWindowLimiter
	verifyLimiter  *ratelimit.FixedWindowLimiter
	googleLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:            cfg.App,
		router:         chi.NewRouter(),
		validate:       newValidator(),
		corsOrigins:    cfg.CORSOrigins,
		trustedProxies: cfg.TrustedProxies,
		cookieSecure:   cfg.CookieSecure,
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
	}
	if cfg.Redis != nil {
		newLimiter := func(name string, limit, fallback int) (*ratelimit.FixedWindowLimiter, error) {
			if limit <= 0 {
				limit = fallback
			}
			limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "filevault:ratelimit:"+name, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		if s.loginLimiter, err = newLimiter("login", cfg.LoginRateLimitPerMinute, 10); err != nil {
			return nil, err
		}
		if s.verifyLimiter, err = newLimiter("verify", cfg.VerifyRateLimitPerMinute, 10); err != nil {
			return nil, err
		}
		if s.googleLimiter, err = newLimiter("google", cfg.GoogleRateLimitPerMinute, 20); err != nil {
			return nil, err
		}
		s.alerter = security.NewAuditAlerter(cfg.Redis, "filevault:alerts", cfg.Clock)
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("drive",
			util.WithSecurityHeaders(
				util.WithCORS(s.corsOrigins, s.router),
			),
		),
	)
}

func (s *Server) routes() {
	r := s.router
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{
			Code:    http.StatusMethodNotAllowed,
			Message: "Method not allowed",
			Error:   &errorBody{Code: "METHOD_NOT_ALLOWED", RequestID: util.RequestIDFromRequest(r)},
		})
	})

	r.Get("/healthz", s.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/send-otp", s.handleLogin)
		r.Post("/verify-otp", s.handleVerifyOTP)
		r.Post("/logout", s.handleLogout)
		r.Post("/google/verify", s.handleGoogleVerify)
	})

	r.Get("/sessions/me", s.authenticated(s.handleMe))
	r.Get("/users/me", s.authenticated(s.handleMe))

	r.Route("/files", func(r chi.Router) {
		r.Get("/", s.authenticated(s.handleListFiles))
		r.Post("/upload", s.authenticated(s.handleUpload))
		r.Get("/usage", s.authenticated(s.handleUsage))
		r.Delete("/{id}", s.authenticated(s.handleDeleteFile))
		r.Put("/rename/{id}", s.authenticated(s.handleRenameFile))
		r.Post("/share/{id}/public", s.authenticated(s.handleEnablePublicLink))
		r.Post("/share/{id}/disable", s.authenticated(s.handleDisablePublicLink))
		r.Post("/share-user/{id}", s.authenticated(s.handleShareUser))
		r.Get("/access/{id}", s.authenticated(s.handleCheckAccess))
		r.Get("/download/{id}", s.authenticated(s.handleDownload))
		r.Get("/public/{token}", s.handlePublicFile)
		r.Get("/public/{token}/download", s.handlePublicDownload)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

// authenticated resolves the session cookie to a user before calling next.
func (s *Server) authenticated(next authHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.app.ValidateSession(r.Context(), sessionToken(r))
		if err != nil {
			s.audit(r, security.EventAuthorize, security.OutcomeFail, "reason", app.AsError(err).Code)
			writeError(w, r, err)
			return
		}
		next(w, r, user)
	}
}

// envelope is the body of every JSON response other than /healthz.
type envelope struct {
	Code    int        `json:"code"`
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

var errNotFound = &app.Error{Kind: app.KindNotFound, Code: "NOT_FOUND", Message: "Not found"}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Code: status, Success: true, Message: message, Data: data})
}

// writeError maps err to its status and stable code. Internal causes are
// logged and never sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := app.AsError(err)
	status := e.Kind.HTTPStatus()
	if e.Kind == app.KindInternal || e.Kind == app.KindUpstream {
		util.LoggerFromContext(r.Context()).Error("request failed",
			"component", "drive",
			"path", r.URL.Path,
			"code", e.Code,
			"err", err,
		)
	}
	writeJSON(w, status, envelope{
		Code:    status,
		Success: false,
		Message: e.Message,
		Error:   &errorBody{Code: e.Code, RequestID: util.RequestIDFromRequest(r)},
	})
}

// decodeJSON reads a bounded JSON body into dst and validates its tags.
func (s *Server) decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst); err != nil {
		return app.ErrInvalidInput.Wrap(fmt.Errorf("decode body: %w", err))
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &app.Error{
				Kind:    app.KindValidation,
				Code:    app.ErrInvalidInput.Code,
				Message: "invalid " + verrs[0].Field(),
				Err:     err,
			}
		}
		return app.ErrInvalidInput.Wrap(err)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

// audit emits a security_event log line and feeds the alert counters.
func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := s.clientIP(r)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == security.OutcomeSuccess {
		logger.Info("security_event", logAttrs...)
	} else {
		logger.Warn("security_event", logAttrs...)
	}
	if s.alerter == nil {
		return
	}
	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert counter failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

// allowRate applies a per-path, per-IP limit. A nil limiter admits every
// request.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, event string) bool {
	if limiter == nil {
		return true
	}
	allowed, retryAfter := limiter.Allow(r.Context(), r.URL.Path+"|"+s.clientIP(r))
	if allowed {
		return true
	}
	s.audit(r, event, security.OutcomeRateLimited)
	seconds := int((retryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, r, app.ErrRateLimited)
	return false
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 << 20
	}
	return value
}

func pathParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}
