package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"otp-service/internal/util"
)

// RouterOptions tunes transport behaviour that differs per environment.
type RouterOptions struct {
	// RequireTLS rejects plain HTTP requests unless an ingress reports
	// that it terminated TLS.
	RequireTLS     bool
	AllowedOrigins []string
	RequestTimeout time.Duration
	// AdminToken is the bearer token for operator routes. Empty disables
	// them.
	AdminToken string
}

// requireHTTPS answers 426 to requests that arrived over plain HTTP.
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
			writeStatic(w, http.StatusUpgradeRequired, `{"success":false,"error":"https_required"}`)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireBearer answers 401 unless the request carries
// "Authorization: Bearer <token>".
func requireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="otp-admin"`)
				writeStatic(w, http.StatusUnauthorized, `{"success":false,"error":"unauthorized"}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeStatic(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// NewRouter mounts the OTP API under /api/v1 behind the shared middleware.
func NewRouter(otpHandler *OTPHandler, logger *zap.Logger, opts RouterOptions) chi.Router {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"https://*"}
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	if opts.RequireTLS {
		router.Use(requireHTTPS)
	}
	router.Use(middleware.Timeout(opts.RequestTimeout))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:         300,
	}))

	// Liveness only; provider health lives under /api/v1/otp/health
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatic(w, http.StatusOK, `{"status":"healthy","service":"otp-service"}`)
	})

	var admin func(http.Handler) http.Handler
	if opts.AdminToken != "" {
		admin = requireBearer(opts.AdminToken)
	}
	router.Route("/api/v1", func(r chi.Router) {
		otpHandler.RegisterRoutes(r, admin)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeStatic(w, http.StatusNotFound, `{"success":false,"error":"endpoint_not_found"}`)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeStatic(w, http.StatusMethodNotAllowed, `{"success":false,"error":"method_not_allowed"}`)
	})

	return router
}

// LoggerMiddleware logs one line per request at a level derived from the
// response status. Bodies are never logged since they carry phones and codes.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				level := zapcore.InfoLevel
				switch {
				case status >= http.StatusInternalServerError:
					level = zapcore.ErrorLevel
				case status >= http.StatusBadRequest:
					level = zapcore.WarnLevel
				}
				if ce := logger.Check(level, "HTTP request"); ce != nil {
					ce.Write(
						util.String("request_id", middleware.GetReqID(r.Context())),
						util.String("method", r.Method),
						util.String("path", r.URL.Path),
						util.String("remote_addr", r.RemoteAddr),
						util.Int("status", status),
						util.Int("bytes", ww.BytesWritten()),
						util.Duration("duration", time.Since(start)),
					)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
