package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/estoqueflow/sessiongate/config"
	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
	"github.com/estoqueflow/sessiongate/internal/service"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID assigns every request an id, honoring an inbound X-Request-ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request id, or empty when absent.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.String("request_id", RequestIDFromContext(r.Context())),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Protect returns a middleware that gates a route behind the guard's
// decision for requiredRole. Resolving states answer 503 with Retry-After so
// well-behaved clients poll instead of failing; settled denials redirect to
// the configured pages.
func Protect(guard *service.Guard, cfg config.HTTPConfig, requiredRole domainauth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := guard.Evaluate(requiredRole)
			switch decision {
			case service.DecisionRender:
				next.ServeHTTP(w, r)
			case service.DecisionWait, service.DecisionReconnecting:
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
				WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"state": decision.String(),
				})
			case service.DecisionRedirectLogin:
				http.Redirect(w, r, cfg.LoginPath, http.StatusFound)
			case service.DecisionRedirectPending:
				http.Redirect(w, r, cfg.PendingPath, http.StatusFound)
			case service.DecisionRedirectForbidden:
				http.Redirect(w, r, cfg.DeniedPath, http.StatusFound)
			case service.DecisionErrorCard:
				WriteError(w, ErrorParams{
					Code:    http.StatusBadGateway,
					ErrCode: "profile_unavailable",
					Err:     errors.New("profile could not be loaded; retry manually"),
				})
			default:
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		})
	}
}

const retryAfterSeconds = 2
