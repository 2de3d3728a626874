package httpapi

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Nemu-x/botlab/core/logger"
)

// requestLog carries the chi request id into the logging context and writes
// one summary line per request.
func requestLog(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logger.WithRID(r.Context(), "http:"+middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("http_code", status),
				slog.Int("size", ww.BytesWritten()),
				slog.Duration("duration", logger.Took(start)),
			}
			if status >= http.StatusInternalServerError {
				logger.Warn(ctx, component, "http.request", attrs...)
				return
			}
			logger.Info(ctx, component, "http.request", attrs...)
		}()

		next.ServeHTTP(ww, r.WithContext(ctx))
	}
	return http.HandlerFunc(fn)
}

// APIKey authenticates operators with a shared key. An empty key disables auth.
type APIKey string

// Authenticate reports whether token matches the key and names the operator.
func (k APIKey) Authenticate(token string) (string, bool) {
	if k == "" {
		return "operator", true
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(k)) != 1 {
		return "", false
	}
	return "operator", true
}

// Middleware rejects requests without "Authorization: Bearer <key>".
func (k APIKey) Middleware(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		token := ""
		header := r.Header.Get("Authorization")
		if scheme, value, found := strings.Cut(header, " "); found && strings.EqualFold(scheme, "Bearer") {
			token = strings.TrimSpace(value)
		}
		if _, ok := k.Authenticate(token); !ok {
			logger.Info(r.Context(), component, "http.auth", slog.String("status", "rejected"),
				slog.Bool("header", header != ""))
			fail(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
