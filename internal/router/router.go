package router

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lunara-app/service-cycle-go/internal/cycle"
	"github.com/lunara-app/service-cycle-go/internal/middleware"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
				"request_id", r.Header.Get("X-Request-Id"),
			)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RegisterRoutes mounts the cycle API on the standard library's http.ServeMux.
// Everything under /lunara-cycle-api/cycle requires a bearer token.
func RegisterRoutes(logger *zap.SugaredLogger, h *cycle.Handler, jwtSecret string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /lunara-cycle-api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	authed := func(hf http.HandlerFunc) http.Handler {
		return middleware.Auth(jwtSecret, hf)
	}

	mux.Handle("GET /lunara-cycle-api/cycle", authed(h.GetCycle))
	mux.Handle("POST /lunara-cycle-api/cycle/period/start", authed(h.StartPeriod))
	mux.Handle("POST /lunara-cycle-api/cycle/period/end", authed(h.EndPeriod))
	mux.Handle("POST /lunara-cycle-api/cycle/period", authed(h.LogPeriod))
	mux.Handle("DELETE /lunara-cycle-api/cycle/period/{id}", authed(h.DeletePeriod))
	mux.Handle("DELETE /lunara-cycle-api/cycle/periods", authed(h.ClearPeriods))
	mux.Handle("POST /lunara-cycle-api/cycle/symptom", authed(h.LogSymptom))
	mux.Handle("GET /lunara-cycle-api/cycle/symptoms", authed(h.GetSymptoms))
	mux.Handle("PUT /lunara-cycle-api/cycle/settings", authed(h.UpdateSettings))
	mux.Handle("PUT /lunara-cycle-api/cycle/expected-period", authed(h.SetExpectedPeriod))
	mux.Handle("DELETE /lunara-cycle-api/cycle/expected-period", authed(h.ClearExpectedPeriod))
	mux.Handle("PUT /lunara-cycle-api/cycle/sharing", authed(h.UpdateSharing))
	mux.Handle("GET /lunara-cycle-api/cycle/shared/{ownerId}", authed(h.GetSharedCycle))

	handler := middleware.RequestID(SecurityHeadersMiddleware()(mux))
	return LoggingMiddleware(logger)(handler)
}
