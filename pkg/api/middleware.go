package api

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/PiRogueToolSuite/threatr/pkg/logging"
)

// panicRecoveryMiddleware keeps a handler panic from taking the server
// down with it.
func (s *Server) panicRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic in http handler",
					logging.String("method", r.Method),
					logging.String("path", r.URL.Path),
					logging.Any("panic", err),
					logging.String("stack", string(debug.Stack())))
				s.respondError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		s.logger.Info("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", wrapper.statusCode),
			logging.Latency(time.Since(start)))
	})
}

// bodySizeLimitMiddleware rejects oversized request bodies before the
// handlers read them.
func (s *Server) bodySizeLimitMiddleware(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxBytes {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		s.metrics.HTTPRequestsInFlight.Inc()
		defer s.metrics.HTTPRequestsInFlight.Dec()

		wrapper := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path,
			strconv.Itoa(wrapper.statusCode), time.Since(start))
	})
}

// requireAuth validates the caller's API key against the configured
// bcrypt hashes. No configured hashes means an open deployment.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.apiKeyHashes) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-Api-Key")
		if key == "" {
			s.respondError(w, http.StatusUnauthorized, "missing X-Api-Key header")
			return
		}
		for _, hash := range s.apiKeyHashes {
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		s.logger.Warn("rejected api key", logging.String("path", r.URL.Path))
		s.respondError(w, http.StatusUnauthorized, "invalid api key")
	}
}

// statusResponseWriter wraps http.ResponseWriter to capture status code
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
