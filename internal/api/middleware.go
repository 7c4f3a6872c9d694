package api

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	relayotel "github.com/example/captcha-relay/internal/otel"
)

// cors allows browser clients from any origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitBody(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func routeName(path string) string {
	switch path {
	case "/submit", "/result", "/health":
		return path
	}
	return "unmatched"
}

// instrument opens a server span per request and records its duration.
func instrument(tracer trace.Tracer, m *relayotel.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeName(r.URL.Path)
		ctx, span := relayotel.StartServerSpan(r.Context(), tracer, r.Method+" "+route, relayotel.AttrRoute.String(route))
		defer span.End()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(relayotel.AttrHTTPStatus.Int(rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		m.RequestDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			relayotel.AttrRoute.String(route),
			relayotel.AttrHTTPStatus.Int(rec.status),
		))
		log.WithFields(log.Fields{
			"method":  r.Method,
			"route":   route,
			"status":  rec.status,
			"elapsed": time.Since(start).Round(time.Microsecond),
		}).Debug("request handled")
	})
}
