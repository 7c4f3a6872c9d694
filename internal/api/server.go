package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/santhosh-tekuri/jsonschema/v6"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/captcha-relay/internal/logger"
	"github.com/example/captcha-relay/internal/models"
	"github.com/example/captcha-relay/internal/orchestrator"
	relayotel "github.com/example/captcha-relay/internal/otel"
)

// DefaultMaxBodyBytes bounds a submit body; base64 adds a third to the image.
const DefaultMaxBodyBytes int64 = 10 << 20

// Tasks is the part of the orchestrator the handlers need.
type Tasks interface {
	Submit(ctx context.Context, img models.Image) (string, error)
	Result(ctx context.Context, id string) (*models.TaskState, error)
}

type Options struct {
	SubmitKey    string
	QueryKey     string
	MaxBodyBytes int64
	Tracer       trace.Tracer
	Metrics      *relayotel.Metrics
	Sentry       *sentry.Hub
}

type Server struct {
	tasks     Tasks
	submitKey []byte
	queryKey  []byte
	maxBody   int64
	schema    *jsonschema.Schema
	tracer    trace.Tracer
	metrics   *relayotel.Metrics
	sentry    *sentry.Hub
}

func NewServer(tasks Tasks, opts Options) (*Server, error) {
	schema, err := compileSubmitSchema()
	if err != nil {
		return nil, err
	}
	s := &Server{
		tasks:     tasks,
		submitKey: []byte(opts.SubmitKey),
		queryKey:  []byte(opts.QueryKey),
		maxBody:   opts.MaxBodyBytes,
		schema:    schema,
		tracer:    opts.Tracer,
		metrics:   opts.Metrics,
		sentry:    opts.Sentry,
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}
	if s.tracer == nil {
		s.tracer = relayotel.Noop().Tracer
	}
	if s.metrics == nil {
		s.metrics = relayotel.NoopMetrics()
	}
	return s, nil
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/submit", s.handleSubmit)
	mux.HandleFunc("/result", s.handleResult)
}

// Handler returns the routes wrapped in the relay's middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return instrument(s.tracer, s.metrics, cors(limitBody(s.maxBody, mux)))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !keyMatches(bearerToken(r), s.submitKey) {
		respondError(w, http.StatusUnauthorized, "invalid or missing submission credential")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		respondError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	if err := validateSubmit(s.schema, body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	var req submitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	img, err := models.DecodeImage(req.Image, req.MIMEType)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid image: "+err.Error())
		return
	}

	id, err := s.tasks.Submit(r.Context(), img)
	if err != nil {
		logger.LogAndCapture(s.sentry, err, "Failed to create task", map[string]interface{}{
			"mime_type": img.MIMEType,
		})
		respondError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(relayotel.AttrTaskID.String(id))
	respondJSON(w, http.StatusOK, map[string]string{"taskId": id})
}

// handleResult checks the credential before looking at the id, so a bad key
// never reveals whether a task exists.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	if !keyMatches(q.Get("apiKey"), s.queryKey) {
		respondError(w, http.StatusUnauthorized, "invalid query credential")
		return
	}
	id := strings.TrimSpace(q.Get("taskId"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "taskId is required")
		return
	}

	st, err := s.tasks.Result(r.Context(), id)
	if err != nil {
		if errors.Is(err, orchestrator.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.LogAndCapture(s.sentry, err, "Failed to read task", map[string]interface{}{"task_id": id})
		respondError(w, http.StatusInternalServerError, "failed to read task")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// Misconfigured answers every request with 500 naming what is missing, so a
// relay started without its settings never serves partially.
func Misconfigured(cause error) http.Handler {
	msg := cause.Error()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.WithFields(log.Fields{"method": r.Method, "path": r.URL.Path}).Error(msg)
		respondError(w, http.StatusInternalServerError, msg)
	})
}

func bearerToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authz, prefix))
}

func keyMatches(candidate string, key []byte) bool {
	if candidate == "" || len(key) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), key) == 1
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("write response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
