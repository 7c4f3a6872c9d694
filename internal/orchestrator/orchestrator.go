package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/captcha-relay/internal/logger"
	"github.com/example/captcha-relay/internal/models"
	relayotel "github.com/example/captcha-relay/internal/otel"
	"github.com/example/captcha-relay/internal/providers/llm"
	"github.com/example/captcha-relay/internal/storage"
)

// DefaultTTL applies to both the pending and the terminal write.
const DefaultTTL = 300 * time.Second

// ErrTaskNotFound means the id was never issued or its entry expired.
var ErrTaskNotFound = errors.New("task not found")

// Orchestrator owns the task lifecycle: pending on submit, then exactly one
// terminal write from a detached goroutine. The store is the only shared state;
// each key has a single writer sequence, so no locking is needed here.
type Orchestrator struct {
	store   storage.Store
	client  llm.Client
	ttl     time.Duration
	tracer  trace.Tracer
	metrics *relayotel.Metrics
	sentry  *sentry.Hub
	newID   func() string

	wg sync.WaitGroup
}

type Options struct {
	TTL     time.Duration
	Tracer  trace.Tracer
	Metrics *relayotel.Metrics
	Sentry  *sentry.Hub
	// NewID overrides uuid generation in tests.
	NewID func() string
}

func New(store storage.Store, client llm.Client, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		client:  client,
		ttl:     opts.TTL,
		tracer:  opts.Tracer,
		metrics: opts.Metrics,
		sentry:  opts.Sentry,
		newID:   opts.NewID,
	}
	if o.ttl <= 0 {
		o.ttl = DefaultTTL
	}
	if o.tracer == nil {
		o.tracer = relayotel.Noop().Tracer
	}
	if o.metrics == nil {
		o.metrics = relayotel.NoopMetrics()
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o
}

// Submit records a pending task and starts inference in the background. The
// pending entry is written before Submit returns; if that write fails no id is
// issued and nothing runs.
func (o *Orchestrator) Submit(ctx context.Context, img models.Image) (string, error) {
	id := o.newID()
	ctx, span := relayotel.StartSpan(ctx, o.tracer, "task.submit", relayotel.AttrTaskID.String(id))
	defer span.End()

	if err := o.put(ctx, id, models.Pending()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("record pending task: %w", err)
	}
	o.metrics.TasksSubmitted.Add(ctx, 1)

	// detach from the request so the run outlives the response, keeping trace context
	bg := context.WithoutCancel(ctx)
	o.wg.Add(1)
	o.metrics.TasksActive.Add(bg, 1)
	go o.run(bg, id, img)

	log.WithFields(log.Fields{"task_id": id, "mime_type": img.MIMEType, "bytes": len(img.Data)}).Info("task submitted")
	return id, nil
}

// Result returns the stored state verbatim. It never writes.
func (o *Orchestrator) Result(ctx context.Context, id string) (*models.TaskState, error) {
	raw, err := o.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("read task %s: %w", id, err)
	}
	var st models.TaskState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &st, nil
}

// Wait blocks until every background run has written its terminal state.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) run(ctx context.Context, id string, img models.Image) {
	defer o.wg.Done()
	defer o.metrics.TasksActive.Add(ctx, -1)

	ctx, span := relayotel.StartSpan(ctx, o.tracer, "task.run", relayotel.AttrTaskID.String(id))
	defer span.End()

	start := time.Now()
	state := o.solve(ctx, id, img)
	span.SetAttributes(relayotel.AttrTaskStatus.String(string(state.Status)))

	if err := o.put(ctx, id, state); err != nil {
		// nothing left to record the failure in; the pending entry expires on its own
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.LogAndCapture(o.sentry, err, "Failed to record terminal task state", map[string]interface{}{
			"task_id": id,
			"status":  string(state.Status),
		})
		return
	}
	o.metrics.TasksFinished.Add(ctx, 1, metric.WithAttributes(relayotel.AttrTaskStatus.String(string(state.Status))))

	entry := log.WithFields(log.Fields{"task_id": id, "status": state.Status, "elapsed": time.Since(start).Round(time.Millisecond)})
	if state.Status == models.StatusError {
		entry.WithField("message", state.Message).Warn("task failed")
		return
	}
	entry.Info("task completed")
}

// solve never panics: provider errors, blank answers and internal panics all
// become an error state.
func (o *Orchestrator) solve(ctx context.Context, id string, img models.Image) (state models.TaskState) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during inference: %v", r)
			logger.LogAndCapture(o.sentry, err, "Inference panicked", map[string]interface{}{
				"task_id": id,
				"stack":   string(debug.Stack()),
			})
			state = models.Failed(fmt.Sprintf("internal error: %v", r))
		}
	}()

	ans, err := o.client.Recognize(ctx, img)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "inference failed"
		}
		return models.Failed(msg)
	}
	ans = strings.TrimSpace(ans)
	if ans == "" {
		return models.Failed(llm.ErrEmptyAnswer.Error())
	}
	return models.Completed(ans)
}

func (o *Orchestrator) put(ctx context.Context, id string, st models.TaskState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return o.store.Put(ctx, id, b, o.ttl)
}
