package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/captcha-relay/internal/models"
	relayotel "github.com/example/captcha-relay/internal/otel"
)

// Instrumented wraps a Client with a client span and a duration histogram.
type Instrumented struct {
	Next    Client
	Tracer  trace.Tracer
	Metrics *relayotel.Metrics
	Model   string
}

func (c *Instrumented) Recognize(ctx context.Context, img models.Image) (string, error) {
	ctx, span := relayotel.StartClientSpan(ctx, c.Tracer, "llm.recognize",
		relayotel.AttrModel.String(c.Model),
		relayotel.AttrMIMEType.String(img.MIMEType),
	)
	defer span.End()

	start := time.Now()
	ans, err := c.Next.Recognize(ctx, img)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.Metrics.InferenceDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(relayotel.AttrModel.String(c.Model), relayotel.AttrTaskStatus.String(outcome)))
	return ans, err
}
