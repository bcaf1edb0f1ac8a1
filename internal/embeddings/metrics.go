package embeddings

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/seer/internal/embeddings"

// Operation labels.
const (
	opDocuments = "documents"
	opQuery     = "query"
)

type instruments struct {
	latency  metric.Float64Histogram
	texts    metric.Int64Counter
	failures metric.Int64Counter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		in   instruments
		errs [3]error
	)
	in.latency, errs[0] = meter.Float64Histogram("seer.embedding.duration",
		metric.WithDescription("Embedding call latency by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	in.texts, errs[1] = meter.Int64Counter("seer.embedding.texts",
		metric.WithDescription("Texts sent for embedding"),
		metric.WithUnit("{text}"))
	in.failures, errs[2] = meter.Int64Counter("seer.embedding.failures",
		metric.WithDescription("Failed embedding calls"),
		metric.WithUnit("{call}"))
	return &in, errors.Join(errs[:]...)
}

// instrumented traces and meters every call of the wrapped provider.
type instrumented struct {
	Provider
	model string
	in    *instruments
}

// Instrument wraps p so every embedding call gets a span and metrics
// labelled with model.
func Instrument(p Provider, model string, logger *logging.Logger) Provider {
	in, err := newInstruments(otel.Meter(instrumentationName))
	if err != nil {
		if logger != nil {
			logger.Warn(context.Background(), "embedding metrics unavailable", zap.Error(err))
		}
		in, _ = newInstruments(noop.NewMeterProvider().Meter(instrumentationName))
	}
	return &instrumented{Provider: p, model: model, in: in}
}

func (i *instrumented) observe(ctx context.Context, op string, n int) (context.Context, func(error)) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "embeddings."+op)
	attrs := metric.WithAttributes(attribute.String("model", i.model), attribute.String("operation", op))
	span.SetAttributes(attribute.String("embedding.model", i.model), attribute.Int("embedding.texts", n))
	start := time.Now()
	return ctx, func(err error) {
		i.in.latency.Record(ctx, time.Since(start).Seconds(), attrs)
		i.in.texts.Add(ctx, int64(n), attrs)
		if err != nil {
			i.in.failures.Add(ctx, 1, attrs)
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding failed")
		}
		span.End()
	}
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, done := i.observe(ctx, opDocuments, len(texts))
	vecs, err := i.Provider.EmbedDocuments(ctx, texts)
	done(err)
	return vecs, err
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, done := i.observe(ctx, opQuery, 1)
	vec, err := i.Provider.EmbedQuery(ctx, text)
	done(err)
	return vec, err
}
