package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/seer/internal/telemetry"
)

func TestInstrument_RecordsEveryCall(t *testing.T) {
	rec := telemetry.Install(t)
	srv := teiServer(t, nil)
	svc, err := NewService(Config{BaseURL: srv.URL, Model: "BAAI/bge-small-en-v1.5"})
	require.NoError(t, err)
	p := Instrument(svc, "BAAI/bge-small-en-v1.5", nil)
	ctx := context.Background()

	_, err = p.EmbedDocuments(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	_, err = p.EmbedQuery(ctx, "q")
	require.NoError(t, err)
	_, err = p.EmbedDocuments(ctx, []string{"poison"})
	require.Error(t, err)

	latency, ok := rec.Metric(ctx, "seer.embedding.duration")
	require.True(t, ok)
	var calls uint64
	for _, dp := range latency.Data.(metricdata.Histogram[float64]).DataPoints {
		calls += dp.Count
	}
	assert.Equal(t, uint64(3), calls)

	texts, ok := rec.Metric(ctx, "seer.embedding.texts")
	require.True(t, ok)
	var n int64
	for _, dp := range texts.Data.(metricdata.Sum[int64]).DataPoints {
		n += dp.Value
	}
	assert.Equal(t, int64(5), n)

	failures, ok := rec.Metric(ctx, "seer.embedding.failures")
	require.True(t, ok)
	points := failures.Data.(metricdata.Sum[int64]).DataPoints
	require.Len(t, points, 1)
	assert.Equal(t, int64(1), points[0].Value)
	op, _ := points[0].Attributes.Value("operation")
	assert.Equal(t, opDocuments, op.AsString())

	assert.Equal(t, []string{"embeddings.documents", "embeddings.query", "embeddings.documents"}, rec.SpanNames())
	assert.Equal(t, codes.Error, rec.Span("embeddings.documents").Status().Code)
	assert.Equal(t, int64(1), rec.Attr("embeddings.documents", "embedding.texts"))

	assert.Equal(t, 3, p.Dimension(), "dimension comes from the wrapped provider")
}
