// ABOUTME: Tests for metric instruments using an in-memory manual reader
// ABOUTME: Verifies counters are recorded per outcome and a nil recorder is inert

package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			byOutcome := map[string]int64{}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key("outcome"))
				byOutcome[v.AsString()] += dp.Value
			}
			out[m.Name] = byOutcome
		}
	}
	return out
}

func TestRecorder_Counts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	rec, err := NewRecorder(mp)
	require.NoError(t, err)

	ctx := context.Background()
	rec.Upload(ctx, UploadSent)
	rec.Upload(ctx, UploadSent)
	rec.Upload(ctx, UploadSkipped)
	rec.Alert(ctx, AlertTriggered)
	rec.HoldCancelled(ctx, 0.33)

	got := collect(t, reader)
	assert.Equal(t, map[string]int64{UploadSent: 2, UploadSkipped: 1}, got["carekeeper.uploads"])
	assert.Equal(t, map[string]int64{AlertTriggered: 1}, got["carekeeper.alerts"])
}

func TestRecorder_Nil(t *testing.T) {
	var rec *Recorder
	rec.Upload(context.Background(), UploadSent)
	rec.Alert(context.Background(), AlertSent)
	rec.HoldCancelled(context.Background(), 1)
}

func TestNewProviders_NoEndpoint(t *testing.T) {
	p, err := NewProviders(context.Background(), "", "carekeeper-test", time.Second)
	require.NoError(t, err)
	require.NotNil(t, p.MeterProvider)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviders_WithEndpoint(t *testing.T) {
	// The exporter connects lazily, so construction succeeds without a collector.
	p, err := NewProviders(context.Background(), "127.0.0.1:4318", "carekeeper-test", time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = p.Shutdown(ctx)
}
