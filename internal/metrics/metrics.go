// ABOUTME: OpenTelemetry meter provider setup and the counters recorded by the companion
// ABOUTME: Exports over OTLP/HTTP when an endpoint is configured, otherwise records in-process only

package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/2389/carekeeper"

// Upload outcomes.
const (
	UploadSent     = "sent"
	UploadFailed   = "failed"
	UploadRejected = "unauthorized"
	UploadSkipped  = "skipped"
	UploadDropped  = "dropped"
)

// Alert outcomes.
const (
	AlertTriggered = "triggered"
	AlertSent      = "sent"
	AlertFailed    = "failed"
	AlertDeferred  = "permission_denied"
	AlertSkipped   = "skipped"
)

// Providers holds the meter provider and a shutdown function.
type Providers struct {
	MeterProvider *sdkmetric.MeterProvider
	Shutdown      func(context.Context) error
}

// NewProviders creates a MeterProvider. With an empty endpoint nothing is
// exported and Shutdown only releases the provider.
func NewProviders(ctx context.Context, endpoint, serviceName string, interval time.Duration) (*Providers, error) {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		return &Providers{MeterProvider: mp, Shutdown: mp.Shutdown}, nil
	}

	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}

	if interval <= 0 {
		interval = 30 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)

	shutdown := func(ctx context.Context) error {
		if err := mp.Shutdown(ctx); err != nil {
			slog.Warn("metrics shutdown failed", "error", err)
			return err
		}
		return nil
	}
	return &Providers{MeterProvider: mp, Shutdown: shutdown}, nil
}

// SetGlobal installs the meter provider globally so otelhttp picks it up.
func (p *Providers) SetGlobal() {
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
}

// Recorder records companion counters. The zero value is not usable; a nil
// *Recorder is, and records nothing.
type Recorder struct {
	uploads  metric.Int64Counter
	alerts   metric.Int64Counter
	progress metric.Float64Histogram
}

// NewRecorder creates the instruments on mp.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	meter := mp.Meter(meterName)

	uploads, err := meter.Int64Counter("carekeeper.uploads",
		metric.WithDescription("Telemetry upload ticks by outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating uploads counter: %w", err)
	}
	alerts, err := meter.Int64Counter("carekeeper.alerts",
		metric.WithDescription("Panic alerts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating alerts counter: %w", err)
	}
	progress, err := meter.Float64Histogram("carekeeper.hold.cancelled_progress",
		metric.WithDescription("Hold progress reached when a hold was released early"))
	if err != nil {
		return nil, fmt.Errorf("creating hold histogram: %w", err)
	}

	return &Recorder{uploads: uploads, alerts: alerts, progress: progress}, nil
}

// Upload counts one upload tick with the given outcome.
func (r *Recorder) Upload(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.uploads.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Alert counts one alert event with the given outcome.
func (r *Recorder) Alert(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.alerts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// HoldCancelled records how far a released hold got.
func (r *Recorder) HoldCancelled(ctx context.Context, progress float64) {
	if r == nil {
		return
	}
	r.progress.Record(ctx, progress)
}
