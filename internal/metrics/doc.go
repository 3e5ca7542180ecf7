// Package metrics wires OpenTelemetry metrics for the companion: upload
// ticks and alerts are counted by outcome, and released holds record how
// far they got. Export is OTLP over HTTP when metrics.endpoint is set.
package metrics
