// ABOUTME: Sensor sources feeding the telemetry sampler, plus a simulated source for development
// ABOUTME: Run holds its timers only while running and releases them before returning

package sensors

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/2389/carekeeper/internal/clock"
	"github.com/2389/carekeeper/internal/telemetry"
)

// Sink receives sensor readings. *telemetry.Sampler satisfies it.
type Sink interface {
	OnMotionSample(accel, gyro telemetry.Vec3)
	OnLocationSample(lat, lon float64)
}

// Source produces readings until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// Passive is a Source that emits nothing. Readings arrive from outside,
// for example pushed through the control API by a platform bridge.
type Passive struct{}

func (Passive) Run(ctx context.Context, _ Sink) error {
	<-ctx.Done()
	return nil
}

const standardGravity = 9.80665

// Simulated emits plausible readings for a phone at rest near Origin,
// with small noise and a slow location drift.
type Simulated struct {
	Clock            clock.Clock
	MotionInterval   time.Duration
	LocationInterval time.Duration
	Origin           telemetry.Location
	Logger           *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
	lat float64
	lon float64
}

// NewSimulated creates a simulated source. Zero intervals fall back to
// 200ms for motion and 5s for location.
func NewSimulated(clk clock.Clock, motion, location time.Duration, origin telemetry.Location, logger *slog.Logger) *Simulated {
	if motion <= 0 {
		motion = 200 * time.Millisecond
	}
	if location <= 0 {
		location = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulated{
		Clock:            clk,
		MotionInterval:   motion,
		LocationInterval: location,
		Origin:           origin,
		Logger:           logger.With("component", "sensors"),
		rng:              rand.New(rand.NewPCG(uint64(clk.Now().UnixNano()), 0x5eed)),
		lat:              origin.Latitude,
		lon:              origin.Longitude,
	}
}

// Run emits one reading of each kind immediately, then on every interval.
func (s *Simulated) Run(ctx context.Context, sink Sink) error {
	s.Logger.Info("simulated sensors started",
		"motion_interval", s.MotionInterval,
		"location_interval", s.LocationInterval,
	)

	s.emitMotion(sink)
	s.emitLocation(sink)

	motion := s.Clock.TickFunc(s.MotionInterval, func() { s.emitMotion(sink) })
	defer motion.Stop()
	location := s.Clock.TickFunc(s.LocationInterval, func() { s.emitLocation(sink) })
	defer location.Stop()

	<-ctx.Done()
	s.Logger.Info("simulated sensors stopped")
	return nil
}

func (s *Simulated) emitMotion(sink Sink) {
	s.mu.Lock()
	accel := telemetry.Vec3{
		X: s.noise(0.05),
		Y: s.noise(0.05),
		Z: standardGravity + s.noise(0.05),
	}
	gyro := telemetry.Vec3{
		X: s.noise(0.01),
		Y: s.noise(0.01),
		Z: s.noise(0.01),
	}
	s.mu.Unlock()

	sink.OnMotionSample(accel, gyro)
}

func (s *Simulated) emitLocation(sink Sink) {
	s.mu.Lock()
	// About a metre of drift per reading, clamped to valid coordinates.
	s.lat = clamp(s.lat+s.noise(0.00001), -90, 90)
	s.lon = clamp(s.lon+s.noise(0.00001), -180, 180)
	lat, lon := s.lat, s.lon
	s.mu.Unlock()

	sink.OnLocationSample(lat, lon)
}

// noise returns a value uniformly distributed in [-amp, amp). Caller holds mu.
func (s *Simulated) noise(amp float64) float64 {
	return (s.rng.Float64()*2 - 1) * amp
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
