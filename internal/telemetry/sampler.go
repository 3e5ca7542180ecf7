// ABOUTME: Latest-value holder for motion and location readings
// ABOUTME: Each sensor group is swapped atomically so readers never see a torn vector

package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/2389/carekeeper/internal/clock"
)

// Vec3 is a three-axis sensor reading.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Location is a latitude/longitude pair in degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Snapshot is a point-in-time copy of every sensor group.
// CapturedAt is when the snapshot was taken, not when each value arrived.
type Snapshot struct {
	Accelerometer Vec3
	Gyroscope     Vec3
	Latitude      float64
	Longitude     float64
	CapturedAt    time.Time
}

// Sampler keeps the most recent reading of each sensor group.
// All methods are safe for concurrent use and never block.
type Sampler struct {
	clock    clock.Clock
	accel    atomic.Pointer[Vec3]
	gyro     atomic.Pointer[Vec3]
	location atomic.Pointer[Location]
}

// NewSampler creates a sampler with every group at zero.
func NewSampler(clk clock.Clock) *Sampler {
	s := &Sampler{clock: clk}
	s.accel.Store(&Vec3{})
	s.gyro.Store(&Vec3{})
	s.location.Store(&Location{})
	return s
}

// OnMotionSample replaces both motion vectors.
func (s *Sampler) OnMotionSample(accel, gyro Vec3) {
	s.accel.Store(&accel)
	s.gyro.Store(&gyro)
}

func (s *Sampler) OnAccelerometer(v Vec3) { s.accel.Store(&v) }

func (s *Sampler) OnGyroscope(v Vec3) { s.gyro.Store(&v) }

// OnLocationSample replaces the location.
func (s *Sampler) OnLocationSample(lat, lon float64) {
	s.location.Store(&Location{Latitude: lat, Longitude: lon})
}

// Location returns the last location pushed by a sensor.
func (s *Sampler) Location() Location {
	return *s.location.Load()
}

// Snapshot copies every group and stamps the current time.
func (s *Sampler) Snapshot() Snapshot {
	loc := s.location.Load()
	return Snapshot{
		Accelerometer: *s.accel.Load(),
		Gyroscope:     *s.gyro.Load(),
		Latitude:      loc.Latitude,
		Longitude:     loc.Longitude,
		CapturedAt:    s.clock.Now(),
	}
}
