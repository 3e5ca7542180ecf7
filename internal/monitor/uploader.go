// ABOUTME: Periodic telemetry uploader gated by the session
// ABOUTME: Each tick snapshots the sampler and posts one reading without blocking the timer

package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/2389/carekeeper/internal/backend"
	"github.com/2389/carekeeper/internal/clock"
	"github.com/2389/carekeeper/internal/metrics"
	"github.com/2389/carekeeper/internal/store"
	"github.com/2389/carekeeper/internal/telemetry"
)

// Defaults for Config fields left at zero.
const (
	DefaultInterval    = time.Second
	DefaultMaxInFlight = 1
	DefaultSendTimeout = 10 * time.Second
)

// Session is the part of the session guard the uploader consults.
type Session interface {
	IsValid(ctx context.Context) bool
	BearerToken(ctx context.Context) (string, bool)
	Reject(raw string)
}

// Sender posts readings to the backend.
type Sender interface {
	SendReading(ctx context.Context, r backend.Reading, alertActive bool) error
}

// Sampler supplies the reading for each tick.
type Sampler interface {
	Snapshot() telemetry.Snapshot
}

// Config controls the upload cadence and failure policy.
type Config struct {
	Interval    time.Duration
	MaxInFlight int
	SendTimeout time.Duration
	// InvalidateOnUnauthorized makes a 401 reject the current token so
	// later ticks skip until a new login.
	InvalidateOnUnauthorized bool
}

// Uploader sends one reading per interval while running.
type Uploader struct {
	cfg     Config
	clock   clock.Clock
	store   store.Store
	session Session
	sampler Sampler
	sender  Sender
	metrics *metrics.Recorder
	logger  *slog.Logger

	inFlight *semaphore.Weighted
	sends    sync.WaitGroup

	mu     sync.Mutex
	ticker clock.Timer // nil when stopped
}

// New creates a stopped uploader.
func New(cfg Config, clk clock.Clock, s store.Store, sess Session, sampler Sampler, sender Sender, rec *metrics.Recorder, logger *slog.Logger) *Uploader {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		cfg:      cfg,
		clock:    clk,
		store:    s,
		session:  sess,
		sampler:  sampler,
		sender:   sender,
		metrics:  rec,
		logger:   logger.With("component", "uploader"),
		inFlight: semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}
}

// Start begins ticking. Calling Start while running does nothing.
func (u *Uploader) Start() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.ticker != nil {
		return
	}
	u.ticker = u.clock.TickFunc(u.cfg.Interval, u.tick)
	u.logger.Info("uploader started", "interval", u.cfg.Interval)
}

// Stop cancels future ticks. Sends already in flight complete on their own.
// Calling Stop while stopped does nothing.
func (u *Uploader) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.ticker == nil {
		return
	}
	u.ticker.Stop()
	u.ticker = nil
	u.logger.Info("uploader stopped")
}

// Running reports whether ticks are scheduled.
func (u *Uploader) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ticker != nil
}

// Wait blocks until every in-flight send has finished or ctx is done.
func (u *Uploader) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		u.sends.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *Uploader) tick() {
	ctx := context.Background()

	if !u.session.IsValid(ctx) {
		u.metrics.Upload(ctx, metrics.UploadSkipped)
		return
	}

	snap := u.sampler.Snapshot()
	active := store.GetBool(ctx, u.store, store.KeyAlertActive, false)

	if !u.inFlight.TryAcquire(1) {
		u.logger.Debug("previous upload still in flight, dropping tick")
		u.metrics.Upload(ctx, metrics.UploadDropped)
		return
	}

	token, _ := u.session.BearerToken(ctx)
	u.sends.Add(1)
	go func() {
		defer u.sends.Done()
		defer u.inFlight.Release(1)
		u.send(snap, active, token)
	}()
}

func (u *Uploader) send(snap telemetry.Snapshot, active bool, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), u.cfg.SendTimeout)
	defer cancel()

	err := u.sender.SendReading(ctx, ReadingFromSnapshot(snap), active)
	switch {
	case err == nil:
		u.metrics.Upload(ctx, metrics.UploadSent)
	case errors.Is(err, backend.ErrUnauthorized):
		u.metrics.Upload(ctx, metrics.UploadRejected)
		u.logger.Warn("upload unauthorized", "error", err)
		if u.cfg.InvalidateOnUnauthorized && token != "" {
			u.session.Reject(token)
		}
	default:
		u.metrics.Upload(ctx, metrics.UploadFailed)
		u.logger.Warn("upload failed", "error", err)
	}
}

// ReadingFromSnapshot converts a snapshot into the wire reading.
func ReadingFromSnapshot(s telemetry.Snapshot) backend.Reading {
	return backend.Reading{
		AccelerometerX: s.Accelerometer.X,
		AccelerometerY: s.Accelerometer.Y,
		AccelerometerZ: s.Accelerometer.Z,
		GyroscopeX:     s.Gyroscope.X,
		GyroscopeY:     s.Gyroscope.Y,
		GyroscopeZ:     s.Gyroscope.Z,
		Latitude:       s.Latitude,
		Longitude:      s.Longitude,
		Timestamp:      s.CapturedAt.UnixMilli(),
	}
}
