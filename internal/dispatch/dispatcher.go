// ABOUTME: Sends the panic alert once per alert ID, gated by session and location permission
// ABOUTME: Falls back to the last stored location when no fresh fix is available

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/carekeeper/internal/backend"
	"github.com/2389/carekeeper/internal/dedupe"
	"github.com/2389/carekeeper/internal/metrics"
	"github.com/2389/carekeeper/internal/store"
	"github.com/2389/carekeeper/internal/telemetry"
)

var (
	// ErrSessionInvalid means no alert was sent because there is no usable session.
	ErrSessionInvalid = errors.New("no valid session")
	// ErrPermissionDenied means location permission is missing. The user has
	// been asked and the alert is pending until the grant arrives.
	ErrPermissionDenied = errors.New("location permission denied")
)

// Session reports whether network calls may be made.
type Session interface {
	IsValid(ctx context.Context) bool
}

// Permissions is the platform's location permission state.
type Permissions interface {
	LocationGranted() bool
	RequestLocation()
}

// Locator resolves a fresh location fix.
type Locator interface {
	CurrentLocation(ctx context.Context) (telemetry.Location, error)
}

// Sender posts the alert.
type Sender interface {
	TriggerPanic(ctx context.Context, a backend.PanicAlert) error
}

// Dispatcher delivers panic alerts.
type Dispatcher struct {
	session Session
	perms   Permissions
	locator Locator
	sender  Sender
	store   store.Store
	sent    *dedupe.Cache
	metrics *metrics.Recorder
	logger  *slog.Logger

	mu      sync.Mutex
	pending string
}

// New creates a dispatcher. sent tracks which alert IDs have gone out.
func New(sess Session, perms Permissions, loc Locator, sender Sender, s store.Store, sent *dedupe.Cache, rec *metrics.Recorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		session: sess,
		perms:   perms,
		locator: loc,
		sender:  sender,
		store:   s,
		sent:    sent,
		metrics: rec,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Dispatch sends the alert for alertID at most once. Failures are logged
// and returned; nothing is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, alertID string) error {
	logger := d.logger.With("alert_id", alertID)

	if !d.session.IsValid(ctx) {
		logger.Warn("no valid session, alert not sent")
		d.metrics.Alert(ctx, metrics.AlertSkipped)
		return ErrSessionInvalid
	}

	if !d.perms.LocationGranted() {
		d.setPending(alertID)
		d.perms.RequestLocation()
		logger.Warn("location permission denied, alert pending until granted")
		d.metrics.Alert(ctx, metrics.AlertDeferred)
		return ErrPermissionDenied
	}

	if d.sent.CheckAndMark(alertID) {
		logger.Debug("alert already dispatched")
		return nil
	}
	d.clearPending(alertID)

	loc := d.resolveLocation(ctx, logger)
	err := d.sender.TriggerPanic(ctx, backend.PanicAlert{
		Message:   backend.PanicMessage,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
	})
	if err != nil {
		logger.Error("sending alert failed", "error", err)
		d.metrics.Alert(ctx, metrics.AlertFailed)
		return fmt.Errorf("sending alert: %w", err)
	}

	logger.Info("alert sent", "latitude", loc.Latitude, "longitude", loc.Longitude)
	d.metrics.Alert(ctx, metrics.AlertSent)
	return nil
}

// PermissionGranted sends the alert left pending by a denied permission,
// provided the alert is still active. It returns nil when nothing is pending.
func (d *Dispatcher) PermissionGranted(ctx context.Context) error {
	d.mu.Lock()
	alertID := d.pending
	d.pending = ""
	d.mu.Unlock()

	if alertID == "" {
		return nil
	}
	if !store.GetBool(ctx, d.store, store.KeyAlertActive, false) {
		d.logger.Info("pending alert no longer active, dropping", "alert_id", alertID)
		return nil
	}
	return d.Dispatch(ctx, alertID)
}

// Pending returns the alert ID waiting for permission, if any.
func (d *Dispatcher) Pending() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending, d.pending != ""
}

// Forget drops the alert waiting for permission without sending it.
func (d *Dispatcher) Forget() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != "" {
		d.logger.Info("dropping pending alert", "alert_id", d.pending)
		d.pending = ""
	}
}

func (d *Dispatcher) setPending(alertID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = alertID
}

func (d *Dispatcher) clearPending(alertID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == alertID {
		d.pending = ""
	}
}

// resolveLocation prefers a fresh fix and falls back to the stored one.
// Whatever is used is written back as the last known location.
func (d *Dispatcher) resolveLocation(ctx context.Context, logger *slog.Logger) telemetry.Location {
	loc, err := d.locator.CurrentLocation(ctx)
	if err != nil {
		logger.Warn("no fresh location fix, using last known", "error", err)
		loc = telemetry.Location{
			Latitude:  store.GetFloat(ctx, d.store, store.KeyLastLatitude, 0),
			Longitude: store.GetFloat(ctx, d.store, store.KeyLastLongitude, 0),
		}
	}

	if err := d.store.SetMany(ctx, map[string]string{
		store.KeyLastLatitude:  store.FormatFloat(loc.Latitude),
		store.KeyLastLongitude: store.FormatFloat(loc.Longitude),
	}); err != nil {
		logger.Warn("persisting last location failed", "error", err)
	}
	return loc
}
