// ABOUTME: Location fix and permission collaborators used by the alert dispatcher
// ABOUTME: SamplerLocator reads the latest pushed fix; Permissions tracks the grant state

package sensors

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/2389/carekeeper/internal/telemetry"
)

// ErrNoFix is returned when no location has been received yet.
var ErrNoFix = errors.New("no location fix available")

// LocationSource is what SamplerLocator reads from.
type LocationSource interface {
	Location() telemetry.Location
}

// SamplerLocator returns the most recent location held by the sampler.
type SamplerLocator struct {
	Source LocationSource
}

// CurrentLocation returns the last fix, or ErrNoFix while still at the origin.
func (l SamplerLocator) CurrentLocation(ctx context.Context) (telemetry.Location, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.Location{}, err
	}
	loc := l.Source.Location()
	if loc.Latitude == 0 && loc.Longitude == 0 {
		return telemetry.Location{}, ErrNoFix
	}
	return loc, nil
}

// Permissions is the location permission state of the host platform.
// Without a platform, the grant is toggled through the control API.
type Permissions struct {
	logger *slog.Logger

	mu       sync.Mutex
	granted  bool
	requests int
}

// NewPermissions creates a permission state with the initial grant.
func NewPermissions(granted bool, logger *slog.Logger) *Permissions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Permissions{
		logger:  logger.With("component", "permissions"),
		granted: granted,
	}
}

func (p *Permissions) LocationGranted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted
}

// RequestLocation records that the user should be asked for the permission.
func (p *Permissions) RequestLocation() {
	p.mu.Lock()
	p.requests++
	p.mu.Unlock()
	p.logger.Warn("location permission required to send alert")
}

// SetLocationGranted updates the grant and reports whether it changed
// from denied to granted.
func (p *Permissions) SetLocationGranted(granted bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	became := granted && !p.granted
	p.granted = granted
	return became
}

// Requests returns how many times the permission was requested.
func (p *Permissions) Requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}
