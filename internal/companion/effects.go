// ABOUTME: Alarm effects for a headless companion, reported through the logger
// ABOUTME: Stands in for the progress ring, siren, and vibration of a phone UI

package companion

import (
	"log/slog"
	"math"
	"sync"
)

// logEffects logs hold progress in quarter steps and the alarm itself.
type logEffects struct {
	logger *slog.Logger

	mu      sync.Mutex
	quarter int
}

func newLogEffects(logger *slog.Logger) *logEffects {
	return &logEffects{logger: logger.With("component", "alarm")}
}

func (e *logEffects) OnHoldProgress(progress float64) {
	q := int(math.Floor(progress * 4))

	e.mu.Lock()
	changed := q != e.quarter
	e.quarter = q
	e.mu.Unlock()

	if changed && q > 0 {
		e.logger.Info("holding panic button", "progress", float64(q)/4)
	}
}

func (e *logEffects) OnTriggered() {
	e.logger.Warn("ALARM: panic alert active, siren and vibration on")
}

func (e *logEffects) OnReset() {
	e.mu.Lock()
	e.quarter = 0
	e.mu.Unlock()
	e.logger.Info("alarm off")
}
