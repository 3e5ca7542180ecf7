// ABOUTME: Hold-to-confirm panic trigger with persisted progress and exactly-once dispatch
// ABOUTME: A generation counter discards timer callbacks that belong to a cancelled hold

package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/carekeeper/internal/clock"
	"github.com/2389/carekeeper/internal/metrics"
	"github.com/2389/carekeeper/internal/store"
)

// Defaults for Config fields left at zero.
const (
	DefaultProgressStep    = 50 * time.Millisecond
	DefaultDispatchTimeout = 30 * time.Second
)

// Dispatcher sends the alert for a completed hold.
type Dispatcher interface {
	Dispatch(ctx context.Context, alertID string) error
}

// HoldDurations supplies the configured hold length at the start of each hold.
type HoldDurations interface {
	HoldDuration(ctx context.Context) time.Duration
}

// Effects is the presentation layer: progress ring, alarm sound, vibration.
// Methods are called without the machine's lock held.
type Effects interface {
	OnHoldProgress(progress float64)
	OnTriggered()
	OnReset()
}

// NopEffects ignores every event.
type NopEffects struct{}

func (NopEffects) OnHoldProgress(float64) {}
func (NopEffects) OnTriggered()           {}
func (NopEffects) OnReset()               {}

// Config tunes the machine's timing.
type Config struct {
	ProgressStep    time.Duration
	DispatchTimeout time.Duration
}

// Machine is the panic trigger.
type Machine struct {
	cfg        Config
	clock      clock.Clock
	store      store.Store
	holds      HoldDurations
	dispatcher Dispatcher
	effects    Effects
	metrics    *metrics.Recorder
	logger     *slog.Logger
	newID      func() string

	dispatches sync.WaitGroup

	mu            sync.Mutex
	state         State
	gen           uint64
	hold          time.Duration
	holdStart     time.Time
	startProgress float64
	completion    clock.Timer
	ticker        clock.Timer
}

// Option configures a Machine.
type Option func(*Machine)

// WithEffects installs the presentation hooks.
func WithEffects(e Effects) Option {
	return func(m *Machine) { m.effects = e }
}

// WithMetrics records hold and alert counters.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Machine) { m.metrics = r }
}

// WithAlertIDs replaces the alert ID generator.
func WithAlertIDs(f func() string) Option {
	return func(m *Machine) { m.newID = f }
}

// New creates a machine in Idle. Call Restore before use to pick up
// persisted state.
func New(cfg Config, clk clock.Clock, s store.Store, holds HoldDurations, d Dispatcher, logger *slog.Logger, opts ...Option) *Machine {
	if cfg.ProgressStep <= 0 {
		cfg.ProgressStep = DefaultProgressStep
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		cfg:        cfg,
		clock:      clk,
		store:      s,
		holds:      holds,
		dispatcher: d,
		effects:    NopEffects{},
		logger:     logger.With("component", "trigger"),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Restore loads the persisted state. A persisted trigger comes back as
// Triggered and restarts the alarm effects without sending again. Partial
// progress is kept so the next hold resumes from it. When the store no
// longer holds an alert the machine was showing, the alarm is switched off.
func (m *Machine) Restore(ctx context.Context) State {
	m.mu.Lock()
	prev := m.state.Phase
	m.gen++
	m.stopTimersLocked()

	st, repaired := loadState(ctx, m.store)
	m.state = st
	if repaired {
		m.logger.Warn("persisted trigger had partial progress, repairing")
		if err := m.store.SetMany(ctx, encode(st)); err != nil {
			m.logger.Error("repairing trigger state failed", "error", err)
		}
	}
	m.mu.Unlock()

	m.logger.Info("trigger state restored", "phase", st.Phase, "progress", st.Progress)
	switch {
	case st.Phase == Triggered:
		m.effects.OnTriggered()
	case prev == Triggered:
		m.logger.Info("alert cleared from store, alarm off")
		m.effects.OnReset()
	case prev == Holding:
		m.effects.OnHoldProgress(st.Progress)
	}
	return st
}

// StartHold begins the countdown. The remaining time is the hold duration
// scaled by the progress not yet made. It does nothing unless Idle.
func (m *Machine) StartHold(ctx context.Context) State {
	m.mu.Lock()
	if m.state.Phase != Idle {
		st := m.state
		m.mu.Unlock()
		return st
	}

	hold := m.holds.HoldDuration(ctx)
	start, _ := loadState(ctx, m.store)
	if start.Phase == Triggered {
		// Another writer already holds an active alert.
		m.state = start
		m.mu.Unlock()
		return start
	}
	p := start.Progress
	remaining := time.Duration(float64(hold) * (1 - p))

	m.gen++
	gen := m.gen
	m.hold = hold
	m.holdStart = m.clock.Now()
	m.startProgress = p
	m.state = State{Phase: Holding, Progress: p}
	m.completion = m.clock.AfterFunc(remaining, func() { m.complete(gen) })
	m.ticker = m.clock.TickFunc(m.cfg.ProgressStep, func() { m.advance(gen) })
	st := m.state
	m.mu.Unlock()

	m.logger.Info("hold started", "hold", hold, "resume_from", p, "remaining", remaining)
	return st
}

// CancelHold abandons an active hold and persists progress 0.
// It does nothing unless Holding.
func (m *Machine) CancelHold(ctx context.Context) State {
	m.mu.Lock()
	if m.state.Phase != Holding {
		st := m.state
		m.mu.Unlock()
		return st
	}

	m.gen++
	m.stopTimersLocked()
	reached := m.state.Progress
	m.state = State{Phase: Idle}
	if err := store.SetFloat(ctx, m.store, store.KeyPanicProgress, 0); err != nil {
		m.logger.Error("persisting cancelled hold failed", "error", err)
	}
	st := m.state
	m.mu.Unlock()

	m.logger.Info("hold cancelled", "progress", reached)
	m.metrics.HoldCancelled(ctx, reached)
	m.effects.OnHoldProgress(0)
	return st
}

// Reset clears an active alert. Both persisted fields and the alert flag
// change in one write, so no reader sees a mixed pair.
func (m *Machine) Reset(ctx context.Context) (State, error) {
	m.mu.Lock()
	wasTriggered := m.state.Phase == Triggered
	m.gen++
	m.stopTimersLocked()
	m.state = State{Phase: Idle}
	err := m.store.SetMany(ctx, encode(m.state))
	st := m.state
	m.mu.Unlock()

	if err != nil {
		return st, fmt.Errorf("persisting reset: %w", err)
	}
	if wasTriggered {
		m.logger.Info("alert reset")
		m.effects.OnReset()
	}
	return st, nil
}

// ConfirmSafe is the "I'm safe" answer to an accident prompt.
func (m *Machine) ConfirmSafe(ctx context.Context) (State, error) {
	return m.Reset(ctx)
}

// Wait blocks until every dispatch started by this machine has returned
// or ctx is done.
func (m *Machine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.dispatches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) advance(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state.Phase != Holding {
		m.mu.Unlock()
		return
	}

	elapsed := m.clock.Now().Sub(m.holdStart)
	p := m.startProgress + float64(elapsed)/float64(m.hold)
	if p >= 1 {
		// Completion owns the final value.
		m.mu.Unlock()
		return
	}
	if p <= m.state.Progress {
		m.mu.Unlock()
		return
	}
	m.state.Progress = p
	if err := store.SetFloat(context.Background(), m.store, store.KeyPanicProgress, p); err != nil {
		m.logger.Warn("persisting hold progress failed", "error", err)
	}
	m.mu.Unlock()

	m.effects.OnHoldProgress(p)
}

func (m *Machine) complete(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state.Phase != Holding {
		m.mu.Unlock()
		return
	}

	m.stopTimersLocked()
	m.state = State{Phase: Triggered, Progress: 1}
	if err := m.store.SetMany(context.Background(), encode(m.state)); err != nil {
		m.logger.Error("persisting trigger failed", "error", err)
	}
	alertID := m.newID()
	m.dispatches.Add(1)
	m.mu.Unlock()

	m.logger.Warn("panic triggered", "alert_id", alertID)
	m.metrics.Alert(context.Background(), metrics.AlertTriggered)
	m.effects.OnHoldProgress(1)
	m.effects.OnTriggered()

	go func() {
		defer m.dispatches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DispatchTimeout)
		defer cancel()
		if err := m.dispatcher.Dispatch(ctx, alertID); err != nil {
			m.logger.Warn("alert dispatch did not complete", "alert_id", alertID, "error", err)
		}
	}()
}

func (m *Machine) stopTimersLocked() {
	if m.completion != nil {
		m.completion.Stop()
		m.completion = nil
	}
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
}
