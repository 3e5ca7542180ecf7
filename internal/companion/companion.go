// ABOUTME: Companion wires every component together and owns their lifetimes
// ABOUTME: Run restores state, serves the control API, runs sensors, and shuts down gracefully

package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/carekeeper/internal/backend"
	"github.com/2389/carekeeper/internal/clock"
	"github.com/2389/carekeeper/internal/config"
	"github.com/2389/carekeeper/internal/control"
	"github.com/2389/carekeeper/internal/dedupe"
	"github.com/2389/carekeeper/internal/dispatch"
	"github.com/2389/carekeeper/internal/metrics"
	"github.com/2389/carekeeper/internal/monitor"
	"github.com/2389/carekeeper/internal/sensors"
	"github.com/2389/carekeeper/internal/session"
	"github.com/2389/carekeeper/internal/settings"
	"github.com/2389/carekeeper/internal/store"
	"github.com/2389/carekeeper/internal/telemetry"
	"github.com/2389/carekeeper/internal/trigger"
)

const serviceName = "carekeeper"

// Companion is the running application.
type Companion struct {
	config *config.Config
	logger *slog.Logger
	clock  clock.Clock

	store      store.Store
	settings   *settings.Service
	guard      *session.Guard
	auth       *session.Authenticator
	sampler    *telemetry.Sampler
	source     sensors.Source
	perms      *sensors.Permissions
	sent       *dedupe.Cache
	dispatcher *dispatch.Dispatcher
	trigger    *trigger.Machine
	uploader   *monitor.Uploader
	providers  *metrics.Providers
	control    *control.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener

	shutdownOnce sync.Once
	shutdownErr  error
}

type options struct {
	clock   clock.Clock
	store   store.Store
	source  sensors.Source
	doer    backend.Doer
	effects trigger.Effects
}

// Option replaces a default collaborator.
type Option func(*options)

// WithClock sets the clock driving every timer.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithStore uses s instead of opening the configured database.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithSource uses src instead of the configured sensor source.
func WithSource(src sensors.Source) Option {
	return func(o *options) { o.source = src }
}

// WithDoer sends backend requests through d.
func WithDoer(d backend.Doer) Option {
	return func(o *options) { o.doer = d }
}

// WithEffects replaces the logging alarm effects.
func WithEffects(e trigger.Effects) Option {
	return func(o *options) { o.effects = e }
}

// New builds a companion from cfg. The returned companion owns the store;
// release it with Run or Shutdown.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Companion, error) {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	s := o.store
	if s == nil {
		sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		s = sqlStore
	}

	c := &Companion{
		config:   cfg,
		logger:   logger.With("component", "companion"),
		clock:    o.clock,
		store:    s,
		settings: settings.NewService(s),
	}

	if err := c.seedSettings(context.Background()); err != nil {
		s.Close()
		return nil, err
	}

	rec, err := c.initMetrics(context.Background())
	if err != nil {
		s.Close()
		return nil, err
	}

	c.guard = session.NewGuard(s, c.clock, logger)

	doer := o.doer
	if doer == nil {
		doer = backend.NewHTTPClient(cfg.Backend.Timeout)
	}
	client := backend.NewClient(cfg.Backend.URL, backend.WithDoer(doer), backend.WithTokenSource(c.guard))

	c.sampler = telemetry.NewSampler(c.clock)
	c.perms = sensors.NewPermissions(!cfg.Sensors.DenyLocation, logger)
	c.source = o.source
	if c.source == nil {
		c.source = newSource(cfg.Sensors, c.clock, logger)
	}

	// Alert IDs are unique per trigger; a day comfortably outlives any retry window.
	c.sent = dedupe.NewWithClock(c.clock, 24*time.Hour, 1000)
	c.dispatcher = dispatch.New(c.guard, c.perms, sensors.SamplerLocator{Source: c.sampler}, client, s, c.sent, rec, logger)

	effects := o.effects
	if effects == nil {
		effects = newLogEffects(logger)
	}
	c.trigger = trigger.New(trigger.Config{
		ProgressStep:    cfg.Panic.ProgressStep,
		DispatchTimeout: cfg.Panic.DispatchTimeout,
	}, c.clock, s, c.settings, c.dispatcher, logger, trigger.WithEffects(effects), trigger.WithMetrics(rec))

	c.uploader = monitor.New(monitor.Config{
		Interval:                 cfg.Monitor.UploadInterval,
		MaxInFlight:              cfg.Monitor.MaxInFlight,
		SendTimeout:              cfg.Monitor.SendTimeout,
		InvalidateOnUnauthorized: cfg.Monitor.InvalidateOnUnauthorized,
	}, c.clock, s, c.guard, c.sampler, client, rec, logger)

	c.auth = session.NewAuthenticator(client, c.guard, logger)
	c.auth.OnLogin(func(context.Context) { c.uploader.Start() })
	c.auth.OnLogout(func(ctx context.Context) {
		c.uploader.Stop()
		c.dispatcher.Forget()
		// Session keys, trigger state included, are gone; reload so memory matches.
		c.trigger.Restore(ctx)
	})

	c.control = control.NewServer(control.Deps{
		Trigger:     c.trigger,
		Auth:        c.auth,
		Session:     c.guard,
		Uploader:    c.uploader,
		Sensors:     c.sampler,
		Permissions: c.perms,
		Pending:     c.dispatcher,
		Account:     c,
		Settings:    c.settings,
		Store:       s,
	}, logger)

	c.httpServer = &http.Server{
		Addr:              cfg.Control.Addr,
		Handler:           c.control.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return c, nil
}

func newSource(cfg config.SensorsConfig, clk clock.Clock, logger *slog.Logger) sensors.Source {
	if cfg.Source == config.SourcePassive {
		return sensors.Passive{}
	}
	origin := telemetry.Location{Latitude: cfg.OriginLatitude, Longitude: cfg.OriginLongitude}
	return sensors.NewSimulated(clk, cfg.MotionInterval, cfg.LocationInterval, origin, logger)
}

// seedSettings copies the configured hold duration into the store the
// first time the companion runs. Later changes come from the user.
func (c *Companion) seedSettings(ctx context.Context) error {
	_, err := c.store.Get(ctx, store.KeyHoldDurationMS)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		if err := c.settings.SetHoldDuration(ctx, c.config.Panic.HoldDuration); err != nil {
			return fmt.Errorf("seeding hold duration: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("reading hold duration: %w", err)
	}
}

func (c *Companion) initMetrics(ctx context.Context) (*metrics.Recorder, error) {
	if !c.config.Metrics.Enabled {
		return nil, nil
	}

	providers, err := metrics.NewProviders(ctx, c.config.Metrics.Endpoint, serviceName, c.config.Metrics.Interval)
	if err != nil {
		return nil, fmt.Errorf("creating metrics providers: %w", err)
	}
	providers.SetGlobal()
	c.providers = providers

	rec, err := metrics.NewRecorder(providers.MeterProvider)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, fmt.Errorf("creating metrics recorder: %w", err)
	}
	c.logger.Info("metrics export enabled", "endpoint", c.config.Metrics.Endpoint)
	return rec, nil
}

// ResetAccount erases every stored key on this device without contacting the
// backend. Uploads stop, any pending alert is dropped, an active alarm is
// switched off and the configured hold duration is seeded again.
func (c *Companion) ResetAccount(ctx context.Context) error {
	c.uploader.Stop()
	if err := c.uploader.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for uploads: %w", err)
	}
	c.dispatcher.Forget()

	if err := c.guard.Wipe(ctx); err != nil {
		return err
	}
	c.trigger.Restore(ctx)

	if err := c.seedSettings(ctx); err != nil {
		return err
	}
	c.logger.Warn("account reset, login required")
	return nil
}

// Handler returns the control API handler.
func (c *Companion) Handler() http.Handler {
	return c.control.Handler()
}

// Addr returns the control API listen address, or nil before Run listens.
func (c *Companion) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Run restores persisted state and serves until ctx is cancelled, then shuts
// everything down.
func (c *Companion) Run(ctx context.Context) error {
	st := c.trigger.Restore(ctx)
	if st.Phase == trigger.Triggered {
		c.logger.Warn("resuming with an active panic alert")
	}

	if c.guard.IsValid(ctx) {
		c.uploader.Start()
	} else {
		c.logger.Info("no valid session, uploads start after login")
	}

	ln, err := net.Listen("tcp", c.config.Control.Addr)
	if err != nil {
		return errors.Join(fmt.Errorf("listening on %s: %w", c.config.Control.Addr, err), c.gracefulShutdown())
	}
	c.mu.Lock()
	c.listener = ln
	c.mu.Unlock()
	c.logger.Info("control API listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := c.source.Run(gctx, c.sampler); err != nil {
			return fmt.Errorf("sensor source: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return c.gracefulShutdown()
	})

	return g.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already cancelled at this point.
func (c *Companion) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the control API and uploads, waits for in-flight sends and
// alerts, and closes the store. Only the first call does anything.
func (c *Companion) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.logger.Info("shutting down companion")

		var errs []error
		errs = appendCloseError(errs, "control shutdown", c.httpServer.Shutdown(ctx))

		c.uploader.Stop()
		errs = appendCloseError(errs, "waiting for uploads", c.uploader.Wait(ctx))
		errs = appendCloseError(errs, "waiting for alerts", c.trigger.Wait(ctx))
		c.sent.Close()

		if c.providers != nil {
			errs = appendCloseError(errs, "metrics shutdown", c.providers.Shutdown(ctx))
		}
		errs = appendCloseError(errs, "store close", c.store.Close())

		if len(errs) > 0 {
			c.shutdownErr = fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
		}
	})
	return c.shutdownErr
}
