// ABOUTME: Login and logout against the backend, updating the guard's token
// ABOUTME: Hooks let the orchestrator start and stop background work with the session

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/carekeeper/internal/backend"
)

var (
	ErrEmptyToken         = errors.New("backend returned an empty token")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Backend is the subset of the backend client used for authentication.
type Backend interface {
	Login(ctx context.Context, email, password string) (string, error)
	Logout(ctx context.Context) error
}

// Hook runs after a session starts or ends.
type Hook func(ctx context.Context)

// Authenticator performs login and logout.
type Authenticator struct {
	backend Backend
	guard   *Guard
	logger  *slog.Logger

	mu       sync.Mutex
	onLogin  []Hook
	onLogout []Hook
}

// NewAuthenticator creates an authenticator that stores tokens in guard.
func NewAuthenticator(b Backend, guard *Guard, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		backend: b,
		guard:   guard,
		logger:  logger.With("component", "auth"),
	}
}

// OnLogin registers a hook run after a successful login.
func (a *Authenticator) OnLogin(h Hook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLogin = append(a.onLogin, h)
}

// OnLogout registers a hook run after a successful logout.
func (a *Authenticator) OnLogout(h Hook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLogout = append(a.onLogout, h)
}

// Login exchanges credentials for a token and saves it.
func (a *Authenticator) Login(ctx context.Context, email, password string) error {
	token, err := a.backend.Login(ctx, email, password)
	if err != nil {
		var se *backend.StatusError
		if errors.As(err, &se) {
			a.logger.Warn("login refused", "status", se.StatusCode)
			return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return fmt.Errorf("login: %w", err)
	}
	if token == "" {
		return ErrEmptyToken
	}

	if err := a.guard.SaveToken(ctx, token); err != nil {
		return err
	}
	a.logger.Info("logged in")
	a.run(ctx, a.hooks(true))
	return nil
}

// Logout ends the session on the backend. Local state is cleared only when
// the backend acknowledges.
func (a *Authenticator) Logout(ctx context.Context) error {
	if err := a.backend.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if err := a.guard.Clear(ctx); err != nil {
		return err
	}
	a.logger.Info("logged out")
	a.run(ctx, a.hooks(false))
	return nil
}

func (a *Authenticator) hooks(login bool) []Hook {
	a.mu.Lock()
	defer a.mu.Unlock()
	if login {
		return append([]Hook(nil), a.onLogin...)
	}
	return append([]Hook(nil), a.onLogout...)
}

func (a *Authenticator) run(ctx context.Context, hooks []Hook) {
	for _, h := range hooks {
		h(ctx)
	}
}
