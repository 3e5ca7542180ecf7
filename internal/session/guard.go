// ABOUTME: Session guard deciding whether network activity may run
// ABOUTME: Decodes the stored JWT without verification and fails closed on any doubt

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/carekeeper/internal/clock"
	"github.com/2389/carekeeper/internal/store"
)

// Token is a decoded session credential.
type Token struct {
	Raw       string
	ExpiresAt time.Time
}

// Token decode errors. They never leave this package; IsValid reports false instead.
var (
	errMalformed = errors.New("malformed token")
	errNoExpiry  = errors.New("token has no exp claim")
)

// Guard owns the session token and answers whether it is usable.
type Guard struct {
	store  store.Store
	clock  clock.Clock
	logger *slog.Logger
	parser *jwt.Parser

	mu       sync.Mutex
	rejected string // raw token the backend refused, if any
}

// NewGuard creates a guard reading the token from s.
func NewGuard(s store.Store, clk clock.Clock, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		store:  s,
		clock:  clk,
		logger: logger.With("component", "session"),
		parser: jwt.NewParser(),
	}
}

// SaveToken persists raw as the current session token.
func (g *Guard) SaveToken(ctx context.Context, raw string) error {
	if err := g.store.Set(ctx, store.KeySessionToken, raw); err != nil {
		return fmt.Errorf("saving session token: %w", err)
	}
	g.mu.Lock()
	g.rejected = ""
	g.mu.Unlock()
	return nil
}

// CurrentToken returns the stored token if one exists and decodes with an expiry.
func (g *Guard) CurrentToken(ctx context.Context) (Token, bool) {
	raw := store.GetString(ctx, g.store, store.KeySessionToken, "")
	if raw == "" {
		return Token{}, false
	}
	tok, err := g.decode(raw)
	if err != nil {
		g.logger.Debug("stored token unusable", "error", err)
		return Token{}, false
	}
	return tok, true
}

// IsValid reports whether a token exists, decodes, carries exp, has not
// expired and has not been rejected by the backend.
func (g *Guard) IsValid(ctx context.Context) bool {
	tok, ok := g.CurrentToken(ctx)
	if !ok {
		return false
	}
	if !g.clock.Now().Before(tok.ExpiresAt) {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rejected != tok.Raw
}

// BearerToken returns the raw stored token for the Authorization header.
func (g *Guard) BearerToken(ctx context.Context) (string, bool) {
	raw := store.GetString(ctx, g.store, store.KeySessionToken, "")
	return raw, raw != ""
}

// Reject marks raw as refused by the backend. IsValid stays false until a
// different token is saved.
func (g *Guard) Reject(raw string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejected = raw
	g.logger.Warn("session token rejected by backend, treating session as invalid")
}

// Clear removes the token and every other session-scoped key in one unit.
func (g *Guard) Clear(ctx context.Context) error {
	if err := g.store.Remove(ctx, store.SessionKeys...); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	g.mu.Lock()
	g.rejected = ""
	g.mu.Unlock()
	return nil
}

// Wipe deletes every stored key, settings and contacts included, and forgets
// any rejected token.
func (g *Guard) Wipe(ctx context.Context) error {
	if err := g.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clearing account data: %w", err)
	}
	g.mu.Lock()
	g.rejected = ""
	g.mu.Unlock()
	g.logger.Warn("all local account data cleared")
	return nil
}

func (g *Guard) decode(raw string) (Token, error) {
	parsed, _, err := g.parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if exp == nil {
		return Token{}, errNoExpiry
	}
	return Token{Raw: raw, ExpiresAt: exp.Time}, nil
}
