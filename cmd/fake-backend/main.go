// ABOUTME: Minimal fake monitoring backend for local development and E2E testing
// ABOUTME: Usage: fake-backend [-addr localhost:8080] [-secret dev-secret] [-user email:password]

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/2389/carekeeper/internal/backend/backendtest"
)

type userFlags map[string]string

func (u userFlags) String() string {
	names := make([]string, 0, len(u))
	for email := range u {
		names = append(names, email)
	}
	return strings.Join(names, ",")
}

func (u userFlags) Set(v string) error {
	email, password, ok := strings.Cut(v, ":")
	if !ok || email == "" || password == "" {
		return fmt.Errorf("expected email:password, got %q", v)
	}
	u[email] = password
	return nil
}

func main() {
	addr := flag.String("addr", "localhost:8080", "HTTP listen address")
	secret := flag.String("secret", "dev-secret", "HS256 signing secret")
	ttl := flag.Duration("ttl", time.Hour, "Issued token lifetime")
	users := userFlags{}
	flag.Var(users, "user", "Allowed email:password (repeatable; default accepts anyone)")
	flag.Parse()

	if err := run(*addr, *secret, *ttl, users); err != nil {
		log.Fatal(err)
	}
}

func run(addr, secret string, ttl time.Duration, users userFlags) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	opts := []backendtest.Option{backendtest.WithTokenTTL(ttl), backendtest.WithLogger(logger)}
	if len(users) > 0 {
		opts = append(opts, backendtest.WithUsers(users))
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           backendtest.NewServer([]byte(secret), opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake backend listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
