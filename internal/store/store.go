// ABOUTME: Store interface, persisted key names, and typed accessors for companion state
// ABOUTME: Typed getters substitute defaults for absent or malformed values instead of failing

package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
)

// ErrNotFound is returned when a requested key does not exist
var ErrNotFound = errors.New("not found")

// Persisted keys. Each key has exactly one owning component that writes it.
const (
	KeyAlertActive       = "alert.active"    // trigger
	KeyPanicProgress     = "panic.progress"  // trigger
	KeyPanicTriggered    = "panic.triggered" // trigger
	KeyLastLatitude      = "location.latitude"
	KeyLastLongitude     = "location.longitude"
	KeyMaxCustomContacts = "settings.max_custom_contacts"
	KeyHoldDurationMS    = "settings.hold_duration_ms"
	KeyDarkTheme         = "settings.dark_theme"
	KeySessionToken      = "session.token"
	KeyCustomContacts    = "contacts.custom"
)

// SessionKeys are the keys that belong to a signed-in account and are
// dropped together on logout. User settings and contacts survive.
var SessionKeys = []string{
	KeySessionToken,
	KeyAlertActive,
	KeyPanicProgress,
	KeyPanicTriggered,
	KeyLastLatitude,
	KeyLastLongitude,
}

// Store is durable key-value persistence. A successful write is visible to
// every subsequent read from any goroutine.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error

	// SetMany writes all values in one atomic unit.
	SetMany(ctx context.Context, values map[string]string) error

	// Remove deletes the given keys in one atomic unit. Missing keys are ignored.
	Remove(ctx context.Context, keys ...string) error

	// ClearAll deletes every key in one atomic unit.
	ClearAll(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// GetString returns the stored value for key, or def when absent or unreadable.
func GetString(ctx context.Context, s Store, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		logReadError(key, err)
		return def
	}
	return v
}

// GetBool returns the stored bool for key, or def when absent or malformed.
func GetBool(ctx context.Context, s Store, key string, def bool) bool {
	v, err := s.Get(ctx, key)
	if err != nil {
		logReadError(key, err)
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logMalformed(key, v)
		return def
	}
	return b
}

// GetFloat returns the stored float for key, or def when absent or malformed.
func GetFloat(ctx context.Context, s Store, key string, def float64) float64 {
	v, err := s.Get(ctx, key)
	if err != nil {
		logReadError(key, err)
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logMalformed(key, v)
		return def
	}
	return f
}

// GetInt returns the stored integer for key, or def when absent or malformed.
func GetInt(ctx context.Context, s Store, key string, def int64) int64 {
	v, err := s.Get(ctx, key)
	if err != nil {
		logReadError(key, err)
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logMalformed(key, v)
		return def
	}
	return n
}

// GetJSON decodes the JSON blob stored under key into v.
// It reports false, leaving v untouched, when the key is absent or the blob
// does not parse.
func GetJSON(ctx context.Context, s Store, key string, v any) bool {
	raw, err := s.Get(ctx, key)
	if err != nil {
		logReadError(key, err)
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		logMalformed(key, raw)
		return false
	}
	return true
}

func SetBool(ctx context.Context, s Store, key string, v bool) error {
	return s.Set(ctx, key, FormatBool(v))
}

func SetFloat(ctx context.Context, s Store, key string, v float64) error {
	return s.Set(ctx, key, FormatFloat(v))
}

func SetInt(ctx context.Context, s Store, key string, v int64) error {
	return s.Set(ctx, key, strconv.FormatInt(v, 10))
}

// SetJSON encodes v as JSON and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(data))
}

// FormatBool and FormatFloat give the canonical encodings used with SetMany.
func FormatBool(v bool) string { return strconv.FormatBool(v) }

func FormatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func logReadError(key string, err error) {
	if errors.Is(err, ErrNotFound) {
		return
	}
	slog.Default().Warn("reading persisted value failed, using default", "component", "store", "key", key, "error", err)
}

func logMalformed(key, raw string) {
	slog.Default().Warn("malformed persisted value, using default", "component", "store", "key", key, "value", raw)
}
