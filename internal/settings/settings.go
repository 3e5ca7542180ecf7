// ABOUTME: User settings persisted in the state store (contact limit, hold duration, theme)
// ABOUTME: Reads substitute defaults for missing or malformed values; writes are validated

package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/carekeeper/internal/store"
)

// Defaults applied when nothing valid is persisted.
const (
	DefaultMaxCustomContacts = 3
	DefaultHoldDuration      = 3000 * time.Millisecond
	MinHoldDuration          = time.Second
)

var (
	// ErrInvalidSetting is returned when a value is outside its allowed range.
	ErrInvalidSetting = errors.New("invalid setting")
	// ErrBelowContactCount is returned when the contact limit would drop
	// below the number of contacts already saved.
	ErrBelowContactCount = errors.New("limit is below the number of saved contacts")
)

// Settings is the user-adjustable configuration read by the panic trigger
// and the contacts list.
type Settings struct {
	MaxCustomContacts int           `json:"max_custom_contacts"`
	HoldDuration      time.Duration `json:"-"`
	HoldDurationMS    int64         `json:"hold_duration_ms"`
	DarkTheme         bool          `json:"dark_theme"`
}

// Service reads and writes settings and contacts through the state store.
type Service struct {
	store store.Store
}

// NewService creates a settings service backed by s.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Load returns the current settings with defaults for anything missing.
func (s *Service) Load(ctx context.Context) Settings {
	maxContacts := int(store.GetInt(ctx, s.store, store.KeyMaxCustomContacts, DefaultMaxCustomContacts))
	if maxContacts < 1 {
		maxContacts = DefaultMaxCustomContacts
	}

	return Settings{
		MaxCustomContacts: maxContacts,
		HoldDuration:      s.HoldDuration(ctx),
		HoldDurationMS:    s.HoldDuration(ctx).Milliseconds(),
		DarkTheme:         store.GetBool(ctx, s.store, store.KeyDarkTheme, false),
	}
}

// HoldDuration returns the persisted hold-to-confirm duration.
func (s *Service) HoldDuration(ctx context.Context) time.Duration {
	ms := store.GetInt(ctx, s.store, store.KeyHoldDurationMS, DefaultHoldDuration.Milliseconds())
	d := time.Duration(ms) * time.Millisecond
	if d < MinHoldDuration {
		return DefaultHoldDuration
	}
	return d
}

// SetHoldDuration persists d, which must be at least one second.
func (s *Service) SetHoldDuration(ctx context.Context, d time.Duration) error {
	if d < MinHoldDuration {
		return fmt.Errorf("%w: hold duration must be at least %s", ErrInvalidSetting, MinHoldDuration)
	}
	return store.SetInt(ctx, s.store, store.KeyHoldDurationMS, d.Milliseconds())
}

// SetMaxCustomContacts persists the contact limit. It must be at least one
// and not smaller than the current number of contacts.
func (s *Service) SetMaxCustomContacts(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("%w: contact limit must be at least 1", ErrInvalidSetting)
	}
	if count := len(s.Contacts(ctx)); n < count {
		return fmt.Errorf("%w: %d saved, limit %d", ErrBelowContactCount, count, n)
	}
	return store.SetInt(ctx, s.store, store.KeyMaxCustomContacts, int64(n))
}

// SetDarkTheme persists the theme preference.
func (s *Service) SetDarkTheme(ctx context.Context, on bool) error {
	return store.SetBool(ctx, s.store, store.KeyDarkTheme, on)
}

// Update applies every non-nil field of u, validating each before any write.
func (s *Service) Update(ctx context.Context, u Update) (Settings, error) {
	if u.HoldDurationMS != nil && time.Duration(*u.HoldDurationMS)*time.Millisecond < MinHoldDuration {
		return Settings{}, fmt.Errorf("%w: hold duration must be at least %s", ErrInvalidSetting, MinHoldDuration)
	}
	if u.MaxCustomContacts != nil {
		if err := s.SetMaxCustomContacts(ctx, *u.MaxCustomContacts); err != nil {
			return Settings{}, err
		}
	}
	if u.HoldDurationMS != nil {
		if err := s.SetHoldDuration(ctx, time.Duration(*u.HoldDurationMS)*time.Millisecond); err != nil {
			return Settings{}, err
		}
	}
	if u.DarkTheme != nil {
		if err := s.SetDarkTheme(ctx, *u.DarkTheme); err != nil {
			return Settings{}, err
		}
	}
	return s.Load(ctx), nil
}

// Update is a partial settings change; nil fields are left alone.
type Update struct {
	MaxCustomContacts *int   `json:"max_custom_contacts,omitempty"`
	HoldDurationMS    *int64 `json:"hold_duration_ms,omitempty"`
	DarkTheme         *bool  `json:"dark_theme,omitempty"`
}
