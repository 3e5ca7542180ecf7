// ABOUTME: Custom emergency contacts stored as a JSON array under one store key
// ABOUTME: Validates names and phone numbers and enforces the configured contact limit

package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/2389/carekeeper/internal/store"
)

const maxNameLength = 50

// DefaultIcon is used for contacts saved without a picture.
const DefaultIcon = "contact_default"

var (
	ErrInvalidContact = errors.New("invalid contact")
	ErrContactLimit   = errors.New("contact limit reached")
	ErrNoSuchContact  = errors.New("no contact at that position")
)

// Contact is one user-defined emergency contact.
type Contact struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	ImageRef string `json:"image_ref,omitempty"`
	IconRef  string `json:"icon_ref"`
}

// Contacts returns the saved contacts. A missing or unreadable list is empty.
func (s *Service) Contacts(ctx context.Context) []Contact {
	var contacts []Contact
	if !store.GetJSON(ctx, s.store, store.KeyCustomContacts, &contacts) {
		return []Contact{}
	}
	return contacts
}

// AddContact validates c and appends it, respecting MaxCustomContacts.
func (s *Service) AddContact(ctx context.Context, c Contact) (Contact, error) {
	c, err := normalize(c)
	if err != nil {
		return Contact{}, err
	}

	contacts := s.Contacts(ctx)
	if limit := s.Load(ctx).MaxCustomContacts; len(contacts) >= limit {
		return Contact{}, fmt.Errorf("%w: %d of %d", ErrContactLimit, len(contacts), limit)
	}

	contacts = append(contacts, c)
	if err := store.SetJSON(ctx, s.store, store.KeyCustomContacts, contacts); err != nil {
		return Contact{}, fmt.Errorf("saving contacts: %w", err)
	}
	return c, nil
}

// UpdateContact replaces the contact at index.
func (s *Service) UpdateContact(ctx context.Context, index int, c Contact) (Contact, error) {
	c, err := normalize(c)
	if err != nil {
		return Contact{}, err
	}

	contacts := s.Contacts(ctx)
	if index < 0 || index >= len(contacts) {
		return Contact{}, fmt.Errorf("%w: %d", ErrNoSuchContact, index)
	}
	contacts[index] = c

	if err := store.SetJSON(ctx, s.store, store.KeyCustomContacts, contacts); err != nil {
		return Contact{}, fmt.Errorf("saving contacts: %w", err)
	}
	return c, nil
}

// RemoveContact deletes the contact at index.
func (s *Service) RemoveContact(ctx context.Context, index int) error {
	contacts := s.Contacts(ctx)
	if index < 0 || index >= len(contacts) {
		return fmt.Errorf("%w: %d", ErrNoSuchContact, index)
	}
	contacts = append(contacts[:index], contacts[index+1:]...)

	if err := store.SetJSON(ctx, s.store, store.KeyCustomContacts, contacts); err != nil {
		return fmt.Errorf("saving contacts: %w", err)
	}
	return nil
}

func normalize(c Contact) (Contact, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return Contact{}, fmt.Errorf("%w: name is required", ErrInvalidContact)
	}
	if utf8.RuneCountInString(c.Name) > maxNameLength {
		return Contact{}, fmt.Errorf("%w: name longer than %d characters", ErrInvalidContact, maxNameLength)
	}

	c.Phone = DigitsOnly(c.Phone)
	if n := len(c.Phone); n < 10 || n > 11 {
		return Contact{}, fmt.Errorf("%w: phone must have 10 or 11 digits", ErrInvalidContact)
	}

	if c.IconRef == "" {
		c.IconRef = DefaultIcon
	}
	return c, nil
}

// DigitsOnly strips everything but ASCII digits.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < utf8.RuneSelf && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatPhone renders a 10 or 11 digit number as (AA) NNNN-NNNN or
// (AA) NNNNN-NNNN. Anything else is returned unchanged.
func FormatPhone(phone string) string {
	d := DigitsOnly(phone)
	switch len(d) {
	case 10:
		return fmt.Sprintf("(%s) %s-%s", d[:2], d[2:6], d[6:])
	case 11:
		return fmt.Sprintf("(%s) %s-%s", d[:2], d[2:7], d[7:])
	default:
		return phone
	}
}
