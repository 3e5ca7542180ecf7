// ABOUTME: Tests for the typed accessors shared by every Store implementation
// ABOUTME: Covers defaults for absent, malformed, and unreadable values

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedAccessors_Defaults(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	assert.True(t, GetBool(ctx, s, KeyAlertActive, true))
	assert.Equal(t, 0.25, GetFloat(ctx, s, KeyPanicProgress, 0.25))
	assert.Equal(t, int64(3000), GetInt(ctx, s, KeyHoldDurationMS, 3000))
	assert.Equal(t, "x", GetString(ctx, s, KeySessionToken, "x"))
}

func TestTypedAccessors_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	require.NoError(t, SetBool(ctx, s, KeyAlertActive, true))
	require.NoError(t, SetFloat(ctx, s, KeyPanicProgress, 0.375))
	require.NoError(t, SetInt(ctx, s, KeyHoldDurationMS, 4500))

	assert.True(t, GetBool(ctx, s, KeyAlertActive, false))
	assert.Equal(t, 0.375, GetFloat(ctx, s, KeyPanicProgress, 0))
	assert.Equal(t, int64(4500), GetInt(ctx, s, KeyHoldDurationMS, 0))
}

func TestTypedAccessors_MalformedFallsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	tests := []struct {
		name string
		key  string
		raw  string
		read func() any
		want any
	}{
		{"bool", KeyAlertActive, "maybe", func() any { return GetBool(ctx, s, KeyAlertActive, false) }, false},
		{"float", KeyPanicProgress, "half", func() any { return GetFloat(ctx, s, KeyPanicProgress, 0) }, 0.0},
		{"int", KeyHoldDurationMS, "3s", func() any { return GetInt(ctx, s, KeyHoldDurationMS, 3000) }, int64(3000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, tt.key, tt.raw))
			assert.Equal(t, tt.want, tt.read())
		})
	}
}

func TestTypedAccessors_ReadErrorFallsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()
	require.NoError(t, SetBool(ctx, s, KeyAlertActive, true))

	s.GetErr = errors.New("disk on fire")
	assert.False(t, GetBool(ctx, s, KeyAlertActive, false))
}

func TestGetJSON(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	type item struct {
		Name string `json:"name"`
	}

	var out []item
	assert.False(t, GetJSON(ctx, s, KeyCustomContacts, &out), "absent key")

	require.NoError(t, SetJSON(ctx, s, KeyCustomContacts, []item{{Name: "Ana"}}))
	require.True(t, GetJSON(ctx, s, KeyCustomContacts, &out))
	assert.Equal(t, []item{{Name: "Ana"}}, out)

	require.NoError(t, s.Set(ctx, KeyCustomContacts, "[{not json"))
	out = nil
	assert.False(t, GetJSON(ctx, s, KeyCustomContacts, &out))
	assert.Nil(t, out)
}
