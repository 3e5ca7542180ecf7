// ABOUTME: Tests for decoding the persisted trigger pair
// ABOUTME: Checks the triggered-implies-full-progress repair and malformed progress handling

package trigger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		triggered bool
		progress  float64
		want      State
	}{
		{"fresh", false, 0, State{Phase: Idle}},
		{"partial", false, 0.25, State{Phase: Idle, Progress: 0.25}},
		{"triggered", true, 1, State{Phase: Triggered, Progress: 1}},
		{"triggered with stale progress", true, 0.3, State{Phase: Triggered, Progress: 1}},
		{"negative progress", false, -0.2, State{Phase: Idle}},
		{"full progress without flag", false, 1, State{Phase: Idle}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decode(tt.triggered, tt.progress))
		})
	}
}

func TestEncode(t *testing.T) {
	assert.Equal(t, map[string]string{
		"panic.triggered": "true",
		"panic.progress":  "1",
		"alert.active":    "true",
	}, encode(State{Phase: Triggered, Progress: 1}))

	assert.Equal(t, map[string]string{
		"panic.triggered": "false",
		"panic.progress":  "0",
		"alert.active":    "false",
	}, encode(State{Phase: Idle}))
}

func TestState_JSON(t *testing.T) {
	data, err := json.Marshal(State{Phase: Holding, Progress: 0.5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"holding","progress":0.5}`, string(data))
}
