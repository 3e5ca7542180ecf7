// ABOUTME: Panic trigger state variant and its two-field persisted encoding
// ABOUTME: Decoding repairs a triggered flag paired with partial progress

package trigger

import (
	"context"

	"github.com/2389/carekeeper/internal/store"
)

// Phase is the trigger's lifecycle stage.
type Phase int

const (
	Idle Phase = iota
	Holding
	Triggered
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Holding:
		return "holding"
	case Triggered:
		return "triggered"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is the trigger's current phase and hold progress in [0, 1].
// Triggered always carries progress 1.
type State struct {
	Phase    Phase   `json:"phase"`
	Progress float64 `json:"progress"`
}

// decode builds a State from the persisted pair. A triggered flag wins over
// whatever progress was stored. Progress outside [0, 1) without the flag is
// treated as malformed and reset to 0.
func decode(triggered bool, progress float64) State {
	if triggered {
		return State{Phase: Triggered, Progress: 1}
	}
	if progress < 0 || progress >= 1 {
		return State{Phase: Idle}
	}
	return State{Phase: Idle, Progress: progress}
}

// loadState reads the persisted pair through the typed accessors.
func loadState(ctx context.Context, s store.Store) (State, bool) {
	triggered := store.GetBool(ctx, s, store.KeyPanicTriggered, false)
	progress := store.GetFloat(ctx, s, store.KeyPanicProgress, 0)
	st := decode(triggered, progress)
	repaired := triggered && progress != 1
	return st, repaired
}

// encode returns the key/value pairs that persist st together with the
// alert flag in one atomic write.
func encode(st State) map[string]string {
	triggered := st.Phase == Triggered
	return map[string]string{
		store.KeyPanicTriggered: store.FormatBool(triggered),
		store.KeyPanicProgress:  store.FormatFloat(st.Progress),
		store.KeyAlertActive:    store.FormatBool(triggered),
	}
}
