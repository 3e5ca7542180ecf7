// ABOUTME: Tests for the control API routes
// ABOUTME: Drives the router with httptest against fakes and an in-memory store

package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/carekeeper/internal/backend"
	"github.com/2389/carekeeper/internal/clock"
	"github.com/2389/carekeeper/internal/sensors"
	"github.com/2389/carekeeper/internal/session"
	"github.com/2389/carekeeper/internal/settings"
	"github.com/2389/carekeeper/internal/store"
	"github.com/2389/carekeeper/internal/telemetry"
	"github.com/2389/carekeeper/internal/trigger"
)

type fakeTrigger struct {
	state    trigger.State
	holds    int
	releases int
	resets   int
	resetErr error
}

func (f *fakeTrigger) State() trigger.State { return f.state }

func (f *fakeTrigger) StartHold(context.Context) trigger.State {
	f.holds++
	f.state = trigger.State{Phase: trigger.Holding, Progress: 0.1}
	return f.state
}

func (f *fakeTrigger) CancelHold(context.Context) trigger.State {
	f.releases++
	f.state = trigger.State{Phase: trigger.Idle}
	return f.state
}

func (f *fakeTrigger) Reset(context.Context) (trigger.State, error) {
	f.resets++
	if f.resetErr != nil {
		return f.state, f.resetErr
	}
	f.state = trigger.State{Phase: trigger.Idle}
	return f.state, nil
}

func (f *fakeTrigger) ConfirmSafe(ctx context.Context) (trigger.State, error) {
	return f.Reset(ctx)
}

type fakeAuth struct {
	loginErr  error
	logoutErr error
	email     string
	logouts   int
}

func (f *fakeAuth) Login(_ context.Context, email, _ string) error {
	f.email = email
	return f.loginErr
}

func (f *fakeAuth) Logout(context.Context) error {
	f.logouts++
	return f.logoutErr
}

type fakeSession bool

func (f fakeSession) IsValid(context.Context) bool { return bool(f) }

type fakeUploader bool

func (f fakeUploader) Running() bool { return bool(f) }

type fakePending struct {
	id      string
	granted int
	err     error
}

func (f *fakePending) Pending() (string, bool) { return f.id, f.id != "" }

func (f *fakePending) PermissionGranted(context.Context) error {
	f.granted++
	f.id = ""
	return f.err
}

type fakeAccount struct {
	resets int
	err    error
}

func (f *fakeAccount) ResetAccount(context.Context) error {
	f.resets++
	return f.err
}

type harness struct {
	trigger *fakeTrigger
	auth    *fakeAuth
	sampler *telemetry.Sampler
	perms   *sensors.Permissions
	pending *fakePending
	account *fakeAccount
	store   *store.MockStore
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		trigger: &fakeTrigger{},
		auth:    &fakeAuth{},
		sampler: telemetry.NewSampler(clock.NewFake(time.Unix(1700000000, 0))),
		perms:   sensors.NewPermissions(false, nil),
		pending: &fakePending{},
		account: &fakeAccount{},
		store:   store.NewMockStore(),
	}
	srv := NewServer(Deps{
		Trigger:     h.trigger,
		Auth:        h.auth,
		Session:     fakeSession(true),
		Uploader:    fakeUploader(true),
		Sensors:     h.sampler,
		Permissions: h.perms,
		Pending:     h.pending,
		Account:     h.account,
		Settings:    settings.NewService(h.store),
		Store:       h.store,
	}, nil)
	h.handler = srv.Handler()
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/panic/hold", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 0, h.trigger.holds)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, store.SetBool(context.Background(), h.store, store.KeyAlertActive, true))
	h.trigger.state = trigger.State{Phase: trigger.Triggered, Progress: 1}
	h.pending.id = "alert-1"

	rec := h.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, map[string]any{"phase": "triggered", "progress": 1.0}, got["trigger"])
	assert.Equal(t, true, got["alert_active"])
	assert.Equal(t, true, got["session_valid"])
	assert.Equal(t, true, got["uploading"])
	assert.Equal(t, false, got["location_granted"])
	assert.Equal(t, true, got["permission_requested"])
	assert.Equal(t, "alert-1", got["pending_alert_id"])
}

func TestPanicRoutes(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/panic/hold", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, trigger.Holding, decodeBody[statePayload](t, rec).phase(t))

	rec = h.do(t, http.MethodPost, "/panic/release", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, trigger.Idle, decodeBody[statePayload](t, rec).phase(t))

	rec = h.do(t, http.MethodPost, "/panic/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/accident/safe", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, h.trigger.holds)
	assert.Equal(t, 1, h.trigger.releases)
	assert.Equal(t, 2, h.trigger.resets)
}

func TestHold_PendingPermission(t *testing.T) {
	h := newHarness(t)
	h.trigger.state = trigger.State{Phase: trigger.Triggered, Progress: 1}
	h.pending.id = "alert-1"

	rec := h.do(t, http.MethodPost, "/panic/hold", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["permission_requested"])
}

func TestReset_StoreFailure(t *testing.T) {
	h := newHarness(t)
	h.trigger.resetErr = errors.New("disk full")

	rec := h.do(t, http.MethodPost, "/panic/reset", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "reset failed", decodeBody[map[string]string](t, rec)["error"])
}

type statePayload struct {
	Phase    string  `json:"phase"`
	Progress float64 `json:"progress"`
}

func (p statePayload) phase(t *testing.T) trigger.Phase {
	t.Helper()
	for _, ph := range []trigger.Phase{trigger.Idle, trigger.Holding, trigger.Triggered} {
		if ph.String() == p.Phase {
			return ph
		}
	}
	t.Fatalf("unknown phase %q", p.Phase)
	return trigger.Idle
}

func TestSensors(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/sensors/motion", map[string]any{
		"accelerometer": map[string]float64{"x": 0.1, "y": 0.2, "z": 9.8},
		"gyroscope":     map[string]float64{"x": 0, "y": 0.01, "z": 0},
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodPost, "/sensors/location", map[string]float64{"latitude": -23.5, "longitude": -46.6})
	require.Equal(t, http.StatusNoContent, rec.Code)

	snap := h.sampler.Snapshot()
	assert.Equal(t, telemetry.Vec3{X: 0.1, Y: 0.2, Z: 9.8}, snap.Accelerometer)
	assert.Equal(t, 0.01, snap.Gyroscope.Y)
	assert.Equal(t, -23.5, snap.Latitude)
	assert.Equal(t, -46.6, snap.Longitude)
}

func TestSensors_BadInput(t *testing.T) {
	tests := []struct {
		name string
		path string
		body any
	}{
		{"motion missing gyro", "/sensors/motion", map[string]any{"accelerometer": map[string]float64{"x": 1}}},
		{"motion bad json", "/sensors/motion", "{"},
		{"location missing longitude", "/sensors/location", map[string]float64{"latitude": 1}},
		{"location out of range", "/sensors/location", map[string]float64{"latitude": 91, "longitude": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rec := h.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestLocationPermission_GrantReleasesPending(t *testing.T) {
	h := newHarness(t)
	h.pending.id = "alert-1"

	rec := h.do(t, http.MethodPost, "/permissions/location", map[string]bool{"granted": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"granted": true}, decodeBody[map[string]bool](t, rec))
	assert.Equal(t, 1, h.pending.granted)

	// Already granted: no second release
	rec = h.do(t, http.MethodPost, "/permissions/location", map[string]bool{"granted": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.pending.granted)
}

func TestLocationPermission_Revoke(t *testing.T) {
	h := newHarness(t)
	h.perms.SetLocationGranted(true)

	rec := h.do(t, http.MethodPost, "/permissions/location", map[string]bool{"granted": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, h.perms.LocationGranted())
	assert.Equal(t, 0, h.pending.granted)
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		loginErr error
		want     int
	}{
		{"ok", LoginRequest{Email: "a@b.c", Password: "pw"}, nil, http.StatusNoContent},
		{"missing password", LoginRequest{Email: "a@b.c"}, nil, http.StatusBadRequest},
		{"bad credentials", LoginRequest{Email: "a@b.c", Password: "pw"}, session.ErrInvalidCredentials, http.StatusUnauthorized},
		{"backend down", LoginRequest{Email: "a@b.c", Password: "pw"}, errors.New("dial tcp: refused"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.auth.loginErr = tt.loginErr
			rec := h.do(t, http.MethodPost, "/session/login", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/session/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	h.auth.logoutErr = &backend.StatusError{Op: "logout", StatusCode: http.StatusInternalServerError}
	rec = h.do(t, http.MethodPost, "/session/logout", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 2, h.auth.logouts)
}

func TestAccountReset(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/account/reset", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	h.account.err = assert.AnError
	rec = h.do(t, http.MethodPost, "/account/reset", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "account reset failed")
	assert.Equal(t, 2, h.account.resets)

	rec = h.do(t, http.MethodGet, "/account/reset", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSettings(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[settings.Settings](t, rec)
	assert.Equal(t, settings.DefaultMaxCustomContacts, got.MaxCustomContacts)
	assert.Equal(t, int64(3000), got.HoldDurationMS)

	rec = h.do(t, http.MethodPut, "/settings", map[string]any{"hold_duration_ms": 5000, "dark_theme": true})
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeBody[settings.Settings](t, rec)
	assert.Equal(t, int64(5000), got.HoldDurationMS)
	assert.True(t, got.DarkTheme)

	rec = h.do(t, http.MethodPut, "/settings", map[string]any{"max_custom_contacts": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContacts(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/contacts", settings.Contact{Name: "Maria", Phone: "(11) 98765-4321"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[ContactResponse](t, rec)
	assert.Equal(t, 0, created.Index)
	assert.Equal(t, "11987654321", created.Phone)
	assert.Equal(t, "(11) 98765-4321", created.DisplayPhone)

	rec = h.do(t, http.MethodPut, "/contacts/0", settings.Contact{Name: "Maria Silva", Phone: "11987654321"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Maria Silva", decodeBody[ContactResponse](t, rec).Name)

	rec = h.do(t, http.MethodGet, "/contacts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ContactResponse](t, rec), 1)

	rec = h.do(t, http.MethodPost, "/contacts", settings.Contact{Name: "X", Phone: "123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodDelete, "/contacts/5", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodDelete, "/contacts/0", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, "/contacts", nil)
	assert.Empty(t, decodeBody[[]ContactResponse](t, rec))
}

func TestContacts_Limit(t *testing.T) {
	h := newHarness(t)
	for i := range settings.DefaultMaxCustomContacts {
		rec := h.do(t, http.MethodPost, "/contacts", settings.Contact{Name: "C", Phone: "1198765432" + string(rune('0'+i))})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := h.do(t, http.MethodPost, "/contacts", settings.Contact{Name: "D", Phone: "11987654329"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPut, "/settings", map[string]any{"max_custom_contacts": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
}
