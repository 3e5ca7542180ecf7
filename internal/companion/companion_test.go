// ABOUTME: End-to-end tests for the assembled companion against the fake backend
// ABOUTME: Drives login, uploads, a full panic hold, permission deferral, and the Run lifecycle

package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/carekeeper/internal/backend/backendtest"
	"github.com/2389/carekeeper/internal/clock"
	"github.com/2389/carekeeper/internal/config"
	"github.com/2389/carekeeper/internal/sensors"
	"github.com/2389/carekeeper/internal/store"
	"github.com/2389/carekeeper/internal/trigger"
)

type recordingEffects struct {
	mu        sync.Mutex
	triggered int
	resets    int
}

func (r *recordingEffects) OnHoldProgress(float64) {}

func (r *recordingEffects) OnTriggered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggered++
}

func (r *recordingEffects) OnReset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
}

func (r *recordingEffects) counts() (triggered, resets int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggered, r.resets
}

type harness struct {
	backend *backendtest.Server
	clock   *clock.Fake
	store   *store.MockStore
	effects *recordingEffects
	c       *Companion
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()

	h := &harness{
		backend: backendtest.NewServer([]byte("test-secret"), backendtest.WithLogger(testLogger())),
		clock:   clock.NewFake(time.Unix(1700000000, 0)),
		store:   store.NewMockStore(),
		effects: &recordingEffects{},
	}
	ts := httptest.NewServer(h.backend)
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Backend.URL = ts.URL
	cfg.Control.Addr = "127.0.0.1:0"
	cfg.Sensors.Source = config.SourcePassive
	if mutate != nil {
		mutate(cfg)
	}

	c, err := New(cfg, testLogger(),
		WithClock(h.clock),
		WithStore(h.store),
		WithSource(sensors.Passive{}),
		WithDoer(ts.Client()),
		WithEffects(h.effects),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	h.c = c
	return h
}

func (h *harness) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, &buf))
	return rec
}

func (h *harness) status(t *testing.T) map[string]any {
	t.Helper()
	rec := httptest.NewRecorder()
	h.c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	return got
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	rec := h.post(t, "/session/login", map[string]string{"email": "ana@example.com", "password": "pw"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func TestNew_SeedsHoldDuration(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Panic.HoldDuration = 4 * time.Second })
	v, err := h.store.Get(context.Background(), store.KeyHoldDurationMS)
	require.NoError(t, err)
	assert.Equal(t, "4000", v)
}

func TestNew_KeepsUserHoldDuration(t *testing.T) {
	s := store.NewMockStore()
	require.NoError(t, s.Set(context.Background(), store.KeyHoldDurationMS, "6000"))

	cfg := config.Default()
	c, err := New(cfg, testLogger(), WithStore(s), WithSource(sensors.Passive{}), WithClock(clock.NewFake(time.Unix(0, 0))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	v, err := s.Get(context.Background(), store.KeyHoldDurationMS)
	require.NoError(t, err)
	assert.Equal(t, "6000", v)
}

func TestLoginStartsUploads(t *testing.T) {
	h := newHarness(t, nil)

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, false, h.status(t)["uploading"])

	h.login(t)
	assert.Equal(t, true, h.status(t)["uploading"])

	rec := h.post(t, "/sensors/location", map[string]float64{"latitude": -23.5, "longitude": -46.6})
	require.Equal(t, http.StatusNoContent, rec.Code)

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return len(h.backend.Readings()) == 1 }, 2*time.Second, 10*time.Millisecond)

	r := h.backend.Readings()[0]
	assert.False(t, r.Active)
	assert.Equal(t, -23.5, r.Latitude)
	assert.Equal(t, time.Unix(1700000006, 0).UnixMilli(), r.Timestamp)
}

func TestPanicHoldSendsOneAlert(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)
	h.post(t, "/sensors/location", map[string]float64{"latitude": -22.9, "longitude": -43.2})

	rec := h.post(t, "/panic/hold", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h.clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return len(h.backend.Alerts()) == 1 }, 2*time.Second, 10*time.Millisecond)

	alert := h.backend.Alerts()[0]
	assert.Equal(t, -22.9, alert.Latitude)
	assert.Equal(t, -43.2, alert.Longitude)

	st := h.status(t)
	assert.Equal(t, "triggered", st["trigger"].(map[string]any)["phase"])
	assert.Equal(t, true, st["alert_active"])

	// Later uploads carry the active flag
	require.NoError(t, h.c.uploader.Wait(context.Background()))
	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		for _, r := range h.backend.Readings() {
			if r.Active {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	rec = h.post(t, "/panic/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, h.status(t)["alert_active"])
	assert.Len(t, h.backend.Alerts(), 1)
}

func TestPanicWithoutSessionSendsNothing(t *testing.T) {
	h := newHarness(t, nil)

	h.post(t, "/panic/hold", nil)
	h.clock.Advance(3 * time.Second)
	require.NoError(t, h.c.trigger.Wait(context.Background()))

	assert.Empty(t, h.backend.Alerts())
	assert.Equal(t, true, h.status(t)["alert_active"])
}

func TestPermissionDeferral(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Sensors.DenyLocation = true })
	h.login(t)
	h.post(t, "/sensors/location", map[string]float64{"latitude": 1.5, "longitude": 2.5})

	h.post(t, "/panic/hold", nil)
	h.clock.Advance(3 * time.Second)
	require.NoError(t, h.c.trigger.Wait(context.Background()))
	assert.Empty(t, h.backend.Alerts())

	rec := h.post(t, "/panic/hold", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, h.status(t)["permission_requested"])

	rec = h.post(t, "/permissions/location", map[string]bool{"granted": true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.backend.Alerts(), 1)
	assert.Equal(t, 1.5, h.backend.Alerts()[0].Latitude)
}

func TestLogoutStopsUploadsAndClearsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	rec := h.post(t, "/session/logout", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, h.backend.Logouts())

	st := h.status(t)
	assert.Equal(t, false, st["uploading"])
	assert.Equal(t, false, st["session_valid"])

	_, err := h.store.Get(context.Background(), store.KeySessionToken)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.store.Get(context.Background(), store.KeyHoldDurationMS)
	assert.NoError(t, err, "settings survive logout")
}

func (h *harness) triggerAlert(t *testing.T) {
	t.Helper()
	require.Equal(t, http.StatusOK, h.post(t, "/panic/hold", nil).Code)
	h.clock.Advance(h.c.settings.HoldDuration(context.Background()))
	require.NoError(t, h.c.trigger.Wait(context.Background()))
	require.Equal(t, trigger.Triggered, h.c.trigger.State().Phase)
}

func TestLogoutDuringAlertSwitchesAlarmOff(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)
	h.triggerAlert(t)

	rec := h.post(t, "/session/logout", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	st := h.status(t)
	assert.Equal(t, "idle", st["trigger"].(map[string]any)["phase"])
	assert.Equal(t, false, st["alert_active"])

	triggered, resets := h.effects.counts()
	assert.Equal(t, 1, triggered)
	assert.Equal(t, 1, resets, "alarm effects follow the cleared alert")
}

func TestResetAccountErasesEverything(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Panic.HoldDuration = 4 * time.Second })
	ctx := context.Background()
	h.login(t)
	require.Equal(t, http.StatusCreated, h.post(t, "/contacts", map[string]string{"name": "Bia", "phone": "11987654321"}).Code)
	h.triggerAlert(t)
	require.NoError(t, h.c.settings.SetHoldDuration(ctx, 6*time.Second))

	rec := h.post(t, "/account/reset", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	assert.False(t, store.GetBool(ctx, h.store, store.KeyPanicTriggered, false))
	assert.Equal(t, 0.0, store.GetFloat(ctx, h.store, store.KeyPanicProgress, 0))
	_, err := h.store.Get(ctx, store.KeySessionToken)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, h.c.settings.Contacts(ctx))
	assert.Equal(t, 4*time.Second, h.c.settings.HoldDuration(ctx), "configured hold duration seeded again")

	st := h.status(t)
	assert.Equal(t, "idle", st["trigger"].(map[string]any)["phase"])
	assert.Equal(t, false, st["session_valid"])
	assert.Equal(t, false, st["uploading"])
	assert.Equal(t, false, st["alert_active"])

	_, resets := h.effects.counts()
	assert.Equal(t, 1, resets)

	// Nothing is uploaded without a new login
	n := len(h.backend.Readings())
	h.clock.Advance(5 * time.Second)
	require.NoError(t, h.c.uploader.Wait(ctx))
	assert.Len(t, h.backend.Readings(), n)
	assert.Zero(t, h.backend.Logouts(), "reset stays local")
}

func TestResetAccountFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetErr = assert.AnError

	rec := h.post(t, "/account/reset", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRun_RestoresTriggeredWithoutResending(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.SetMany(context.Background(), map[string]string{
		store.KeyPanicTriggered: "true",
		store.KeyPanicProgress:  "1",
		store.KeyAlertActive:    "true",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()

	require.Eventually(t, func() bool { return h.c.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	base := "http://" + h.c.Addr().String()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/status")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, "triggered", st["trigger"].(map[string]any)["phase"])
	assert.Empty(t, h.backend.Alerts())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ListenFailure(t *testing.T) {
	ln := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(ln.Close)

	h := newHarness(t, func(cfg *config.Config) { cfg.Control.Addr = ln.Listener.Addr().String() })
	err := h.c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on")
}
