// ABOUTME: Local HTTP control API translating button, sensor, and session input into component calls
// ABOUTME: Uses gorilla/mux routing with JSON request and response bodies

package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/2389/carekeeper/internal/sensors"
	"github.com/2389/carekeeper/internal/session"
	"github.com/2389/carekeeper/internal/settings"
	"github.com/2389/carekeeper/internal/store"
	"github.com/2389/carekeeper/internal/telemetry"
	"github.com/2389/carekeeper/internal/trigger"
)

// Trigger is the panic button.
type Trigger interface {
	State() trigger.State
	StartHold(ctx context.Context) trigger.State
	CancelHold(ctx context.Context) trigger.State
	Reset(ctx context.Context) (trigger.State, error)
	ConfirmSafe(ctx context.Context) (trigger.State, error)
}

// Auth performs login and logout.
type Auth interface {
	Login(ctx context.Context, email, password string) error
	Logout(ctx context.Context) error
}

// Session reports whether the current session is usable.
type Session interface {
	IsValid(ctx context.Context) bool
}

// Uploader reports whether telemetry is being sent.
type Uploader interface {
	Running() bool
}

// Permissions is the location permission state.
type Permissions interface {
	LocationGranted() bool
	SetLocationGranted(granted bool) bool
}

// PendingAlerts sends an alert held back by a missing permission.
type PendingAlerts interface {
	Pending() (string, bool)
	PermissionGranted(ctx context.Context) error
}

// Account erases all local data.
type Account interface {
	ResetAccount(ctx context.Context) error
}

// Deps are the components the control API drives.
type Deps struct {
	Trigger     Trigger
	Auth        Auth
	Session     Session
	Uploader    Uploader
	Sensors     sensors.Sink
	Permissions Permissions
	Pending     PendingAlerts
	Account     Account
	Settings    *settings.Service
	Store       store.Store
}

// Server is the control API.
type Server struct {
	deps   Deps
	logger *slog.Logger
	router *mux.Router
}

// NewServer builds the router.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		logger: logger.With("component", "control"),
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	r.HandleFunc("/panic/hold", s.handleHold).Methods(http.MethodPost)
	r.HandleFunc("/panic/release", s.handleRelease).Methods(http.MethodPost)
	r.HandleFunc("/panic/reset", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/accident/safe", s.handleConfirmSafe).Methods(http.MethodPost)

	r.HandleFunc("/sensors/motion", s.handleMotion).Methods(http.MethodPost)
	r.HandleFunc("/sensors/location", s.handleLocation).Methods(http.MethodPost)
	r.HandleFunc("/permissions/location", s.handleLocationPermission).Methods(http.MethodPost)

	r.HandleFunc("/session/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/session/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/account/reset", s.handleAccountReset).Methods(http.MethodPost)

	r.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	r.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPut)

	r.HandleFunc("/contacts", s.handleListContacts).Methods(http.MethodGet)
	r.HandleFunc("/contacts", s.handleAddContact).Methods(http.MethodPost)
	r.HandleFunc("/contacts/{index:[0-9]+}", s.handleUpdateContact).Methods(http.MethodPut)
	r.HandleFunc("/contacts/{index:[0-9]+}", s.handleRemoveContact).Methods(http.MethodDelete)
}

// logRequests logs every request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Trigger             trigger.State `json:"trigger"`
	AlertActive         bool          `json:"alert_active"`
	SessionValid        bool          `json:"session_valid"`
	Uploading           bool          `json:"uploading"`
	LocationGranted     bool          `json:"location_granted"`
	PermissionRequested bool          `json:"permission_requested"`
	PendingAlertID      string        `json:"pending_alert_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pending, hasPending := s.deps.Pending.Pending()
	s.sendJSON(w, http.StatusOK, StatusResponse{
		Trigger:             s.deps.Trigger.State(),
		AlertActive:         store.GetBool(ctx, s.deps.Store, store.KeyAlertActive, false),
		SessionValid:        s.deps.Session.IsValid(ctx),
		Uploading:           s.deps.Uploader.Running(),
		LocationGranted:     s.deps.Permissions.LocationGranted(),
		PermissionRequested: hasPending,
		PendingAlertID:      pending,
	})
}

// TriggerResponse is the trigger state after a button action. While an
// alert waits for location permission the response is 202 Accepted with
// PermissionRequested set.
type TriggerResponse struct {
	trigger.State
	PermissionRequested bool `json:"permission_requested,omitempty"`
}

func (s *Server) handleHold(w http.ResponseWriter, r *http.Request) {
	s.sendTriggerState(w, s.deps.Trigger.StartHold(r.Context()))
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	s.sendTriggerState(w, s.deps.Trigger.CancelHold(r.Context()))
}

func (s *Server) sendTriggerState(w http.ResponseWriter, st trigger.State) {
	if _, pending := s.deps.Pending.Pending(); pending {
		s.sendJSON(w, http.StatusAccepted, TriggerResponse{State: st, PermissionRequested: true})
		return
	}
	s.sendJSON(w, http.StatusOK, TriggerResponse{State: st})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Trigger.Reset(r.Context())
	if err != nil {
		s.logger.Error("reset failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	s.sendJSON(w, http.StatusOK, st)
}

func (s *Server) handleConfirmSafe(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Trigger.ConfirmSafe(r.Context())
	if err != nil {
		s.logger.Error("confirm safe failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "confirm safe failed")
		return
	}
	s.sendJSON(w, http.StatusOK, st)
}

// MotionRequest is the body of POST /sensors/motion.
type MotionRequest struct {
	Accelerometer *telemetry.Vec3 `json:"accelerometer"`
	Gyroscope     *telemetry.Vec3 `json:"gyroscope"`
}

// LocationRequest is the body of POST /sensors/location.
type LocationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (s *Server) handleMotion(w http.ResponseWriter, r *http.Request) {
	var req MotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Accelerometer == nil || req.Gyroscope == nil {
		s.sendJSONError(w, http.StatusBadRequest, "accelerometer and gyroscope are required")
		return
	}
	s.deps.Sensors.OnMotionSample(*req.Accelerometer, *req.Gyroscope)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		s.sendJSONError(w, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	if *req.Latitude < -90 || *req.Latitude > 90 || *req.Longitude < -180 || *req.Longitude > 180 {
		s.sendJSONError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	s.deps.Sensors.OnLocationSample(*req.Latitude, *req.Longitude)
	w.WriteHeader(http.StatusNoContent)
}

// PermissionRequest is the body of POST /permissions/location.
type PermissionRequest struct {
	Granted bool `json:"granted"`
}

func (s *Server) handleLocationPermission(w http.ResponseWriter, r *http.Request) {
	var req PermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if s.deps.Permissions.SetLocationGranted(req.Granted) {
		if err := s.deps.Pending.PermissionGranted(r.Context()); err != nil {
			s.logger.Warn("pending alert not delivered", "error", err)
		}
	}
	s.sendJSON(w, http.StatusOK, map[string]bool{"granted": s.deps.Permissions.LocationGranted()})
}

// LoginRequest is the body of POST /session/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		s.sendJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	err := s.deps.Auth.Login(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, session.ErrInvalidCredentials):
		s.sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		s.logger.Error("login failed", "error", err)
		s.sendJSONError(w, http.StatusBadGateway, "login failed")
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Auth.Logout(r.Context()); err != nil {
		s.logger.Error("logout failed", "error", err)
		s.sendJSONError(w, http.StatusBadGateway, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccountReset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Account.ResetAccount(r.Context()); err != nil {
		s.logger.Error("account reset failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "account reset failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.deps.Settings.Load(r.Context()))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settings.Update
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	updated, err := s.deps.Settings.Update(r.Context(), req)
	if err != nil {
		s.sendSettingsError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, updated)
}

// ContactResponse is a contact with its display phone.
type ContactResponse struct {
	Index int `json:"index"`
	settings.Contact
	DisplayPhone string `json:"display_phone"`
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts := s.deps.Settings.Contacts(r.Context())
	out := make([]ContactResponse, len(contacts))
	for i, c := range contacts {
		out[i] = contactResponse(i, c)
	}
	s.sendJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddContact(w http.ResponseWriter, r *http.Request) {
	var req settings.Contact
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	c, err := s.deps.Settings.AddContact(r.Context(), req)
	if err != nil {
		s.sendSettingsError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, contactResponse(len(s.deps.Settings.Contacts(r.Context()))-1, c))
}

func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	index, _ := strconv.Atoi(mux.Vars(r)["index"])

	var req settings.Contact
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	c, err := s.deps.Settings.UpdateContact(r.Context(), index, req)
	if err != nil {
		s.sendSettingsError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, contactResponse(index, c))
}

func (s *Server) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	index, _ := strconv.Atoi(mux.Vars(r)["index"])

	if err := s.deps.Settings.RemoveContact(r.Context(), index); err != nil {
		s.sendSettingsError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func contactResponse(index int, c settings.Contact) ContactResponse {
	return ContactResponse{Index: index, Contact: c, DisplayPhone: settings.FormatPhone(c.Phone)}
}

func (s *Server) sendSettingsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settings.ErrInvalidSetting), errors.Is(err, settings.ErrInvalidContact):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, settings.ErrBelowContactCount), errors.Is(err, settings.ErrContactLimit):
		s.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, settings.ErrNoSuchContact):
		s.sendJSONError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("settings update failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response failed", "error", err)
	}
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
