// ABOUTME: In-process fake of the monitoring backend for tests and local development
// ABOUTME: Issues HS256 JWTs on login and records every reading and alert it accepts

package backendtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/2389/carekeeper/internal/backend"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrRevokedToken = errors.New("token revoked")
)

// RecordedReading is one accepted telemetry upload.
type RecordedReading struct {
	backend.Reading
	Active  bool
	Subject string
}

// RecordedAlert is one accepted panic alert.
type RecordedAlert struct {
	backend.PanicAlert
	Subject string
}

// Server is an http.Handler serving the four backend routes.
type Server struct {
	secret   []byte
	tokenTTL time.Duration
	logger   *slog.Logger
	router   *mux.Router

	mu       sync.Mutex
	users    map[string]string // email -> password; nil accepts anyone
	revoked  map[string]bool   // jti
	forced   map[string]int    // path -> status
	readings []RecordedReading
	alerts   []RecordedAlert
	logouts  int
}

// Option configures a Server.
type Option func(*Server)

// WithUsers restricts login to the given email/password pairs.
func WithUsers(users map[string]string) Option {
	return func(s *Server) { s.users = users }
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) { s.tokenTTL = d }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a fake backend signing tokens with secret.
func NewServer(secret []byte, opts ...Option) *Server {
	s := &Server{
		secret:   secret,
		tokenTTL: time.Hour,
		logger:   slog.Default(),
		router:   mux.NewRouter(),
		revoked:  make(map[string]bool),
		forced:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.HandleFunc(backend.PathLogin, s.handleLogin).Methods(http.MethodPost)
	s.router.HandleFunc(backend.PathLogout, s.authenticated(s.handleLogout)).Methods(http.MethodPost)
	s.router.HandleFunc(backend.PathReading, s.authenticated(s.handleReading)).Methods(http.MethodPost)
	s.router.HandleFunc(backend.PathPanic, s.authenticated(s.handlePanic)).Methods(http.MethodPost)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Generate issues a token for subject.
func (s *Server) Generate(subject string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(s.tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify validates a token and returns its subject and ID.
func (s *Server) Verify(tokenString string) (subject, id string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", ErrExpiredToken
		}
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}
	subject, _ = claims["sub"].(string)
	id, _ = claims["jti"].(string)
	if subject == "" || id == "" {
		return "", "", ErrInvalidToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[id] {
		return "", "", ErrRevokedToken
	}
	return subject, id, nil
}

// ForceStatus makes every request to path answer with status until cleared
// with status 0.
func (s *Server) ForceStatus(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.forced, path)
		return
	}
	s.forced[path] = status
}

// Readings returns a copy of the accepted readings.
func (s *Server) Readings() []RecordedReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedReading(nil), s.readings...)
}

// Alerts returns a copy of the accepted alerts.
func (s *Server) Alerts() []RecordedAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedAlert(nil), s.alerts...)
}

// Logouts returns the number of accepted logouts.
func (s *Server) Logouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

type ctxHandler func(w http.ResponseWriter, r *http.Request, subject, tokenID string)

func (s *Server) authenticated(next ctxHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if status, ok := s.forcedStatus(r.URL.Path); ok {
			sendJSONError(w, status, http.StatusText(status))
			return
		}

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			sendJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		subject, id, err := s.Verify(raw)
		if err != nil {
			s.logger.Debug("rejected token", "path", r.URL.Path, "error", err)
			sendJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r, subject, id)
	}
}

func (s *Server) forcedStatus(path string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.forced[path]
	return status, ok
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if status, ok := s.forcedStatus(r.URL.Path); ok {
		sendJSONError(w, status, http.StatusText(status))
		return
	}

	var req backend.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		sendJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	s.mu.Lock()
	want, known := s.users[req.Email]
	restricted := s.users != nil
	s.mu.Unlock()
	if restricted && (!known || want != req.Password) {
		sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.Generate(req.Email)
	if err != nil {
		s.logger.Error("signing token failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.logger.Info("login", "email", req.Email)
	sendJSON(w, http.StatusOK, backend.LoginResponse{Token: token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, subject, tokenID string) {
	s.mu.Lock()
	s.revoked[tokenID] = true
	s.logouts++
	s.mu.Unlock()

	s.logger.Info("logout", "subject", subject)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReading(w http.ResponseWriter, r *http.Request, subject, _ string) {
	active, err := strconv.ParseBool(r.URL.Query().Get("ativo"))
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "ativo must be a boolean")
		return
	}

	var reading backend.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	s.readings = append(s.readings, RecordedReading{Reading: reading, Active: active, Subject: subject})
	s.mu.Unlock()

	s.logger.Debug("reading", "subject", subject, "active", active, "lat", reading.Latitude, "lon", reading.Longitude)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request, subject, _ string) {
	var alert backend.PanicAlert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	s.alerts = append(s.alerts, RecordedAlert{PanicAlert: alert, Subject: subject})
	s.mu.Unlock()

	s.logger.Warn("PANIC ALERT", "subject", subject, "lat", alert.Latitude, "lon", alert.Longitude)
	sendJSON(w, http.StatusCreated, map[string]string{"status": "received"})
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, map[string]string{"error": message})
}
