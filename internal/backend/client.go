// ABOUTME: HTTP client for the monitoring backend (telemetry, panic alerts, login, logout)
// ABOUTME: Attaches the bearer token when a session exists and maps non-2xx replies to StatusError

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Backend routes.
const (
	PathReading = "/monitor/leitura"
	PathPanic   = "/emergencia/alerta"
	PathLogin   = "/auth/login"
	PathLogout  = "/autenticacao/logout"
)

// PanicMessage is the fixed description sent with every panic alert.
const PanicMessage = "panic button triggered"

// ErrUnauthorized matches any StatusError carrying HTTP 401.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrUnauthorized) match a 401.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies the raw session token, if one is stored.
type TokenSource interface {
	BearerToken(ctx context.Context) (string, bool)
}

// Reading is one telemetry upload.
type Reading struct {
	AccelerometerX float64 `json:"accelerometerX"`
	AccelerometerY float64 `json:"accelerometerY"`
	AccelerometerZ float64 `json:"accelerometerZ"`
	GyroscopeX     float64 `json:"gyroscopeX"`
	GyroscopeY     float64 `json:"gyroscopeY"`
	GyroscopeZ     float64 `json:"gyroscopeZ"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Timestamp      int64   `json:"timestamp"` // epoch milliseconds
}

// PanicAlert is the body of a panic alert.
type PanicAlert struct {
	Message   string  `json:"leitura"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LoginRequest is the body of a login call.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the reply to a successful login.
type LoginResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL string
	doer    Doer
	tokens  TokenSource
}

// Option configures a Client.
type Option func(*Client)

// WithDoer replaces the HTTP transport.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithTokenSource sets where the bearer token comes from.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// NewHTTPClient returns an *http.Client with an instrumented transport.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		doer:    NewHTTPClient(10 * time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendReading uploads one reading with the current alert flag.
func (c *Client) SendReading(ctx context.Context, r Reading, alertActive bool) error {
	path := PathReading + "?ativo=" + url.QueryEscape(strconv.FormatBool(alertActive))
	_, err := c.post(ctx, "send reading", path, r)
	return err
}

// TriggerPanic sends a panic alert.
func (c *Client) TriggerPanic(ctx context.Context, a PanicAlert) error {
	_, err := c.post(ctx, "trigger panic", PathPanic, a)
	return err
}

// Login exchanges credentials for a raw session token.
// An empty token in a 2xx reply is returned as an empty string.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body, err := c.post(ctx, "login", PathLogin, LoginRequest{Email: email, Password: password})
	if err != nil {
		return "", err
	}
	var resp LoginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("login: decoding response: %w", err)
	}
	return resp.Token, nil
}

// Logout tells the backend to end the current session.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.post(ctx, "logout", PathLogout, nil)
	return err
}

func (c *Client) post(ctx context.Context, op, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: marshaling request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.tokens != nil {
		if token, ok := c.tokens.BearerToken(ctx); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: sending request: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(op, resp, body)
	}
	return body, nil
}

// statusError extracts an error message from a non-2xx response.
func statusError(op string, resp *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
	}
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: msg}
}
