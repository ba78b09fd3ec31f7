// Package api is the HTTP client for the GamersHub backend auth endpoints.
// It owns wire formats, error classification and the circuit breaker; the
// session layer above it never sees raw HTTP statuses.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/gamershub/hubclient/internal/apperrors"
	"github.com/gamershub/hubclient/internal/logger"
	"github.com/gamershub/hubclient/internal/models"
)

const (
	defaultRequestTimeout = 10 * time.Second

	// Body limit for error payloads; the backend message envelopes are tiny
	maxErrorBody = 8 << 10
)

// Endpoint paths, relative to the base URL
const (
	PathLogin          = "/auth/login"
	PathRegister       = "/auth/register"
	PathRefreshToken   = "/auth/refresh-token"
	PathForgotPassword = "/auth/forgot-password"
	PathResetPassword  = "/auth/reset-password"
	PathProfile        = "/users/me/profile"
)

type Config struct {
	// BaseURL of the backend, e.g. "https://api.gamershub.example/api"
	// Required to be set
	BaseURL string

	// HTTPClient to use. Defaults to a plain client with a request timeout
	HTTPClient *http.Client

	Logger logger.Logger
}

type Client struct {
	baseURL  string
	client   *http.Client
	logger   logger.Logger
	validate *validator.Validate

	// Breaker keeps the periodic liveness checks from hammering a backend
	// that is down. Only connectivity and 5xx failures count against it;
	// auth rejections mean the server is perfectly reachable.
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL must not be empty")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	c := &Client{
		baseURL:  cfg.BaseURL,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
		validate: newValidator(),
	}

	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "gamershub-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warn("API circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return c, nil
}

// Login exchanges credentials for a token pair and the user record.
// Returns ErrInvalidCredentials (carrying the server message) on rejection.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*models.AuthResponse, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidCredentials, err)
	}

	resp, body, err := c.do(ctx, http.MethodPost, PathLogin, "", req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return decodeAuthResponse(body)
	case http.StatusBadRequest, http.StatusUnauthorized:
		return nil, apperrors.NewAPIError(resp.StatusCode, serverMessage(body), apperrors.ErrInvalidCredentials)
	default:
		return nil, apperrors.NewAPIError(resp.StatusCode, serverMessage(body), apperrors.ErrServerError)
	}
}

// Register creates an account. Returns ErrUserExists when the username or
// email is already taken.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*models.AuthResponse, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidCredentials, err)
	}

	resp, body, err := c.do(ctx, http.MethodPost, PathRegister, "", req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return decodeAuthResponse(body)
	case http.StatusBadRequest, http.StatusConflict:
		return nil, apperrors.NewAPIError(resp.StatusCode, serverMessage(body), apperrors.ErrUserExists)
	default:
		return nil, apperrors.NewAPIError(resp.StatusCode, serverMessage(body), apperrors.ErrServerError)
	}
}

// Profile fetches the authenticated user's profile.
// Authorization failures map to ErrProfileRejected.
func (c *Client) Profile(ctx context.Context, accessToken string) (*models.User, error) {
	resp, body, err := c.do(ctx, http.MethodGet, PathProfile, accessToken, nil)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeUser(body)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, apperrors.NewAPIError(resp.StatusCode, serverMessage(body), apperrors.ErrProfileRejected)
	default:
		return nil, apperrors.NewAPIError(resp.StatusCode, serverMessage(body), apperrors.ErrServerError)
	}
}

// UpdateProfile patches the authenticated user's profile and returns the
// updated record.
func (c *Client) UpdateProfile(ctx context.Context, accessToken string, req UpdateProfileRequest) (*models.User, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid profile update. Err: %w", err)
	}

	resp, body, err := c.do(ctx, http.MethodPut, PathProfile, accessToken, req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeUser(body)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, apperrors.NewAPIError(resp.StatusCode, serverMessage(body), apperrors.ErrProfileRejected)
	default:
		return nil, apperrors.NewAPIError(resp.StatusCode, serverMessage(body), apperrors.ErrServerError)
	}
}

// RefreshToken exchanges the refresh token for a new access token. The old
// access token still rides along as the bearer credential; the backend wants
// both. Rejections and structurally broken responses map to
// ErrRefreshRejected, backend outages to ErrRefreshUnavailable.
func (c *Client) RefreshToken(ctx context.Context, accessToken string, refreshToken string) (*models.AuthResponse, error) {
	resp, body, err := c.do(ctx, http.MethodPost, PathRefreshToken, accessToken, refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		if errors.Is(err, apperrors.ErrServerError) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrRefreshUnavailable, err)
		}
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		auth, err := decodeAuthResponse(body)
		if err != nil {
			return nil, err
		}
		if auth.Token == "" {
			// Structurally invalid: a refresh response without a token is
			// as fatal as a rejection
			return nil, fmt.Errorf("%w: response carries no token", apperrors.ErrRefreshRejected)
		}
		return auth, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, apperrors.NewAPIError(resp.StatusCode, serverMessage(body), apperrors.ErrRefreshRejected)
	default:
		return nil, apperrors.NewAPIError(resp.StatusCode, serverMessage(body), apperrors.ErrRefreshUnavailable)
	}
}

// ForgotPassword asks the backend to send a reset email.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	req := forgotPasswordRequest{Email: email}
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid email. Err: %w", err)
	}

	resp, body, err := c.do(ctx, http.MethodPost, PathForgotPassword, "", req)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return apperrors.NewAPIError(resp.StatusCode, serverMessage(body), apperrors.ErrServerError)
	}
	return nil
}

// ResetPassword completes a password reset with the emailed token.
func (c *Client) ResetPassword(ctx context.Context, token string, password string) error {
	req := resetPasswordRequest{Token: token, Password: password}
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid reset request. Err: %w", err)
	}

	resp, body, err := c.do(ctx, http.MethodPost, PathResetPassword, "", req)
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusBadRequest, http.StatusUnauthorized:
		return apperrors.NewAPIError(resp.StatusCode, serverMessage(body), apperrors.ErrInvalidCredentials)
	default:
		return apperrors.NewAPIError(resp.StatusCode, serverMessage(body), apperrors.ErrServerError)
	}
}

// do executes one request through the circuit breaker and returns the
// response with its body already read and closed. Connectivity failures map
// to ErrNetwork and 5xx statuses to ErrServerError so the breaker can count
// them; every other status is returned for the caller to interpret.
func (c *Client) do(ctx context.Context, method string, path string, bearer string, payload any) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("error while encoding request body. Err: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("error while building request. Err: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	var body []byte
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrNetwork, err)
		}
		defer resp.Body.Close() // nolint:errcheck

		body, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %s", apperrors.ErrNetwork, err)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, apperrors.NewAPIError(resp.StatusCode, serverMessage(body), apperrors.ErrServerError)
		}

		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("API call short-circuited", "path", path)
			return nil, nil, fmt.Errorf("%w: circuit breaker open", apperrors.ErrNetwork)
		}
		return nil, nil, err
	}

	return resp, body, nil
}

func decodeAuthResponse(body []byte) (*models.AuthResponse, error) {
	var auth models.AuthResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, fmt.Errorf("error while decoding auth response. Err: %w", err)
	}
	return &auth, nil
}

func decodeUser(body []byte) (*models.User, error) {
	var user models.User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("error while decoding user. Err: %w", err)
	}
	return &user, nil
}

// serverMessage pulls the backend's {message} envelope out of an error body
func serverMessage(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.Message
}
