// Package api is a small JSON client for the application's REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/tokengate/internal/errors"
	"github.com/alexjbarnes/tokengate/internal/models"
	"github.com/tidwall/gjson"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StatusError is returned for non-2xx responses. Message, Kind and Code
// come from the server's error body when it has the usual
// {"message", "error", "statusCode"} shape.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Kind       string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API %s (%d): %s", e.Endpoint, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("API %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return apperrors.ErrAPIResponse }

// IsUnauthorized reports whether err is a 401 StatusError.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

const (
	// httpClientTimeout is the timeout for the default HTTP client used
	// by the API client when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory.
	maxAPIResponseBytes = 1024 * 1024
)

// Endpoints names the API paths the client calls directly.
type Endpoints struct {
	Login   string
	Refresh string
}

// DefaultEndpoints matches the API's standard routes.
var DefaultEndpoints = Endpoints{
	Login:   "/auth/login",
	Refresh: "/auth/refresh-access-token",
}

// Client talks to the REST API. Which credentials it sends depends on
// the http.Client it was built with: a plain client for signing in and
// refreshing, a gateway-backed client for everything else.
type Client struct {
	httpClient *http.Client
	baseURL    string
	endpoints  Endpoints
}

// NewClient creates an API client rooted at baseURL. If httpClient is
// nil, a client with a 30-second timeout is created.
func NewClient(baseURL string, httpClient *http.Client, endpoints Endpoints) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpClientTimeout}
	}

	if endpoints.Login == "" {
		endpoints.Login = DefaultEndpoints.Login
	}

	if endpoints.Refresh == "" {
		endpoints.Refresh = DefaultEndpoints.Refresh
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		endpoints:  endpoints,
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// do sends a JSON request and returns the raw response body. Non-2xx
// responses become a *StatusError.
func (c *Client) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("sending request to %s: %w: %w", endpoint, apperrors.ErrAPIRequest, err)
		if ctx.Err() != nil || errors.Is(err, apperrors.ErrRefreshFailed) {
			return nil, wrapped
		}
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return nil, &TransientError{Err: wrapped}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       sanitizeResponseBody(respBody),
		}

		if gjson.ValidBytes(respBody) {
			statusErr.Message = sanitizeResponseBody([]byte(gjson.GetBytes(respBody, "message").String()))
			statusErr.Kind = gjson.GetBytes(respBody, "error").String()
		}

		if isTransientStatus(resp.StatusCode) {
			return nil, &TransientError{Err: statusErr}
		}

		return nil, statusErr
	}

	return respBody, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, result any) error {
	respBody, err := c.do(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", endpoint, err)
		}
	}

	return nil
}

// GetJSON sends a GET request and decodes the response into result.
func (c *Client) GetJSON(ctx context.Context, endpoint string, result any) error {
	return c.doJSON(ctx, http.MethodGet, endpoint, nil, result)
}

// PostJSON sends body as JSON and decodes the response into result.
func (c *Client) PostJSON(ctx context.Context, endpoint string, body, result any) error {
	return c.doJSON(ctx, http.MethodPost, endpoint, body, result)
}

// GetRaw sends a GET request and returns the response body unparsed.
func (c *Client) GetRaw(ctx context.Context, endpoint string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil)
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	req := models.LoginRequest{
		Email:    email,
		Password: password,
	}

	var resp models.LoginResponse
	if err := c.PostJSON(ctx, c.endpoints.Login, req, &resp); err != nil {
		if IsUnauthorized(err) {
			return nil, fmt.Errorf("signing in: %w", apperrors.ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("signing in: %w", err)
	}

	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, fmt.Errorf("signing in: %w: missing tokens", apperrors.ErrAPIResponse)
	}

	return &resp, nil
}

// RefreshAccessToken exchanges a refresh token for a new access token.
// Any non-2xx status, or a body without a string accessToken field, is
// an error. It must be called with a client that does not itself
// refresh, otherwise a 401 here would recurse.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, c.endpoints.Refresh, models.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", fmt.Errorf("refreshing access token: %w", err)
	}

	token := gjson.GetBytes(body, "accessToken")
	if token.Type != gjson.String || token.Str == "" {
		return "", fmt.Errorf("refreshing access token: %w", apperrors.ErrMalformedRefresh)
	}

	return token.Str, nil
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}
