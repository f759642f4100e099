// Package auth exchanges an API key and a unique client id for a
// short-lived Polaris access token via an HTTPS POST to the authentication
// REST endpoint.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAuthHost is the default authentication endpoint host.
const DefaultAuthHost = "api.pointonenav.com"

// DefaultAuthPath is the default authentication endpoint path.
const DefaultAuthPath = "/api/v1/auth/token"

// DefaultTimeout bounds a single authentication attempt when the caller has
// not supplied their own *http.Client with a different timeout.
const DefaultTimeout = 15 * time.Second

// ErrForbidden indicates the service permanently rejected the supplied
// credentials (HTTP 401/403). The Supervisor treats this as fatal.
var ErrForbidden = errors.New("auth: credentials rejected")

// ErrAuthTransient indicates an authentication attempt failed in a way the
// caller should retry: a transport failure, a non-2xx status other than
// 401/403, a malformed response, or a response missing the token field.
var ErrAuthTransient = errors.New("auth: authentication attempt failed")

// Credentials identifies a client instance to the authentication service.
// UniqueID must be unique per concurrently-open session; the service
// rejects a second session bearing the same id.
type Credentials struct {
	APIKey   string
	UniqueID string
}

// Token is an opaque, printable bearer token. It is never persisted by this
// package.
type Token string

// Authenticator performs the authentication HTTP exchange. It does not
// retry; all retry policy belongs to the caller (the Supervisor).
type Authenticator struct {
	// Host and Path describe the authentication endpoint. Zero values fall
	// back to DefaultAuthHost / DefaultAuthPath.
	Host string
	Path string
	// Scheme defaults to "https"; tests may override it to "http" against
	// an httptest server.
	Scheme string

	// Client is the HTTP client used for the POST. When Client is nil, each
	// call builds a plain *http.Client with DefaultTimeout.
	Client *http.Client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Authenticate exchanges creds for a Token. Errors wrap ErrForbidden or
// ErrAuthTransient; see those variables for the classification.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	scheme := a.Scheme
	if scheme == "" {
		scheme = "https"
	}
	host := a.Host
	if host == "" {
		host = DefaultAuthHost
	}
	path := a.Path
	if path == "" {
		path = DefaultAuthPath
	}

	endpoint := url.URL{Scheme: scheme, Host: host, Path: path}
	form := url.Values{
		"api_key":   {creds.APIKey},
		"unique_id": {creds.UniqueID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrAuthTransient, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrAuthTransient, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: status %d", ErrForbidden, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrAuthTransient, resp.StatusCode)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrAuthTransient, err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("%w: response missing access_token", ErrAuthTransient)
	}

	return Token(parsed.AccessToken), nil
}
