// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend implements the HTTP client for the chat service.
package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/chatstream/internal/credential"
)

// Configuration constants for the chat backend.
const (
	// DefaultTimeout bounds non-streaming requests (auth, health).
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed non-streaming response body.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 1 * 1024 * 1024

	// authRatePerMinute bounds how often /auth may be hit from this process.
	authRatePerMinute = 10
	authBurst         = 3
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client for bounded (non-streaming) requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for streaming requests. No client
	// timeout: stream lifetime is controlled via context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// authRequest is the body for POST /auth.
type authRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

// authResponse is the body returned by POST /auth.
type authResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// chatRequest is the body for POST /chat.
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Stream    bool   `json:"stream"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the chat backend. It holds the fixed client identity used
// for authentication; per-turn credentials are passed in by the caller.
type Client struct {
	baseURL  string
	userID   string
	password string

	// authLimiter bounds the rate of /auth calls so a failing credential
	// loop cannot hammer the endpoint.
	authLimiter *rate.Limiter
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL, userID, password string) *Client {
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		userID:      userID,
		password:    password,
		authLimiter: rate.NewLimiter(rate.Limit(float64(authRatePerMinute)/60.0), authBurst),
	}
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// logRequest logs an outbound request without exposing sensitive data.
// SECURITY: Never log headers (auth) or bodies (message content).
func logRequest(req *http.Request) {
	log.Printf("backend request: %s %s", req.Method, req.URL.Path)
}

// logResponse logs status and duration only.
func logResponse(resp *http.Response, duration time.Duration) {
	log.Printf("backend response: %d (%v)", resp.StatusCode, duration)
}

// readBounded reads a response body with a size cap.
// SECURITY: Response size limit prevents memory exhaustion.
func readBounded(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(data)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return data, nil
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

// Authenticate exchanges the client identity for a fresh credential.
// Failures are never retried here; the limiter only caps how fast callers
// can re-attempt.
func (c *Client) Authenticate(ctx context.Context) (credential.Credential, error) {
	if !c.authLimiter.Allow() {
		return credential.Credential{}, &AuthenticationError{Err: ErrAuthThrottled}
	}

	body, err := json.Marshal(authRequest{UserID: c.userID, Password: c.password})
	if err != nil {
		return credential.Credential{}, &AuthenticationError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return credential.Credential{}, &AuthenticationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	logRequest(req)
	start := time.Now()
	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return credential.Credential{}, &AuthenticationError{Err: err}
	}
	defer resp.Body.Close()
	logResponse(resp, time.Since(start))

	data, err := readBounded(resp.Body)
	if err != nil {
		return credential.Credential{}, &AuthenticationError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return credential.Credential{}, &AuthenticationError{
			Err: fmt.Errorf("auth endpoint returned HTTP %d", resp.StatusCode),
		}
	}

	var parsed authResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return credential.Credential{}, &AuthenticationError{Err: fmt.Errorf("malformed auth response: %w", err)}
	}

	cred := credential.Credential{
		Token:     parsed.Token,
		SessionID: parsed.SessionID,
		ExpiresAt: parsed.ExpiresAt,
	}
	if !cred.Complete() {
		return credential.Credential{}, &AuthenticationError{Err: errors.New("auth response missing fields")}
	}

	log.Printf("backend: authenticated, token fingerprint %s", cred.TokenFingerprint())
	return cred, nil
}

// =============================================================================
// CHAT STREAM
// =============================================================================

// OpenChat opens the streaming reply for one user message. The returned body
// must be closed by the caller; its lifetime is bounded by ctx.
func (c *Client) OpenChat(ctx context.Context, cred credential.Credential, message string) (io.ReadCloser, error) {
	body, err := json.Marshal(chatRequest{Message: message, SessionID: cred.SessionID, Stream: true})
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	endpoint := c.baseURL + "/chat?session_id=" + url.QueryEscape(cred.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	logRequest(req)
	start := time.Now()
	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	logResponse(resp, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		data, _ := readBounded(resp.Body)
		resp.Body.Close()
		return nil, &TransportError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("chat endpoint rejected request: %s", strings.TrimSpace(string(data))),
		}
	}

	return resp.Body, nil
}

// =============================================================================
// HEALTH
// =============================================================================

// Health probes GET /health. Diagnostic only; the engine never calls this.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health probe returned HTTP %d", resp.StatusCode)
	}
	return nil
}
