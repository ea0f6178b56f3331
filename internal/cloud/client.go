// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultGatewayURL is the base URL of the chat-completions gateway.
	DefaultGatewayURL = "https://openrouter.ai/api/v1"

	// DefaultModel is used when no model is configured.
	DefaultModel = "openrouter/auto"

	// DefaultTimeout bounds the wait for response headers. The body of a
	// streaming response is bounded by the caller's context instead.
	DefaultTimeout = 60 * time.Second

	// MaxErrorBodySize is how much of an error response is read.
	MaxErrorBodySize = 64 * 1024

	userAgent = "coachline/1.0"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the gateway API key is not set.
	ErrNotConfigured = errors.New("gateway API key is not configured")

	// ErrAuthFailed indicates the gateway rejected the API key.
	ErrAuthFailed = errors.New("gateway authentication failed")

	// ErrRateLimited indicates the gateway answered 429.
	ErrRateLimited = errors.New("gateway rate limited")

	// ErrInsufficientCredits indicates the gateway answered 402.
	ErrInsufficientCredits = errors.New("gateway credits exhausted")
)

// GatewayError is a non-2xx response from the gateway.
type GatewayError struct {
	Status  int
	Code    string
	Message string
	Body    string
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("gateway error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("gateway error (HTTP %d)", e.Status)
}

// Is matches the status-specific sentinels.
func (e *GatewayError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrInsufficientCredits:
		return e.Status == http.StatusPaymentRequired
	case ErrAuthFailed:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	}
	return false
}

// newGatewayError builds a GatewayError from a raw error body. Both the
// OpenAI shape {"error":{"code","message"}} and {"error":"..."} are understood.
func newGatewayError(status int, body []byte) *GatewayError {
	ge := &GatewayError{Status: status, Body: string(body)}
	errField := gjson.GetBytes(body, "error")
	switch {
	case errField.IsObject():
		ge.Code = errField.Get("code").String()
		ge.Message = errField.Get("message").String()
	case errField.Type == gjson.String:
		ge.Message = errField.Str
	}
	return ge
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ChatMessage is a single message in the outbound request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// ChatRequest is the body posted to /chat/completions.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// =============================================================================
// CLIENT
// =============================================================================

// GatewayClient talks to the chat-completions gateway.
type GatewayClient struct {
	apiKey     string
	baseURL    string
	model      string
	siteURL    string
	siteName   string
	httpClient *http.Client
}

// NewGatewayClient creates a client. An empty key yields a client whose
// requests fail with ErrNotConfigured.
func NewGatewayClient(apiKey string) *GatewayClient {
	return &GatewayClient{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: DefaultGatewayURL,
		model:   DefaultModel,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: DefaultTimeout,
				TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
}

// WithBaseURL sets the gateway base URL (without /chat/completions).
func (c *GatewayClient) WithBaseURL(url string) *GatewayClient {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithModel sets the model identifier sent with every request.
func (c *GatewayClient) WithModel(model string) *GatewayClient {
	if model != "" {
		c.model = model
	}
	return c
}

// WithTimeout sets how long to wait for response headers.
func (c *GatewayClient) WithTimeout(timeout time.Duration) *GatewayClient {
	if t, ok := c.httpClient.Transport.(*http.Transport); ok {
		t.ResponseHeaderTimeout = timeout
	}
	return c
}

// WithReferer sets the HTTP-Referer and X-Title attribution headers.
func (c *GatewayClient) WithReferer(siteURL, siteName string) *GatewayClient {
	c.siteURL = siteURL
	c.siteName = siteName
	return c
}

// WithHTTPClient replaces the HTTP client.
func (c *GatewayClient) WithHTTPClient(hc *http.Client) *GatewayClient {
	c.httpClient = hc
	return c
}

// Model returns the configured model.
func (c *GatewayClient) Model() string {
	return c.model
}

// BaseURL returns the configured base URL.
func (c *GatewayClient) BaseURL() string {
	return c.baseURL
}

// IsConfigured reports whether an API key is set.
func (c *GatewayClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Fingerprint identifies the API key without revealing it.
func (c *GatewayClient) Fingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

func (c *GatewayClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// Stream posts a streaming chat completion. On 2xx the live response is
// returned and the caller must close its Body. Any other status is returned
// as a *GatewayError with the body already consumed.
func (c *GatewayClient) Stream(ctx context.Context, messages []ChatMessage) (*http.Response, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		return nil, newGatewayError(resp.StatusCode, raw)
	}
	return resp, nil
}

// Ping checks that the gateway answers and accepts the key by listing models.
func (c *GatewayClient) Ping(ctx context.Context) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
	if resp.StatusCode != http.StatusOK {
		return newGatewayError(resp.StatusCode, raw)
	}
	return nil
}
