// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 * 1024

// Transport opens a response stream for a conversation history.
type Transport interface {
	Open(ctx context.Context, history []WireMessage) (ChunkSource, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, history []WireMessage) (ChunkSource, error)

// Open calls f.
func (f TransportFunc) Open(ctx context.Context, history []WireMessage) (ChunkSource, error) {
	return f(ctx, history)
}

// =============================================================================
// HTTP TRANSPORT
// =============================================================================

// chatRequest is the body posted to the proxy.
type chatRequest struct {
	Messages []WireMessage `json:"messages"`
}

// HTTPTransport posts the history to the chat proxy endpoint.
type HTTPTransport struct {
	endpoint   string
	httpClient *http.Client
	userAgent  string
}

// NewHTTPTransport creates a transport for the given proxy URL.
// The default client has no timeout; the stream is bounded by its context.
func NewHTTPTransport(endpoint string) *HTTPTransport {
	return &HTTPTransport{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		userAgent:  "coachline-chat",
	}
}

// WithHTTPClient sets a custom HTTP client.
func (t *HTTPTransport) WithHTTPClient(c *http.Client) *HTTPTransport {
	t.httpClient = c
	return t
}

// WithUserAgent sets the User-Agent header.
func (t *HTTPTransport) WithUserAgent(ua string) *HTTPTransport {
	t.userAgent = ua
	return t
}

// Endpoint returns the proxy URL.
func (t *HTTPTransport) Endpoint() string {
	return t.endpoint
}

// Open posts the history and returns the streamed body on 2xx.
func (t *HTTPTransport) Open(ctx context.Context, history []WireMessage) (ChunkSource, error) {
	body, err := json.Marshal(chatRequest{Messages: history})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := gjson.GetBytes(raw, "error").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &StatusError{Status: resp.StatusCode, Message: msg}
	}

	return NewBodySource(resp.Body), nil
}
