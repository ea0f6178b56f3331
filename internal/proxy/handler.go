// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/morganforge/coachline/internal/chat"
	"github.com/morganforge/coachline/internal/cloud"
	"github.com/morganforge/coachline/internal/logger"
	"github.com/morganforge/coachline/internal/response"
)

const (
	// DefaultMaxMessages bounds the history accepted per request.
	DefaultMaxMessages = 100

	// DefaultMaxBodyBytes bounds the request body.
	DefaultMaxBodyBytes = 1 << 20

	relayBufferSize = 4096
)

// Client-facing error texts.
const (
	MsgRateLimited        = "Rate limits exceeded, please try again later."
	MsgServiceUnavailable = "Service temporarily unavailable, please try again later."
	MsgGatewayError       = "AI service error"
)

var (
	errMissingBody     = errors.New("request body is required")
	errMissingMessages = errors.New("messages is required")
)

// Gateway opens streaming completions. *cloud.GatewayClient implements it.
type Gateway interface {
	Stream(ctx context.Context, messages []cloud.ChatMessage) (*http.Response, error)
	IsConfigured() bool
}

// PromptSource supplies the system prompt for each request.
type PromptSource interface {
	SystemPrompt() string
}

// StaticPrompt is a fixed system prompt.
type StaticPrompt string

// SystemPrompt returns p.
func (p StaticPrompt) SystemPrompt() string { return string(p) }

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the operator log.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithMaxMessages bounds the accepted history length.
func WithMaxMessages(n int) Option {
	return func(h *Handler) { h.maxMessages = n }
}

// WithMaxBodyBytes bounds the request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) { h.maxBodyBytes = n }
}

// Handler is the chat forwarding endpoint.
type Handler struct {
	gateway      Gateway
	prompt       PromptSource
	log          *slog.Logger
	maxMessages  int
	maxBodyBytes int64
}

// NewHandler creates the forwarding handler.
func NewHandler(gateway Gateway, prompt PromptSource, opts ...Option) *Handler {
	h := &Handler{
		gateway:      gateway,
		prompt:       prompt,
		log:          slog.Default(),
		maxMessages:  DefaultMaxMessages,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetCORSHeaders allows any origin to call the endpoint.
func SetCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	SetCORSHeaders(w.Header())

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodPost:
		h.forward(w, r)
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		response.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.gateway == nil || !h.gateway.IsConfigured() {
		h.log.ErrorContext(ctx, "chat proxy misconfigured", logger.Err(cloud.ErrNotConfigured))
		response.Error(w, http.StatusInternalServerError, cloud.ErrNotConfigured.Error())
		return
	}

	history, err := h.decode(w, r)
	if err != nil {
		h.log.WarnContext(ctx, "chat request rejected", logger.Err(err))
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.InfoContext(ctx, "forwarding chat", "message_count", len(history))

	outbound := make([]cloud.ChatMessage, 0, len(history)+1)
	outbound = append(outbound, cloud.NewSystemMessage(h.prompt.SystemPrompt()))
	outbound = append(outbound, history...)

	resp, err := h.gateway.Stream(ctx, outbound)
	if err != nil {
		h.writeGatewayError(ctx, w, err)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	n, err := relay(w, resp.Body)
	if err != nil && ctx.Err() == nil {
		h.log.WarnContext(ctx, "chat relay interrupted", "bytes", n, logger.Err(err))
		return
	}
	h.log.DebugContext(ctx, "chat relay finished", "bytes", n)
}

// decode reads the history, trusting only role and content.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request) ([]cloud.ChatMessage, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, errMissingBody
	}
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req struct {
		Messages []chat.WireMessage `json:"messages"`
	}
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errMissingBody
		}
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Messages == nil {
		return nil, errMissingMessages
	}
	if h.maxMessages > 0 && len(req.Messages) > h.maxMessages {
		return nil, fmt.Errorf("too many messages: %d (max %d)", len(req.Messages), h.maxMessages)
	}

	out := make([]cloud.ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
		out[i] = cloud.ChatMessage{Role: m.Role.String(), Content: m.Content}
	}
	return out, nil
}

func (h *Handler) writeGatewayError(ctx context.Context, w http.ResponseWriter, err error) {
	var ge *cloud.GatewayError
	if errors.As(err, &ge) {
		h.log.ErrorContext(ctx, "gateway error", "status", ge.Status, "body", ge.Body)
	} else {
		h.log.ErrorContext(ctx, "gateway request failed", logger.Err(err))
	}

	switch {
	case errors.Is(err, cloud.ErrRateLimited):
		response.Error(w, http.StatusTooManyRequests, MsgRateLimited)
	case errors.Is(err, cloud.ErrInsufficientCredits):
		response.Error(w, http.StatusPaymentRequired, MsgServiceUnavailable)
	case ge != nil:
		response.Error(w, http.StatusInternalServerError, MsgGatewayError)
	default:
		response.Error(w, http.StatusInternalServerError, err.Error())
	}
}

// relay copies src to w, flushing after every read so tokens reach the
// client as soon as the gateway sends them.
func relay(w http.ResponseWriter, src io.Reader) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, relayBufferSize)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			written, werr := w.Write(buf[:n])
			total += int64(written)
			if werr != nil {
				return total, werr
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return total, ferr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
