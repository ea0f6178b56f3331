// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package proxy forwards chat histories from the website to the LLM gateway.
//
// The Handler accepts {"messages":[{"role","content"},...]}, prepends the
// coaching system prompt, asks the gateway for a streaming completion with
// the configured model, and relays the SSE body byte for byte. Gateway
// failures are normalized to {"error": "..."}:
//
//	gateway 429      -> 429 rate-limit message
//	gateway 402      -> 402 service-unavailable message
//	other non-2xx    -> 500 "AI service error"
//	bad request body -> 500 with the decoding error
//	no API key       -> 500 with the configuration error
//
// Every response, including the OPTIONS preflight, allows any origin.
package proxy
