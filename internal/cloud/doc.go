// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud is the client for the external chat-completions gateway.
//
// The gateway speaks the OpenAI-compatible chat completions protocol. This
// package only opens streaming requests and classifies failures; the stream
// body itself is relayed untouched by the proxy.
//
// # Key Types
//
//   - GatewayClient: authenticated client for the gateway's /chat/completions
//   - ChatRequest, ChatMessage: outbound request shape
//   - GatewayError: non-2xx answer, matchable with errors.Is against
//     ErrRateLimited, ErrInsufficientCredits and ErrAuthFailed
//
// # Usage
//
//	client := cloud.NewGatewayClient(apiKey).WithModel("google/gemini-2.5-flash")
//	resp, err := client.Stream(ctx, []cloud.ChatMessage{
//	    cloud.NewSystemMessage(prompt),
//	    cloud.NewUserMessage("Is creatine safe?"),
//	})
//	if err != nil {
//	    return err
//	}
//	defer resp.Body.Close()
//
// # Security
//
// The API key is only ever sent in the Authorization header and is never
// logged; use Fingerprint to identify a key in diagnostics.
package cloud
