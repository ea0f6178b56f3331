// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the client side of the coaching assistant chat.
//
// A Controller owns one conversation transcript. Submitting a message sends
// the whole transcript to the chat proxy, then decodes the streamed SSE reply
// incrementally and appends each content token to an in-flight assistant
// message. Renderers observe the controller through Subscribe.
//
// # Key Types
//
//   - Controller: transcript owner and Idle/Sending/Streaming state machine
//   - Transcript: ordered user/assistant messages sent back on every turn
//   - Decoder: incremental UTF-8 and SSE line decoder
//   - ChunkSource: pull iterator over response body chunks
//   - Transport: opens a stream for a transcript (HTTPTransport talks to the proxy)
//
// # Usage
//
//	ctrl := chat.New(chat.NewHTTPTransport("http://localhost:8787/api/chat"))
//	unsubscribe := ctrl.Subscribe(func(ev chat.Event) {
//	    if ev.Kind == chat.EventToken {
//	        fmt.Print(ev.Token)
//	    }
//	})
//	defer unsubscribe()
//
//	if ctrl.Submit("How many rest days per week?") {
//	    ctrl.Wait()
//	}
package chat
