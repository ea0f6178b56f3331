// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package ui is the full-screen terminal chat built on Bubble Tea.

The model renders the transcript held by a chat controller. Controller
events are not applied one by one: a listener coalesces them into a single
wake-up and the model re-reads transcript and state on each refresh, so a
burst of tokens costs one render.

# Keys

	Enter        send the message
	Alt+Enter    insert a newline
	Esc / Ctrl+C cancel the reply in progress
	Ctrl+C       quit when idle (also Ctrl+D)
	Ctrl+L       clear the conversation
	PgUp / PgDn  scroll

Completed coach replies are rendered as markdown with glamour. The reply
being streamed is shown as plain wrapped text until it finishes.
*/
package ui
