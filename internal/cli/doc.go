// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the coachline command line.
//
// # Commands
//
//   - serve: run the chat proxy and content API
//   - chat: interactive chat against a running proxy (--tui for full screen)
//   - ask: one-shot question, streamed to stdout
//   - content: read and edit the site content store
//   - config: show, initialize and validate configuration
//   - doctor: check configuration, gateway and proxy health
//
// Global flags --config, --log-level and --no-color apply to every command.
package cli
