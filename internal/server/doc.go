// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server hosts the coachline HTTP API: the chat proxy plus the site
// content endpoints.
//
// # Endpoints
//
//   - POST /api/chat                    - streaming chat proxy (path configurable)
//   - GET  /health                      - health check
//   - GET  /api/content/{lang}          - all text entries for a language
//   - GET  /api/content/{lang}/{key}    - one text entry
//   - PUT  /api/content/{lang}/{key}    - write a text entry (admin)
//   - DELETE /api/content/{lang}/{key}  - delete a text entry (admin)
//   - GET  /api/images[/{key}]          - image slots
//   - PUT|DELETE /api/images/{key}      - write or delete an image slot (admin)
//   - GET  /api/content/events          - change notifications as server-sent events
//
// Every route answers CORS preflight with 200.
//
// # Middleware
//
// Recovery, request id, logging, CORS, rate limiting and security headers
// run in that order around every request. Admin routes additionally require
// a bearer token (bcrypt-hashed in config) and, optionally, a TOTP code.
//
// # Usage
//
//	srv := server.New(cfg.Server.Addr).
//		WithChat(cfg.Server.ChatPath, proxy.NewHandler(gateway, prompts)).
//		WithGateway(gateway).
//		WithContent(store).
//		WithAdmin(server.NewAdminAuth(cfg.Admin.TokenHash, cfg.Admin.TOTPSecret))
//	if err := srv.Run(ctx); err != nil {
//		return err
//	}
package server
