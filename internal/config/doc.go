// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for coachline.
//
// Configuration is layered, later sources winning:
//   - Built-in defaults
//   - ~/.coachline/config.toml (or the --config path)
//   - a .env file in the working directory
//   - environment variables (COACHLINE_* and GATEWAY_API_KEY)
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//
// The system prompt can live in a file that is reloaded on change:
//
//	w, err := config.NewPromptWatcher(cfg.Assistant.PromptFile, cfg.Assistant.Prompt)
//	handler := proxy.NewHandler(gateway, w)
//	go w.Run(ctx)
package config
