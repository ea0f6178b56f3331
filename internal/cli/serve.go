// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/morganforge/coachline/internal/cloud"
	"github.com/morganforge/coachline/internal/config"
	"github.com/morganforge/coachline/internal/content"
	"github.com/morganforge/coachline/internal/proxy"
	"github.com/morganforge/coachline/internal/server"
	"github.com/morganforge/coachline/internal/service"
)

func newServeCommand(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat proxy and content API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a.cfg, a.log)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (overrides server.addr)")
	return cmd
}

// newGateway builds the gateway client from configuration.
func newGateway(cfg *config.Config) *cloud.GatewayClient {
	return cloud.NewGatewayClient(cfg.Gateway.APIKey).
		WithBaseURL(cfg.Gateway.URL).
		WithModel(cfg.Gateway.Model).
		WithTimeout(cfg.Gateway.Timeout).
		WithReferer(cfg.Gateway.Referer, cfg.Gateway.Title)
}

// runServe wires the server from cfg and runs it with the prompt watcher
// until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	gateway := newGateway(cfg)
	if gateway.IsConfigured() {
		log.Info("gateway configured", "url", gateway.BaseURL(), "model", gateway.Model(), "key", gateway.Fingerprint())
	} else {
		log.Warn("gateway API key missing; chat requests will fail until GATEWAY_API_KEY is set")
	}

	prompts, err := config.NewPromptWatcher(cfg.Assistant.PromptFile, cfg.Assistant.Prompt)
	if err != nil {
		return err
	}
	prompts.WithLogger(log)

	store, err := content.Open(ctx, cfg.Content.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ips, err := server.NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	handler := proxy.NewHandler(gateway, prompts,
		proxy.WithLogger(log),
		proxy.WithMaxMessages(cfg.Server.MaxMessages),
		proxy.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)

	srv := server.New(cfg.Server.Addr).
		WithLogger(log).
		WithChat(cfg.Server.ChatPath, handler).
		WithGateway(gateway).
		WithContent(store).
		WithAdmin(server.NewAdminAuth(cfg.Admin.TokenHash, cfg.Admin.TOTPSecret).WithLogger(log)).
		WithClientIP(ips).
		WithShutdownTimeout(cfg.Server.ShutdownTimeout)
	if cfg.Server.RateLimit > 0 {
		srv.WithRateLimiter(server.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}

	group := service.Group{
		service.Func{ServiceName: "http", Fn: srv.Run},
		service.Func{ServiceName: "prompt-watcher", Fn: prompts.Run},
	}
	return group.Run(ctx)
}
