// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go runs environment health checks.
//
// Checks performed:
//  1. Config valid       - config.Validate passes
//  2. Gateway key        - an API key is configured
//  3. Gateway reachable  - the gateway answers a model listing
//  4. Chat proxy         - GET /health on the chat endpoint's host
//  5. Content store      - the content database opens and migrates
//  6. System prompt      - the prompt file, if set, is readable
//
// Exit code is 1 when any check fails. Warnings do not fail.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/morganforge/coachline/internal/config"
	"github.com/morganforge/coachline/internal/content"
)

// CheckStatus is the outcome of one health check.
type CheckStatus int

const (
	CheckPass CheckStatus = iota
	CheckWarn
	CheckFail
)

func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status by name.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// HealthCheck is a single check result.
type HealthCheck struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Fix     string      `json:"fix,omitempty"`
}

// Render formats the check for a terminal.
func (c *HealthCheck) Render() string {
	line := fmt.Sprintf("%s %s %s", RenderStatus(c.Status.String()), RenderLabel(c.Name), ValueStyle.Render(c.Message))
	if c.Status != CheckPass && c.Fix != "" {
		line += "\n" + DimStyle.Render("    -> "+c.Fix)
	}
	return line
}

func newDoctorCommand(a *app) *cobra.Command {
	var (
		asJSON  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag"},
		Short:   "Run health checks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checks := runChecks(cmd.Context(), a.cfg, timeout)
			out := cmd.OutOrStdout()

			var failed int
			for _, c := range checks {
				if c.Status == CheckFail {
					failed++
				}
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(checks); err != nil {
					return err
				}
			} else {
				printChecks(out, checks)
			}
			if failed > 0 {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "timeout for each network check")
	return cmd
}

func printChecks(w io.Writer, checks []*HealthCheck) {
	fmt.Fprintln(w, TitleStyle.Render("Coachline Doctor"))
	for _, c := range checks {
		fmt.Fprintln(w, c.Render())
	}
	fmt.Fprintln(w, RenderSeparator(41))

	counts := map[CheckStatus]int{}
	for _, c := range checks {
		counts[c.Status]++
	}
	parts := []string{fmt.Sprintf("%d passed", counts[CheckPass])}
	if n := counts[CheckWarn]; n > 0 {
		parts = append(parts, WarningStyle.Render(fmt.Sprintf("%d warning", n)))
	}
	if n := counts[CheckFail]; n > 0 {
		parts = append(parts, ErrorStyle.Render(fmt.Sprintf("%d failed", n)))
	}
	fmt.Fprintln(w, strings.Join(parts, ", "))
}

func runChecks(ctx context.Context, cfg *config.Config, timeout time.Duration) []*HealthCheck {
	return []*HealthCheck{
		checkConfig(cfg),
		checkGatewayKey(cfg),
		checkGatewayReachable(ctx, cfg, timeout),
		checkChatProxy(ctx, cfg.Chat.Endpoint, timeout),
		checkContentStore(ctx, cfg.Content.DBPath),
		checkPrompt(cfg),
	}
}

func checkConfig(cfg *config.Config) *HealthCheck {
	c := &HealthCheck{Name: "config"}
	if err := cfg.Validate(); err != nil {
		c.Status = CheckFail
		c.Message = strings.ReplaceAll(strings.TrimSpace(err.Error()), "\n", "; ")
		c.Fix = "coachline config validate"
		return c
	}
	c.Message = "valid"
	return c
}

func checkGatewayKey(cfg *config.Config) *HealthCheck {
	c := &HealthCheck{Name: "gateway key"}
	if strings.TrimSpace(cfg.Gateway.APIKey) == "" {
		c.Status = CheckWarn
		c.Message = "not set; chat requests will fail"
		c.Fix = "export GATEWAY_API_KEY=..."
		return c
	}
	c.Message = "set (" + newGateway(cfg).Fingerprint() + ")"
	return c
}

func checkGatewayReachable(ctx context.Context, cfg *config.Config, timeout time.Duration) *HealthCheck {
	c := &HealthCheck{Name: "gateway"}
	gw := newGateway(cfg)
	if !gw.IsConfigured() {
		c.Status = CheckWarn
		c.Message = "skipped, no API key"
		return c
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := gw.Ping(ctx); err != nil {
		c.Status = CheckFail
		c.Message = err.Error()
		c.Fix = "check gateway.url and the API key"
		return c
	}
	c.Message = gw.BaseURL() + " (" + gw.Model() + ")"
	return c
}

// healthURL maps a chat endpoint to the /health route on the same host.
func healthURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/health"}).String(), nil
}

func checkChatProxy(ctx context.Context, endpoint string, timeout time.Duration) *HealthCheck {
	c := &HealthCheck{Name: "chat proxy"}
	target, err := healthURL(endpoint)
	if err != nil {
		c.Status = CheckFail
		c.Message = err.Error()
		c.Fix = "set chat.endpoint"
		return c
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.Status = CheckFail
		c.Message = err.Error()
		return c
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.Status = CheckWarn
		c.Message = "not reachable at " + target
		c.Fix = "coachline serve"
		return c
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		c.Status = CheckFail
		c.Message = fmt.Sprintf("%s returned %d", target, resp.StatusCode)
		return c
	}

	health := gjson.ParseBytes(body)
	status := health.Get("status").String()
	c.Message = fmt.Sprintf("%s (%s, version %s)", target, status, health.Get("version").String())
	if status != "ok" {
		c.Status = CheckWarn
		if !health.Get("gateway_configured").Bool() {
			c.Fix = "the server has no gateway key"
		}
	}
	return c
}

func checkContentStore(ctx context.Context, path string) *HealthCheck {
	c := &HealthCheck{Name: "content store"}
	store, err := content.Open(ctx, path)
	if err != nil {
		c.Status = CheckFail
		c.Message = err.Error()
		c.Fix = "check content.db_path"
		return c
	}
	defer store.Close()
	images, err := store.Images(ctx)
	if err != nil {
		c.Status = CheckFail
		c.Message = err.Error()
		return c
	}
	c.Message = fmt.Sprintf("%s (%d images)", path, len(images))
	return c
}

func checkPrompt(cfg *config.Config) *HealthCheck {
	c := &HealthCheck{Name: "system prompt"}
	w, err := config.NewPromptWatcher(cfg.Assistant.PromptFile, cfg.Assistant.Prompt)
	if err != nil {
		c.Status = CheckFail
		c.Message = err.Error()
		c.Fix = "check assistant.prompt_file"
		return c
	}
	source := "inline"
	if w.Path() != "" {
		source = w.Path()
	}
	c.Message = fmt.Sprintf("%s, %d chars", source, len([]rune(w.SystemPrompt())))
	if strings.TrimSpace(w.SystemPrompt()) == "" {
		c.Status = CheckWarn
		c.Message = "empty"
	}
	return c
}
