// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/morganforge/coachline/internal/config"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage configuration",
	}
	cmd.AddCommand(
		newConfigShowCommand(a),
		newConfigInitCommand(a),
		newConfigValidateCommand(a),
		newHashTokenCommand(),
		newTOTPCommand(),
	)
	return cmd
}

func newConfigShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [key]",
		Short: "Print the effective configuration (secrets redacted)",
		Example: `  coachline config show
  coachline config show gateway.model`,
		Args: cobra.MaximumNArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return config.Keys(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprint(out, a.cfg.String())
				return nil
			}
			v, err := a.cfg.Lookup(args[0])
			if err != nil {
				return err
			}
			if reflect.ValueOf(v).Kind() == reflect.Struct {
				return toml.NewEncoder(out).Encode(v)
			}
			fmt.Fprintln(out, v)
			return nil
		},
	}
}

func newConfigInitCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfgPath
			if path == "" {
				var err error
				if path, err = config.DefaultPath(); err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", RenderStatus("ok"), path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for mistakes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			err := a.cfg.Validate()
			if err == nil {
				fmt.Fprintf(out, "%s configuration is valid\n", RenderStatus("ok"))
				return nil
			}
			var merr *multierror.Error
			if errors.As(err, &merr) {
				for _, e := range merr.Errors {
					fmt.Fprintf(out, "%s %v\n", RenderStatus("fail"), e)
				}
			} else {
				fmt.Fprintf(out, "%s %v\n", RenderStatus("fail"), err)
			}
			return &ExitError{Code: 1}
		},
	}
}

// newHashTokenCommand prints a bcrypt hash for admin.token_hash. Without an
// argument a random token is generated and printed alongside its hash.
func newHashTokenCommand() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Hash an admin bearer token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				var err error
				if token, err = gonanoid.New(32); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s\n", RenderLabel("token"), token)
			}
			if strings.TrimSpace(token) == "" {
				return errors.New("token must not be blank")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", RenderLabel("token_hash"), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func newTOTPCommand() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "totp",
		Short: "Generate a TOTP secret for admin writes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := totp.Generate(totp.GenerateOpts{
				Issuer:      "Coachline",
				AccountName: account,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", RenderLabel("totp_secret"), key.Secret())
			fmt.Fprintf(out, "%s %s\n", RenderLabel("otpauth url"), key.URL())
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "admin", "account name shown in the authenticator app")
	return cmd
}
