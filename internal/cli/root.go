// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/morganforge/coachline/internal/config"
	"github.com/morganforge/coachline/internal/logger"
	"github.com/morganforge/coachline/internal/server"
)

// These are set by the linker during build.
var (
	Version = "dev"
	Commit  = "unknown"
)

// app carries state shared by every command.
type app struct {
	cfgPath  string
	logLevel string
	noColor  bool

	cfg *config.Config
	log *slog.Logger
	// logOut receives operator logs; stderr unless a test replaces it.
	logOut io.Writer
}

// load reads configuration and sets up logging and colors.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.noColor {
		cfg.Log.NoColor = true
	}
	a.cfg = cfg

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if a.logOut == nil {
		a.logOut = os.Stderr
	}
	a.log = logger.New(a.logOut, &logger.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		AddSource:  cfg.Log.Source,
		NoColor:    !ColorsEnabled(a.logOut, cfg.Log.NoColor),
	})
	slog.SetDefault(a.log)

	ConfigureColors(cmd.OutOrStdout(), cfg.Log.NoColor)
	return nil
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "coachline",
		Short: "Streaming coaching chat for the site",
		Long: `coachline runs the site's AI coaching chat: a proxy that forwards
conversations to the LLM gateway and a terminal client to talk to it.

Examples:
  coachline serve                       # start the proxy and content API
  coachline chat                        # chat in the terminal
  coachline ask "How many rest days per week?"
  coachline content set en hero.title "Train smarter"
  coachline doctor                      # check the setup`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgPath, "config", "c", "", "config file (default ~/.coachline/config.toml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newServeCommand(a),
		newChatCommand(a),
		newAskCommand(a),
		newContentCommand(a),
		newConfigCommand(a),
		newDoctorCommand(a),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "coachline %s (commit %s)\n", Version, Commit)
		},
	}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	server.Version = Version

	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		var exit *ExitError
		if errors.As(err, &exit) {
			if exit.Err != nil {
				fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), exit.Err)
			}
			return exit.Code
		}
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}

// ExitError ends the process with Code after printing Err, if any.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }
