// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/morganforge/coachline/internal/chat"
)

// errNoQuestion is returned when ask gets nothing to send.
var errNoQuestion = errors.New("no question given")

func newAskCommand(a *app) *cobra.Command {
	var (
		flags chatFlags
		raw   bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the reply",
		Long: `Send a single question to the coach.

Tokens are streamed to stdout as they arrive. On a terminal the finished
reply is rendered as markdown instead, unless --raw is given. Use "-" to
read the question from stdin.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := readQuestion(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctrl := a.newController(flags)
			defer ctrl.Close()

			render := !raw && IsTerminal(cmd.OutOrStdout())
			return runAsk(ctrl, question, cmd.OutOrStdout(), cmd.ErrOrStderr(), render)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&raw, "raw", false, "stream plain text even on a terminal")
	return cmd
}

func readQuestion(args []string, stdin io.Reader) (string, error) {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		question = strings.TrimSpace(string(data))
	}
	if question == "" {
		return "", errNoQuestion
	}
	return question, nil
}

// runAsk sends question and writes the reply to out. Failures become an
// ExitError carrying the user-facing notice.
func runAsk(ctrl *chat.Controller, question string, out, errOut io.Writer, render bool) error {
	var notice atomic.Pointer[chat.Notice]

	unsubscribe := ctrl.Subscribe(func(ev chat.Event) {
		switch ev.Kind {
		case chat.EventToken:
			if !render {
				fmt.Fprint(out, ev.Token)
			}
		case chat.EventNotice:
			n := ev.Notice
			notice.Store(&n)
		}
	})
	defer unsubscribe()

	if render {
		fmt.Fprintln(errOut, DimStyle.Render("Coach is typing…"))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(sig)
		close(sig)
	}()

	var cancelled atomic.Bool
	go func() {
		if _, ok := <-sig; ok && ctrl.Cancel() {
			cancelled.Store(true)
		}
	}()

	if !ctrl.Submit(question) {
		return errNoQuestion
	}
	ctrl.Wait()

	reply, ok := lastReply(ctrl.Messages())
	switch {
	case render && ok:
		fmt.Fprint(out, renderMarkdown(reply, TerminalWidth(out)-4))
	case !render && ok && !strings.HasSuffix(reply, "\n"):
		fmt.Fprintln(out)
	}

	if n := notice.Load(); n != nil {
		return &ExitError{Code: 1, Err: errors.New(n.Text)}
	}
	if cancelled.Load() {
		return &ExitError{Code: 130}
	}
	return nil
}
