// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/morganforge/coachline/internal/chat"
	"github.com/morganforge/coachline/internal/export"
	"github.com/morganforge/coachline/internal/ui"
)

// chatFlags are shared by chat and ask.
type chatFlags struct {
	endpoint string
	locale   string
	idle     time.Duration
}

func (f *chatFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.endpoint, "endpoint", "e", "", "chat proxy URL (overrides chat.endpoint)")
	cmd.Flags().StringVar(&f.locale, "locale", "", "language for notices (overrides chat.locale)")
	cmd.Flags().DurationVar(&f.idle, "idle-timeout", 0, "abort a reply after this long without data")
}

// newController builds a controller against the configured proxy.
func (a *app) newController(f chatFlags) *chat.Controller {
	endpoint := a.cfg.Chat.Endpoint
	if f.endpoint != "" {
		endpoint = f.endpoint
	}
	locale := a.locale(f)
	idle := a.cfg.Chat.IdleTimeout
	if f.idle > 0 {
		idle = f.idle
	}

	transport := chat.NewHTTPTransport(endpoint).WithUserAgent("coachline/" + Version)
	return chat.New(transport,
		chat.WithIdleTimeout(idle),
		chat.WithLocale(locale),
		chat.WithLogger(a.log),
	)
}

func (a *app) locale(f chatFlags) string {
	if f.locale != "" {
		return f.locale
	}
	return a.cfg.Chat.Locale
}

func newChatCommand(a *app) *cobra.Command {
	var (
		flags chatFlags
		tui   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the coach in the terminal",
		Long: `Start an interactive chat against the coachline proxy.

Ctrl+C while the coach is replying stops the reply; at the prompt it exits.
Type /help for commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tui {
				// stderr output would tear the full-screen view.
				a.log = slog.New(slog.DiscardHandler)
			}
			ctrl := a.newController(flags)
			defer ctrl.Close()

			if tui {
				return ui.Run(cmd.Context(), ctrl)
			}

			r := newREPL(ctrl, cmd.OutOrStdout(), a.cfg.Chat.HistoryFile)
			r.locale = a.locale(flags)
			defer r.close()
			return r.run()
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&tui, "tui", false, "full-screen interface")
	return cmd
}

// =============================================================================
// REPL
// =============================================================================

// repl is the line-oriented chat loop.
type repl struct {
	ctrl        *chat.Controller
	out         io.Writer
	line        *liner.State
	historyFile string
	locale      string
	printer     *streamPrinter
	unsubscribe func()
}

func newREPL(ctrl *chat.Controller, out io.Writer, historyFile string) *repl {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &repl{
		ctrl:        ctrl,
		out:         out,
		line:        line,
		historyFile: historyFile,
		printer:     newStreamPrinter(out),
	}
	r.unsubscribe = ctrl.Subscribe(r.printer.handle)
	r.loadHistory()
	return r
}

func (r *repl) loadHistory() {
	if r.historyFile == "" {
		return
	}
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
}

func (r *repl) saveHistory() {
	if r.historyFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	r.line.WriteHistory(f)
}

func (r *repl) close() {
	r.unsubscribe()
	r.saveHistory()
	r.line.Close()
}

func (r *repl) run() error {
	fmt.Fprintln(r.out, TitleStyle.Render("Coachline chat"))
	fmt.Fprintln(r.out, DimStyle.Render("Ask about training, nutrition or recovery. /help for commands, Ctrl+D to quit."))

	for {
		// A failed turn hands the unsent text back; offer it for editing.
		input, err := r.line.PromptWithSuggestion(PromptStyle.Render("you> "), r.ctrl.Input(), -1)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				r.printSummary()
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if !r.command(input) {
				r.printSummary()
				return nil
			}
			continue
		}

		r.send(input)
	}
}

// send runs one turn, letting Ctrl+C cancel it.
func (r *repl) send(text string) {
	if !r.ctrl.Submit(text) {
		return
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	done := make(chan struct{})
	go func() {
		r.ctrl.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-sig:
		if r.ctrl.Cancel() {
			<-done
			fmt.Fprintln(r.out, WarningStyle.Render("[Cancelled]"))
		}
	}
}

// command handles a slash command and reports whether to keep going.
func (r *repl) command(input string) bool {
	name, _, _ := strings.Cut(input, " ")
	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		return false

	case "/help", "/?":
		r.printHelp()

	case "/clear":
		if r.ctrl.Reset() {
			fmt.Fprintln(r.out, DimStyle.Render("Conversation cleared."))
		}

	case "/history":
		r.printHistory()

	case "/save":
		r.save(strings.Fields(input)[1:])

	case "/stats":
		st := r.ctrl.Stats()
		fmt.Fprintf(r.out, "%s %d  %s %d  %s %d  %s %d  %s %d\n",
			DimStyle.Render("turns"), st.Turns,
			DimStyle.Render("completed"), st.Completed,
			DimStyle.Render("failed"), st.Failed,
			DimStyle.Render("cancelled"), st.Cancelled,
			DimStyle.Render("tokens"), st.Tokens)

	default:
		fmt.Fprintf(r.out, "%s unknown command %s (try /help)\n", ErrorStyle.Render("[Error]"), name)
	}
	return true
}

func (r *repl) printHelp() {
	rows := [][2]string{
		{"/help", "show this help"},
		{"/history", "list the conversation so far"},
		{"/save", "save the conversation: /save [md|json] [dir]"},
		{"/clear", "start a new conversation"},
		{"/stats", "show turn counters"},
		{"/quit", "leave the chat"},
	}
	for _, row := range rows {
		fmt.Fprintf(r.out, "  %s %s\n", PromptStyle.Render(PadRight(row[0], 10)), row[1])
	}
}

func (r *repl) printHistory() {
	msgs := r.ctrl.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No messages yet."))
		return
	}
	width := TerminalWidth(r.out) - 10
	for _, m := range msgs {
		text := strings.Join(strings.Fields(m.Content), " ")
		label := UserStyle.Render(PadRight(m.Role.DisplayName(), 6))
		if m.Role == chat.RoleAssistant {
			label = CoachStyle.Render(PadRight(m.Role.DisplayName(), 6))
		}
		fmt.Fprintf(r.out, "%s %s\n", label, Truncate(text, width))
	}
}

// save writes the transcript with args [format] [dir].
func (r *repl) save(args []string) {
	var format, dir string
	if len(args) > 0 {
		format = args[0]
	}
	if len(args) > 1 {
		dir = args[1]
	}

	exporter, err := export.ForFormat(format)
	if err != nil {
		fmt.Fprintf(r.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		return
	}
	path, err := export.WriteFile(export.New(r.ctrl.Messages(), r.locale), exporter, dir)
	switch {
	case errors.Is(err, export.ErrEmpty):
		fmt.Fprintln(r.out, DimStyle.Render("Nothing to save yet."))
	case err != nil:
		fmt.Fprintf(r.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
	default:
		fmt.Fprintf(r.out, "%s saved %s\n", RenderStatus("ok"), path)
	}
}

func (r *repl) printSummary() {
	st := r.ctrl.Stats()
	if st.Turns == 0 {
		return
	}
	fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("%d turns, %d tokens. See you next session.", st.Turns, st.Tokens)))
}
