// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/morganforge/coachline/internal/content"
)

func newContentCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Read and edit the site content store",
		Long: `Manage the localized site copy and image slots stored in the content
database (content.db_path). Writes are picked up live by a running server.`,
	}

	withStore := func(run func(cmd *cobra.Command, store *content.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			store, err := content.Open(cmd.Context(), a.cfg.Content.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			return run(cmd, store, args)
		}
	}

	list := &cobra.Command{
		Use:   "list <lang>",
		Short: "List every entry for a language",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, store *content.Store, args []string) error {
			entries, err := store.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, DimStyle.Render("No entries."))
				return nil
			}
			keyWidth := 0
			for _, e := range entries {
				keyWidth = max(keyWidth, len(e.Key))
			}
			valueWidth := max(TerminalWidth(out)-keyWidth-3, 20)
			for _, e := range entries {
				value := strings.Join(strings.Fields(e.Value), " ")
				fmt.Fprintf(out, "%s  %s\n", LabelStyle.Width(keyWidth).Render(e.Key), Truncate(value, valueWidth))
			}
			return nil
		}),
	}

	get := &cobra.Command{
		Use:   "get <lang> <key>",
		Short: "Print one entry",
		Args:  cobra.ExactArgs(2),
		RunE: withStore(func(cmd *cobra.Command, store *content.Store, args []string) error {
			e, err := store.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.Value)
			return nil
		}),
	}

	set := &cobra.Command{
		Use:   "set <lang> <key> <value|->",
		Short: `Write one entry ("-" reads the value from stdin)`,
		Args:  cobra.MinimumNArgs(3),
		RunE: withStore(func(cmd *cobra.Command, store *content.Store, args []string) error {
			value := strings.Join(args[2:], " ")
			if value == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				value = strings.TrimRight(string(data), "\n")
			}
			e, err := store.Put(cmd.Context(), content.Entry{Lang: args[0], Key: args[1], Value: value})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s\n", RenderStatus("ok"), e.Lang, e.Key)
			return nil
		}),
	}

	del := &cobra.Command{
		Use:     "delete <lang> <key>",
		Aliases: []string{"rm"},
		Short:   "Delete one entry",
		Args:    cobra.ExactArgs(2),
		RunE: withStore(func(cmd *cobra.Command, store *content.Store, args []string) error {
			if err := store.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted %s/%s\n", RenderStatus("ok"), args[0], args[1])
			return nil
		}),
	}

	cmd.AddCommand(list, get, set, del, newImageCommand(withStore))
	return cmd
}

func newImageCommand(withStore func(func(*cobra.Command, *content.Store, []string) error) func(*cobra.Command, []string) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Manage image slots",
	}

	var alt string
	set := &cobra.Command{
		Use:   "set <key> <url>",
		Short: "Point an image slot at a URL",
		Args:  cobra.ExactArgs(2),
		RunE: withStore(func(cmd *cobra.Command, store *content.Store, args []string) error {
			img, err := store.PutImage(cmd.Context(), content.Image{Key: args[0], URL: args[1], Alt: alt})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s image %s\n", RenderStatus("ok"), img.Key)
			return nil
		}),
	}
	set.Flags().StringVar(&alt, "alt", "", "alt text")

	list := &cobra.Command{
		Use:   "list",
		Short: "List image slots",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, store *content.Store, args []string) error {
			images, err := store.Images(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, img := range images {
				fmt.Fprintf(out, "%s  %s  %s\n", PadRight(img.Key, 16), img.URL, DimStyle.Render(img.Alt))
			}
			return nil
		}),
	}

	del := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete an image slot",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, store *content.Store, args []string) error {
			if err := store.DeleteImage(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted image %s\n", RenderStatus("ok"), args[0])
			return nil
		}),
	}

	cmd.AddCommand(set, list, del)
	return cmd
}
