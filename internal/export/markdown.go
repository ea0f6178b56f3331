// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MarkdownExporter writes a transcript as Markdown with YAML frontmatter.
type MarkdownExporter struct {
	// OmitTimestamps drops the per-message times from headings.
	OmitTimestamps bool
}

type frontmatter struct {
	Title     string `yaml:"title"`
	Date      string `yaml:"date"`
	Locale    string `yaml:"locale,omitempty"`
	Messages  int    `yaml:"messages"`
	Exported  string `yaml:"exported"`
	Generator string `yaml:"generator"`
}

// Export implements Exporter.
func (e *MarkdownExporter) Export(t *Transcript) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	fm, err := yaml.Marshal(frontmatter{
		Title:     t.Title,
		Date:      t.CreatedAt.Format(time.RFC3339),
		Locale:    t.Locale,
		Messages:  len(t.Messages),
		Exported:  time.Now().Format(time.RFC3339),
		Generator: "coachline",
	})
	if err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(fm)
	sb.WriteString("---\n\n")
	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(strings.Join(strings.Fields(t.Title), " ")))

	for i, m := range t.Messages {
		if e.OmitTimestamps || m.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, "### %s\n\n", m.Role.DisplayName())
		} else {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", m.Role.DisplayName(), m.CreatedAt.Format("15:04:05"))
		}
		sb.WriteString(strings.TrimSpace(m.Content))
		sb.WriteString("\n\n")
		if i < len(t.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}
	return []byte(sb.String()), nil
}

// FileExtension implements Exporter.
func (e *MarkdownExporter) FileExtension() string { return ".md" }

// escapeMarkdown escapes characters that would change a heading's formatting.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer(
		"#", `\#`,
		"*", `\*`,
		"_", `\_`,
		"[", `\[`,
		"]", `\]`,
	)
	return r.Replace(s)
}
