// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

const markdownWrap = 80

// renderMarkdown renders md for the terminal. Rendering failures fall back
// to the raw text; challenge text is never lost over styling.
func renderMarkdown(md string, plain bool) string {
	if plain {
		return strings.TrimSpace(md) + "\n"
	}
	style := glamour.WithAutoStyle()
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(markdownWrap))
	if err != nil {
		return strings.TrimSpace(md) + "\n"
	}
	out, err := r.Render(md)
	if err != nil {
		return strings.TrimSpace(md) + "\n"
	}
	return out
}
