package terminal

import (
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const defaultWidth = 100

var (
	leadingSpace  = regexp.MustCompile(`^(?:\x1b\[[0-9;]*m|\s)*`)
	trailingSpace = regexp.MustCompile(`(?:\x1b\[[0-9;]*m|\s)*$`)
)

// Width reports the column count of w if it is a terminal.
func Width(w io.Writer) (int, bool) {
	file, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return 0, false
	}

	width, _, err := term.GetSize(int(file.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth, true
	}
	return width, true
}

// FormatMarkdown renders content for a terminal of the given width. The
// content is returned unchanged if it cannot be rendered.
func FormatMarkdown(content string, width int) string {
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"), // avoid OSC background queries
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	out, err := md.Render(content)
	if err != nil {
		return content
	}
	return trimWhitespaceWithANSI(out)
}

func trimWhitespaceWithANSI(s string) string {
	s = leadingSpace.ReplaceAllString(s, "")
	return trailingSpace.ReplaceAllString(s, "")
}

// FirstLine returns the first non-blank line of text.
func FirstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return line
}
