package service

import (
	"strings"
	"unicode/utf8"

	"github.com/South-Winder12138/mineru-service/model"
)

// headingMaxRunes is the length under which an unpunctuated line reads as a heading
const headingMaxRunes = 50

// ConvertToMarkdown promotes short lines without a closing period to second-level
// headings when mode asks for Markdown. Any other mode returns text unchanged.
// Lines are trimmed; blank lines stay blank.
func ConvertToMarkdown(text string, mode model.ExtractionMode) string {
	if mode != model.ModeMarkdown {
		return text
	}

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			out = append(out, "")
		case utf8.RuneCountInString(line) < headingMaxRunes &&
			!strings.HasSuffix(line, ".") && !strings.HasSuffix(line, "。"):
			out = append(out, "## "+line)
		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
