package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/South-Winder12138/mineru-service/model"
)

func TestConvertToMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "short heading and sentence",
			in:   "Report\nThis line describes results.",
			want: "## Report\nThis line describes results.",
		},
		{
			name: "blank lines kept",
			in:   "Title\n\n   \nBody ends here.",
			want: "## Title\n\n\nBody ends here.",
		},
		{
			name: "chinese full stop is terminal",
			in:   "结论。\n摘要",
			want: "结论。\n## 摘要",
		},
		{
			name: "lines are trimmed",
			in:   "  Overview  ",
			want: "## Overview",
		},
		{
			name: "long line without period is kept",
			in:   strings.Repeat("a", 50),
			want: strings.Repeat("a", 50),
		},
		{
			name: "49 runes is a heading",
			in:   strings.Repeat("字", 49),
			want: "## " + strings.Repeat("字", 49),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConvertToMarkdown(tt.in, model.ModeMarkdown))
		})
	}
}

func TestConvertToMarkdownOtherModes(t *testing.T) {
	in := "Report\nThis line describes results."
	for _, mode := range []model.ExtractionMode{model.ModeTextOnly, model.ModeTextLayout, model.ModeStructured} {
		assert.Equal(t, in, ConvertToMarkdown(in, mode), string(mode))
	}
}
