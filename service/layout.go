package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Letter page geometry in points, with the cursor measured from the bottom edge.
const (
	pageHeight   = 792.0
	pageMargin   = 50.0
	lineHeight   = 14.0
	fontSize     = 12.0
	cursorTop    = pageHeight - pageMargin
	cursorBottom = pageMargin

	// wrapWidth is the rune count past which office paragraphs are word-wrapped
	wrapWidth = 80
	// truncateWidth is the rune cap for a single plain-text line
	truncateWidth = 100

	unicodeFamily = "body"
)

// PageWriter lays lines out top to bottom on Letter pages, starting a new page
// whenever the cursor crosses the bottom margin. Every converter renders through it.
type PageWriter struct {
	pdf     *fpdf.Fpdf
	family  string
	unicode bool
	cursor  float64
	lines   int
	dropped int
}

// NewPageWriter writes with the built-in Helvetica, which only covers cp1252
func NewPageWriter() *PageWriter {
	w := &PageWriter{pdf: newLetterPDF(), family: "Helvetica"}
	w.newPage()
	return w
}

// NewUnicodePageWriter embeds the TrueType font at fontPath so that any rune
// the font has a glyph for (CJK included) survives into the PDF text layer.
func NewUnicodePageWriter(fontPath string) (*PageWriter, error) {
	if _, err := os.Stat(fontPath); err != nil {
		return nil, fmt.Errorf("failed to read font: %w", err)
	}
	pdf := newLetterPDF()
	pdf.AddUTF8Font(unicodeFamily, "", fontPath)
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to load font %s: %w", fontPath, err)
	}
	w := &PageWriter{pdf: pdf, family: unicodeFamily, unicode: true}
	w.newPage()
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to load font %s: %w", fontPath, err)
	}
	return w, nil
}

// newPageWriterFor picks the unicode writer when a font is configured
func newPageWriterFor(fontPath string) (*PageWriter, error) {
	if fontPath == "" {
		return NewPageWriter(), nil
	}
	return NewUnicodePageWriter(fontPath)
}

func newLetterPDF() *fpdf.Fpdf {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetAutoPageBreak(false, 0)
	return pdf
}

func (w *PageWriter) newPage() {
	w.pdf.AddPage()
	w.pdf.SetFont(w.family, "", fontSize)
	w.cursor = cursorTop
}

// WriteLine emits one line at the cursor. Without a unicode font, runes outside
// cp1252 are dropped and counted.
func (w *PageWriter) WriteLine(line string) {
	if w.cursor < cursorBottom {
		w.newPage()
	}
	text := strings.ReplaceAll(line, "\r", "")
	if !w.unicode {
		var dropped int
		text, dropped = encodeWinAnsi(text)
		w.dropped += dropped
	}
	w.pdf.Text(pageMargin, pageHeight-w.cursor, text)
	w.cursor -= lineHeight
	w.lines++
}

// Dropped is the number of runes left out because the font could not encode them
func (w *PageWriter) Dropped() int {
	return w.dropped
}

// PageCount is the number of pages started so far
func (w *PageWriter) PageCount() int {
	return w.pdf.PageCount()
}

// Save writes the document to path
func (w *PageWriter) Save(path string) error {
	if err := w.pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}

// encodeWinAnsi converts UTF-8 to the cp1252 bytes the core fonts expect,
// reporting how many runes had no cp1252 code. Carriage returns are not counted.
func encodeWinAnsi(s string) (string, int) {
	var b strings.Builder
	b.Grow(len(s))
	dropped := 0
	for _, r := range s {
		if r == '\r' {
			continue
		}
		if enc, ok := charmap.Windows1252.EncodeRune(r); ok {
			b.WriteByte(enc)
		} else {
			dropped++
		}
	}
	return b.String(), dropped
}

// truncateRunes caps s at n runes
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// wrapWords splits a long line on spaces so that each piece stays under width runes.
// Lines at or under width are returned untouched.
func wrapWords(line string, width int) []string {
	if utf8.RuneCountInString(line) <= width {
		return []string{line}
	}

	var out []string
	var current strings.Builder
	for _, word := range strings.Split(line, " ") {
		if utf8.RuneCountInString(current.String())+utf8.RuneCountInString(word) < width {
			current.WriteString(word)
			current.WriteByte(' ')
			continue
		}
		if current.Len() > 0 {
			out = append(out, strings.TrimSpace(current.String()))
		}
		current.Reset()
		current.WriteString(word)
		current.WriteByte(' ')
	}
	if current.Len() > 0 {
		out = append(out, strings.TrimSpace(current.String()))
	}
	return out
}

// splitLines normalises line endings before splitting
func splitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	return strings.Split(content, "\n")
}

// decodeText reads UTF-8, falling back to GBK for legacy Chinese text files
func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode text as utf-8 or gbk: %w", err)
	}
	return string(decoded), nil
}

// scratchPDF creates a fresh scratch directory and the PDF path inside it named after src
func scratchPDF(prefix, src string) (dir, pdfPath string, err error) {
	dir, err = os.MkdirTemp("", prefix)
	if err != nil {
		return "", "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return dir, filepath.Join(dir, stem+".pdf"), nil
}
