package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/South-Winder12138/mineru-service/config"
	"github.com/South-Winder12138/mineru-service/model"
	"github.com/South-Winder12138/mineru-service/pkg/logger"
)

// Conversion methods recorded in result metadata
const (
	MethodOfficeRenderer = "libreoffice"
	MethodNativeDocx     = "native_docx"
	MethodTextLayout     = "text_layout"
	MethodXMLLayout      = "xml_layout"
	MethodXMLRawText     = "xml_raw_text"
)

// Artifact is an intermediate PDF living in its own scratch directory
type Artifact struct {
	Path   string
	Dir    string
	Method string
	Pages  int
	// Dropped counts runes the page font could not encode
	Dropped int
}

// Cleanup removes the scratch directory and everything in it
func (a *Artifact) Cleanup() error {
	if a == nil || a.Dir == "" {
		return nil
	}
	return os.RemoveAll(a.Dir)
}

// Converter turns a stored upload into an intermediate PDF
type Converter interface {
	Convert(ctx context.Context, inputPath string) (*Artifact, error)
}

// Converters selects the converter strategy for each convert-first document type
type Converters struct {
	byType map[model.DocumentType]Converter
}

// NewConverters wires the office renderer and the text layouts. layout.FontPath,
// when set, is embedded so non-Latin text survives conversion.
func NewConverters(office *config.OfficeConfig, layout *config.LayoutConfig) *Converters {
	font := ""
	if layout != nil {
		font = layout.FontPath
	}
	oc := &OfficeConverter{Binary: office.Binary, Timeout: office.Timeout, FontPath: font}
	return &Converters{byType: map[model.DocumentType]Converter{
		model.DocDOCX: oc,
		model.DocDOC:  oc,
		model.DocTXT:  TextConverter{FontPath: font},
		model.DocXML:  XMLConverter{FontPath: font},
	}}
}

// For returns the converter for t
func (c *Converters) For(t model.DocumentType) (Converter, bool) {
	conv, ok := c.byType[t]
	return conv, ok
}

// renderLines lays lines out through the shared page writer into a fresh scratch PDF
func renderLines(src, method, fontPath string, lines []string) (*Artifact, error) {
	w, err := newPageWriterFor(fontPath)
	if err != nil {
		return nil, err
	}
	dir, pdfPath, err := scratchPDF("mineru-convert-*", src)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		w.WriteLine(line)
	}
	if err := w.Save(pdfPath); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &Artifact{Path: pdfPath, Dir: dir, Method: method, Pages: w.PageCount(), Dropped: w.Dropped()}, nil
}

// isMissingBinary reports whether a subprocess failed because the executable does not exist
func isMissingBinary(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// OfficeConverter renders Word documents with a headless office suite, falling
// back to a native DOCX text layout when the renderer is missing or fails.
type OfficeConverter struct {
	Binary   string
	Timeout  time.Duration
	FontPath string
}

func (c *OfficeConverter) Convert(ctx context.Context, inputPath string) (*Artifact, error) {
	ext := strings.ToLower(filepath.Ext(inputPath))

	art, err := c.render(ctx, inputPath)
	if err == nil {
		return art, nil
	}
	if isMissingBinary(err) {
		logger.Warn(ctx, "office renderer not installed, using native docx layout", "binary", c.Binary)
	} else {
		logger.Warn(ctx, "office renderer failed, using native docx layout", "error", err)
	}

	art, simpleErr := c.convertSimple(inputPath)
	if simpleErr != nil {
		return nil, &ConversionError{Format: ext, Err: errors.Join(err, simpleErr)}
	}
	return art, nil
}

func (c *OfficeConverter) render(ctx context.Context, inputPath string) (*Artifact, error) {
	dir, pdfPath, err := scratchPDF("mineru-office-*", inputPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Binary, "--headless", "--convert-to", "pdf", "--outdir", dir, inputPath)
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		os.RemoveAll(dir)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("office renderer timed out after %s", c.Timeout)
		}
		if isMissingBinary(err) {
			return nil, err
		}
		return nil, fmt.Errorf("office renderer failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	if _, err := os.Stat(pdfPath); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("office renderer produced no pdf: %w", err)
	}
	if err := api.ValidateFile(pdfPath, nil); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("office renderer produced an invalid pdf: %w", err)
	}

	pages := pdfPageCount(pdfPath)
	logger.Debug(ctx, "office document rendered", "input", inputPath, "pages", pages, "duration", time.Since(start))
	return &Artifact{Path: pdfPath, Dir: dir, Method: MethodOfficeRenderer, Pages: pages}, nil
}

func (c *OfficeConverter) convertSimple(inputPath string) (*Artifact, error) {
	if strings.ToLower(filepath.Ext(inputPath)) == ".doc" {
		return nil, errors.New("legacy .doc files require an office renderer")
	}

	paragraphs, err := docxParagraphs(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse docx: %w", err)
	}

	var content []string
	for _, p := range paragraphs {
		if strings.TrimSpace(p) != "" {
			content = append(content, splitLines(p)...)
		}
	}
	if len(content) == 0 {
		content = []string{
			"Word document: " + filepath.Base(inputPath),
			"",
			"The document is empty or could not be parsed.",
		}
	}

	var lines []string
	for _, line := range content {
		lines = append(lines, wrapWords(line, wrapWidth)...)
	}
	return renderLines(inputPath, MethodNativeDocx, c.FontPath, lines)
}

// docxParagraphs reads word/document.xml and returns the text of each w:p in order
func docxParagraphs(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var body []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		body, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		break
	}
	if body == nil {
		return nil, errors.New("word/document.xml not found")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, errors.New("empty document.xml")
	}

	var paragraphs []string
	for _, p := range doc.Root().FindElements("//w:p") {
		var b strings.Builder
		collectRunText(p, &b)
		paragraphs = append(paragraphs, b.String())
	}
	return paragraphs, nil
}

func collectRunText(el *etree.Element, b *strings.Builder) {
	for _, child := range el.ChildElements() {
		if child.Space != "w" {
			continue
		}
		switch child.Tag {
		case "t":
			b.WriteString(child.Text())
		case "tab":
			b.WriteByte('\t')
		case "br", "cr":
			b.WriteByte('\n')
		case "p":
			// nested paragraphs (text boxes) are visited on their own
		default:
			collectRunText(child, b)
		}
	}
}

// TextConverter lays plain text and Markdown source out line by line
type TextConverter struct {
	FontPath string
}

func (c TextConverter) Convert(ctx context.Context, inputPath string) (*Artifact, error) {
	ext := strings.ToLower(filepath.Ext(inputPath))

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, &ConversionError{Format: ext, Err: err}
	}
	content, err := decodeText(data)
	if err != nil {
		return nil, &ConversionError{Format: ext, Err: err}
	}

	art, err := renderLines(inputPath, MethodTextLayout, c.FontPath, truncatedLines(content))
	if err != nil {
		return nil, &ConversionError{Format: ext, Err: err}
	}
	return art, nil
}

func truncatedLines(content string) []string {
	lines := splitLines(content)
	for i, line := range lines {
		lines[i] = truncateRunes(line, truncateWidth)
	}
	return lines
}

// XMLConverter renders an indented outline of the element tree, or the raw
// file text when it does not parse.
type XMLConverter struct {
	FontPath string
}

func (c XMLConverter) Convert(ctx context.Context, inputPath string) (*Artifact, error) {
	method := MethodXMLLayout

	content, err := xmlOutline(inputPath)
	if err != nil {
		logger.Warn(ctx, "xml parse failed, using raw text", "error", err)
		method = MethodXMLRawText

		data, readErr := os.ReadFile(inputPath)
		if readErr != nil {
			return nil, &ConversionError{Format: ".xml", Err: errors.Join(err, readErr)}
		}
		if content, readErr = decodeText(data); readErr != nil {
			return nil, &ConversionError{Format: ".xml", Err: errors.Join(err, readErr)}
		}
	}

	art, err := renderLines(inputPath, method, c.FontPath, truncatedLines(content))
	if err != nil {
		return nil, &ConversionError{Format: ".xml", Err: err}
	}
	return art, nil
}

func xmlOutline(path string) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return "", err
	}
	root := doc.Root()
	if root == nil {
		return "", errors.New("xml document has no root element")
	}

	var b strings.Builder
	writeOutline(&b, root, 0)
	return b.String(), nil
}

// writeOutline emits tag, trimmed text, children one level deeper, then trimmed tail
func writeOutline(b *strings.Builder, el *etree.Element, level int) {
	indent := strings.Repeat("  ", level)

	fmt.Fprintf(b, "%s<%s>\n", indent, el.FullTag())
	if text := strings.TrimSpace(el.Text()); text != "" {
		fmt.Fprintf(b, "%s  %s\n", indent, text)
	}
	for _, child := range el.ChildElements() {
		writeOutline(b, child, level+1)
	}
	if tail := strings.TrimSpace(el.Tail()); tail != "" {
		fmt.Fprintf(b, "%s%s\n", indent, tail)
	}
}
