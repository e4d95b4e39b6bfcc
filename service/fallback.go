package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"

	"github.com/South-Winder12138/mineru-service/model"
	"github.com/South-Winder12138/mineru-service/pkg/logger"
)

const (
	imageUnavailableNote = "Image processing failed: MinerU is unavailable"
	imageFailedNote      = "Image processing failed: MinerU could not recognize the image"
)

// FallbackExtractor is the degraded in-process path used when MinerU fails
type FallbackExtractor struct{}

// Extract produces a result for path without MinerU. PDFs get their native text
// layer; images get an explicit failure result that still counts as completed.
// cause is the recognition error that triggered the fallback.
func (f FallbackExtractor) Extract(ctx context.Context, path string, docType model.DocumentType, opts model.ProcessOptions, cause error) (*model.ExtractionResult, error) {
	switch docType {
	case model.DocPDF:
		return f.extractPDF(ctx, path, opts, cause)
	case model.DocImage:
		return f.imageUnavailable(ctx, path, cause), nil
	default:
		return nil, fmt.Errorf("%w for %s", ErrFallbackUnavailable, docType)
	}
}

func (f FallbackExtractor) extractPDF(ctx context.Context, path string, opts model.ProcessOptions, cause error) (*model.ExtractionResult, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open pdf: %v", ErrFallbackUnavailable, err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	var text strings.Builder
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageText, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read page %d: %v", ErrFallbackUnavailable, i+1, err)
		}
		fmt.Fprintf(&text, "\n--- Page %d ---\n%s\n", i+1, pageText)
	}

	logger.Info(ctx, "extracted pdf text layer", "pages", pages)

	content := text.String()
	result := &model.ExtractionResult{
		TextContent:     content,
		MarkdownContent: ConvertToMarkdown(content, opts.ExtractionMode),
		Images:          []model.ImageRef{},
		Tables:          []model.Table{},
		Provenance:      model.ProvenanceFallbackText,
		Metadata: map[string]any{
			"processor": "go-fitz",
			"pages":     pages,
		},
	}
	if cause != nil {
		result.SetMeta("fallback_reason", cause.Error())
	}
	return result, nil
}

// imageUnavailable describes why an image produced no text. A missing MinerU
// and a MinerU run that failed are reported differently.
func (f FallbackExtractor) imageUnavailable(ctx context.Context, path string, cause error) *model.ExtractionResult {
	unavailable := errors.Is(cause, ErrRecognizerUnavailable)
	note, reason := imageFailedNote, "MinerU failed"
	if unavailable {
		note, reason = imageUnavailableNote, "MinerU unavailable"
	}

	result := &model.ExtractionResult{
		TextContent:     "",
		MarkdownContent: "# Processing failed\n\n" + note,
		Images:          []model.ImageRef{{Path: path, Type: model.ImageOriginal}},
		Tables:          []model.Table{},
		Provenance:      model.ProvenanceFallbackFailed,
		Metadata: map[string]any{
			"error":                  reason,
			"recognizer_unavailable": unavailable,
		},
	}
	if cause != nil {
		result.SetMeta("fallback_reason", cause.Error())
	}

	if img, err := imaging.Open(path); err == nil {
		result.SetMeta("width", img.Bounds().Dx())
		result.SetMeta("height", img.Bounds().Dy())
	} else {
		logger.Debug(ctx, "could not decode original image", "error", err)
	}
	return result
}
