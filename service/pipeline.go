package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/South-Winder12138/mineru-service/model"
	"github.com/South-Winder12138/mineru-service/pkg/logger"
)

// Processor runs the extraction pipeline for one task
type Processor interface {
	Process(ctx context.Context, task model.Task) (*model.ExtractionResult, error)
}

// Pipeline dispatches by format: direct documents go straight to the recognizer,
// the rest are converted to PDF first. Recognition failures fall back to native
// extraction.
type Pipeline struct {
	converters *Converters
	recognizer Recognizer
	fallback   FallbackExtractor
	outputDir  string
}

func NewPipeline(converters *Converters, recognizer Recognizer, outputDir string) *Pipeline {
	return &Pipeline{
		converters: converters,
		recognizer: recognizer,
		outputDir:  outputDir,
	}
}

// ImageDir is where images extracted for taskID are kept
func (p *Pipeline) ImageDir(taskID string) string {
	return filepath.Join(p.outputDir, taskID)
}

func (p *Pipeline) Process(ctx context.Context, task model.Task) (*model.ExtractionResult, error) {
	format, err := Classify(task.FilePath)
	if err != nil {
		return nil, err
	}

	imageDir := p.ImageDir(task.ID)

	if format.Route == RouteDirect {
		logger.Info(ctx, "processing directly with mineru", "format", format.Ext)
		return p.recognize(ctx, task.FilePath, format.Type, task.Options, imageDir)
	}

	logger.Info(ctx, "converting to pdf before mineru", "format", format.Ext)
	return p.convertAndRecognize(ctx, task, format, imageDir)
}

func (p *Pipeline) convertAndRecognize(ctx context.Context, task model.Task, format Format, imageDir string) (*model.ExtractionResult, error) {
	conv, ok := p.converters.For(format.Type)
	if !ok {
		return nil, &ConversionError{Format: format.Ext, Err: errors.New("no converter registered")}
	}

	art, err := conv.Convert(ctx, task.FilePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := art.Cleanup(); err != nil {
			logger.Warn(ctx, "failed to remove intermediate pdf", "path", art.Path, "error", err)
		}
	}()

	logger.Info(ctx, "intermediate pdf ready", "method", art.Method, "pages", art.Pages)

	result, err := p.recognize(ctx, art.Path, model.DocPDF, task.Options, imageDir)
	if err != nil {
		return nil, err
	}

	if result.Provenance == model.ProvenanceMineru {
		result.Provenance = model.ProvenanceMineruConverted
		result.SetMeta("processor", "MinerU (via conversion)")
	}
	result.SetMeta("original_format", format.Ext)
	result.SetMeta("converted_to", "pdf")
	result.SetMeta("conversion_method", art.Method)
	if art.Dropped > 0 {
		logger.Warn(ctx, "characters dropped during conversion, configure layout.font_path to keep them", "dropped", art.Dropped)
		result.SetMeta("dropped_characters", art.Dropped)
	}
	return result, nil
}

// recognize runs the recognizer and falls back when it fails
func (p *Pipeline) recognize(ctx context.Context, path string, docType model.DocumentType, opts model.ProcessOptions, imageDir string) (*model.ExtractionResult, error) {
	result, err := p.recognizer.Recognize(ctx, path, opts, imageDir)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrRecognitionFailed) {
		return nil, err
	}

	logger.Warn(ctx, "mineru failed, using fallback", "error", err)

	result, fbErr := p.fallback.Extract(ctx, path, docType, opts, err)
	if fbErr != nil {
		return nil, fmt.Errorf("%w; %w", err, fbErr)
	}
	return result, nil
}
