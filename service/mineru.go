package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/South-Winder12138/mineru-service/config"
	"github.com/South-Winder12138/mineru-service/model"
	"github.com/South-Winder12138/mineru-service/pkg/logger"
)

// Recognizer extracts content from a PDF or image. Images it produces are
// placed under imageDir.
type Recognizer interface {
	Recognize(ctx context.Context, inputPath string, opts model.ProcessOptions, imageDir string) (*model.ExtractionResult, error)
}

// MineruService runs the MinerU command line tool fully offline
type MineruService struct {
	binary  string
	device  string
	timeout time.Duration
	env     OfflineEnv
}

func NewMineruService(cfg *config.MineruConfig, env OfflineEnv) *MineruService {
	return &MineruService{
		binary:  cfg.Binary,
		device:  cfg.Device,
		timeout: cfg.Timeout,
		env:     env,
	}
}

// Binary is the configured executable
func (s *MineruService) Binary() string { return s.binary }

// Device is the configured accelerator
func (s *MineruService) Device() string { return s.device }

// Available reports whether the executable can be found
func (s *MineruService) Available() bool {
	_, err := exec.LookPath(s.binary)
	return err == nil
}

func (s *MineruService) args(inputPath, outputDir string) []string {
	args := []string{"-p", inputPath, "-o", outputDir}
	// auto lets MinerU pick its own device
	if s.device != "" && s.device != "cpu" && s.device != "auto" {
		args = append(args, "--device", s.device)
	}
	return args
}

// Recognize invokes MinerU with a bounded timeout. The first Markdown file in the
// output tree becomes both the text and the Markdown result; every raster image
// is copied under imageDir. Tables are not produced on this path.
func (s *MineruService) Recognize(ctx context.Context, inputPath string, opts model.ProcessOptions, imageDir string) (*model.ExtractionResult, error) {
	outputDir, err := os.MkdirTemp("", "mineru-output-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	defer os.RemoveAll(outputDir)

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, s.binary, s.args(inputPath, outputDir)...)
	cmd.Env = s.env.Environ(os.Environ())
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	logger.Info(ctx, "running mineru", "input", inputPath, "device", s.device)
	start := time.Now()

	if err := cmd.Run(); err != nil {
		switch {
		case isMissingBinary(err):
			return nil, &RecognitionError{Err: fmt.Errorf("%w: %s", ErrRecognizerUnavailable, s.binary)}
		case runCtx.Err() == context.DeadlineExceeded:
			return nil, &RecognitionError{Stderr: stderr.String(), Err: fmt.Errorf("timed out after %s", s.timeout)}
		default:
			return nil, &RecognitionError{Stderr: stderr.String(), Err: err}
		}
	}

	markdown, images, err := collectOutput(outputDir)
	if err != nil {
		return nil, &RecognitionError{Stderr: stderr.String(), Err: err}
	}

	refs, err := copyImages(outputDir, images, imageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to keep extracted images: %w", err)
	}

	pages := 0
	if strings.EqualFold(filepath.Ext(inputPath), ".pdf") {
		pages = pdfPageCount(inputPath)
	}

	logger.Info(ctx, "mineru finished", "duration", time.Since(start), "images", len(refs), "pages", pages)

	return &model.ExtractionResult{
		TextContent:     markdown,
		MarkdownContent: markdown,
		Images:          refs,
		Tables:          []model.Table{},
		Provenance:      model.ProvenanceMineru,
		Metadata: map[string]any{
			"processor": "MinerU",
			"pages":     pages,
		},
	}, nil
}

var rasterExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// collectOutput walks dir depth-first in lexical order, returning the first
// Markdown file's contents and every raster image path.
func collectOutput(dir string) (string, []string, error) {
	var mdPath string
	var images []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		switch {
		case ext == ".md" && mdPath == "":
			mdPath = path
		case rasterExts[ext]:
			images = append(images, path)
		}
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to scan mineru output: %w", err)
	}
	if mdPath == "" {
		return "", nil, fmt.Errorf("mineru produced no markdown output")
	}

	data, err := os.ReadFile(mdPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read markdown output: %w", err)
	}
	return string(data), images, nil
}

// copyImages moves images out of the scratch tree, keeping their relative layout
func copyImages(srcRoot string, images []string, destRoot string) ([]model.ImageRef, error) {
	refs := make([]model.ImageRef, 0, len(images))
	for _, img := range images {
		rel, err := filepath.Rel(srcRoot, img)
		if err != nil {
			return nil, err
		}
		dest := filepath.Join(destRoot, rel)
		if err := copyFile(img, dest); err != nil {
			return nil, err
		}
		refs = append(refs, model.ImageRef{Path: dest, Type: model.ImageExtracted})
	}
	return refs, nil
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
