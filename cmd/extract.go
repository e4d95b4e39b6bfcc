package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/South-Winder12138/mineru-service/model"
	"github.com/South-Winder12138/mineru-service/pkg/logger"
	"github.com/South-Winder12138/mineru-service/service"
)

var (
	extractOutput string
	extractMode   string
	extractQuiet  bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract a single document without starting the server",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "write markdown to this file instead of stdout")
	extractCmd.Flags().StringVarP(&extractMode, "mode", "m", string(model.ModeMarkdown), "extraction mode: text_only, text_layout, markdown, structured")
	extractCmd.Flags().BoolVarP(&extractQuiet, "quiet", "q", false, "hide the progress spinner")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	path := args[0]
	mode, err := model.ParseExtractionMode(extractMode)
	if err != nil {
		return err
	}
	format, err := service.Classify(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	opts := model.DefaultProcessOptions()
	opts.ExtractionMode = mode
	task := model.Task{
		ID:           uuid.New().String(),
		Filename:     filepath.Base(path),
		FilePath:     path,
		DocumentType: format.Type,
		Options:      opts,
		Status:       model.StatusProcessing,
		CreatedAt:    time.Now(),
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}

	var spin *spinner.Spinner
	if !extractQuiet {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		spin.Suffix = " extracting " + task.Filename
		spin.Start()
	}

	ctx := logger.WithTaskID(cmd.Context(), task.ID)
	start := time.Now()
	result, err := eng.pipeline.Process(ctx, task)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return err
	}

	summary := color.New(color.FgGreen)
	if result.Provenance != model.ProvenanceMineru && result.Provenance != model.ProvenanceMineruConverted {
		summary = color.New(color.FgYellow)
	}
	summary.Fprintf(os.Stderr, "%s: %s in %s, %d images\n",
		task.Filename, result.Provenance, time.Since(start).Round(time.Millisecond), len(result.Images))
	if len(result.Images) > 0 {
		fmt.Fprintf(os.Stderr, "images saved under %s\n", eng.pipeline.ImageDir(task.ID))
	}

	var out io.Writer = cmd.OutOrStdout()
	if extractOutput != "" {
		f, err := os.Create(extractOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	content := result.MarkdownContent
	if content == "" {
		content = result.TextContent
	}
	if _, err := io.WriteString(out, content); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
