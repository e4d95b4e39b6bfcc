package service

import (
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// pdfPageCount reads the page tree of a PDF; unreadable files count as zero pages
func pdfPageCount(path string) int {
	n, err := api.PageCountFile(path)
	if err != nil {
		slog.Debug("failed to count pdf pages", "path", path, "error", err)
		return 0
	}
	return n
}
