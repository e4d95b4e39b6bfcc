package service

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/South-Winder12138/mineru-service/model"
)

// Route is the pipeline path a document takes
type Route int

const (
	// RouteDirect feeds the upload to MinerU as is
	RouteDirect Route = iota
	// RouteConvertFirst renders an intermediate PDF before recognition
	RouteConvertFirst
)

func (r Route) String() string {
	if r == RouteDirect {
		return "direct"
	}
	return "convert_first"
}

// Format is the classification of one file
type Format struct {
	Ext   string
	Type  model.DocumentType
	Route Route
}

var directFormats = map[string]model.DocumentType{
	".pdf":  model.DocPDF,
	".jpg":  model.DocImage,
	".jpeg": model.DocImage,
	".png":  model.DocImage,
	".bmp":  model.DocImage,
	".tiff": model.DocImage,
}

var convertFormats = map[string]model.DocumentType{
	".docx": model.DocDOCX,
	".doc":  model.DocDOC,
	".txt":  model.DocTXT,
	".md":   model.DocTXT,
	".xml":  model.DocXML,
}

// Classify maps a path's extension, case-insensitively, to a document type and route
func Classify(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := directFormats[ext]; ok {
		return Format{Ext: ext, Type: t, Route: RouteDirect}, nil
	}
	if t, ok := convertFormats[ext]; ok {
		return Format{Ext: ext, Type: t, Route: RouteConvertFirst}, nil
	}
	if ext == "" {
		ext = "(none)"
	}
	return Format{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

// SupportedFormats lists every accepted extension in sorted order
func SupportedFormats() []string {
	out := make([]string, 0, len(directFormats)+len(convertFormats))
	for ext := range directFormats {
		out = append(out, ext)
	}
	for ext := range convertFormats {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}
