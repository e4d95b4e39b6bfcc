package model

import (
	"fmt"
	"maps"
	"time"
)

// TaskStatus is the lifecycle state of a processing task
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transition is possible
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next keeps the lifecycle monotonic.
// A pending task may be failed directly when it is abandoned before it starts.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next.IsTerminal()
	default:
		return false
	}
}

// DocumentType is the tag derived from an upload's extension
type DocumentType string

const (
	DocPDF   DocumentType = "pdf"
	DocDOCX  DocumentType = "docx"
	DocDOC   DocumentType = "doc"
	DocTXT   DocumentType = "txt"
	DocXML   DocumentType = "xml"
	DocImage DocumentType = "image"
)

// ExtractionMode selects how extracted text is rendered
type ExtractionMode string

const (
	ModeTextOnly   ExtractionMode = "text_only"
	ModeTextLayout ExtractionMode = "text_layout"
	ModeMarkdown   ExtractionMode = "markdown"
	ModeStructured ExtractionMode = "structured"
)

// ParseExtractionMode validates a user supplied mode, defaulting to markdown when empty
func ParseExtractionMode(s string) (ExtractionMode, error) {
	switch m := ExtractionMode(s); m {
	case "":
		return ModeMarkdown, nil
	case ModeTextOnly, ModeTextLayout, ModeMarkdown, ModeStructured:
		return m, nil
	default:
		return "", fmt.Errorf("invalid extraction mode %q", s)
	}
}

// ProcessOptions are the caller's processing preferences for one task
type ProcessOptions struct {
	ExtractionMode ExtractionMode `json:"extraction_mode"`
	ExtractImages  bool           `json:"extract_images"`
	ExtractTables  bool           `json:"extract_tables"`
	OCRLanguage    string         `json:"ocr_language,omitempty"`
	PreserveLayout bool           `json:"preserve_layout"`
}

// DefaultProcessOptions mirrors the upload endpoint defaults
func DefaultProcessOptions() ProcessOptions {
	return ProcessOptions{
		ExtractionMode: ModeMarkdown,
		ExtractImages:  true,
		ExtractTables:  true,
		OCRLanguage:    "ch",
		PreserveLayout: true,
	}
}

// Provenance records which strategy produced a result
type Provenance string

const (
	ProvenanceMineru          Provenance = "mineru"
	ProvenanceMineruConverted Provenance = "mineru_via_conversion"
	ProvenanceFallbackText    Provenance = "fallback_native_text"
	ProvenanceFallbackFailed  Provenance = "fallback_unavailable"
)

// Image reference provenance tags
const (
	ImageOriginal  = "original"
	ImageExtracted = "extracted"
)

// ImageRef points at an image surfaced by extraction
type ImageRef struct {
	Path string `json:"path"`
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Table is one extracted table. No active strategy produces tables yet.
type Table map[string]any

// ExtractionResult is the payload attached to a completed task
type ExtractionResult struct {
	TextContent     string         `json:"text_content"`
	MarkdownContent string         `json:"markdown_content,omitempty"`
	Images          []ImageRef     `json:"images"`
	Tables          []Table        `json:"tables"`
	Provenance      Provenance     `json:"provenance"`
	Metadata        map[string]any `json:"metadata"`
}

// SetMeta records a metadata entry, allocating the map on first use
func (r *ExtractionResult) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// Clone returns a copy that shares no slices or maps with r
func (r *ExtractionResult) Clone() *ExtractionResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Images = append([]ImageRef{}, r.Images...)
	out.Tables = make([]Table, len(r.Tables))
	for i, t := range r.Tables {
		out.Tables[i] = maps.Clone(t)
	}
	out.Metadata = maps.Clone(r.Metadata)
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return &out
}

// Task is one tracked unit of document processing
type Task struct {
	ID           string            `json:"task_id"`
	Filename     string            `json:"filename"`
	FilePath     string            `json:"file_path"`
	DocumentType DocumentType      `json:"document_type"`
	Options      ProcessOptions    `json:"options"`
	Status       TaskStatus        `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Result       *ExtractionResult `json:"result,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// Clone returns a snapshot that callers may keep without affecting the registry
func (t *Task) Clone() Task {
	out := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		out.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		out.CompletedAt = &completed
	}
	out.Result = t.Result.Clone()
	return out
}

// ProcessingTime is the wall time between start and completion, in seconds
func (t Task) ProcessingTime() *float64 {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return nil
	}
	secs := t.CompletedAt.Sub(*t.StartedAt).Seconds()
	return &secs
}
