package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/South-Winder12138/mineru-service/model"
	"github.com/South-Winder12138/mineru-service/pkg/logger"
	"github.com/South-Winder12138/mineru-service/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
	// multipartOverhead is headroom for form fields and boundaries on top of the file itself
	multipartOverhead = 1 << 20
)

// TaskService is the task lifecycle the HTTP layer drives
type TaskService interface {
	Submit(ctx context.Context, path, filename string, opts model.ProcessOptions) (string, error)
	Get(id string) (model.Task, error)
	List(page, pageSize int) ([]model.Task, int, error)
	Delete(ctx context.Context, id string) error
}

type DocumentHandler struct {
	tasks       TaskService
	uploadDir   string
	maxFileSize int64
}

func NewDocumentHandler(tasks TaskService, uploadDir string, maxFileSize int64) *DocumentHandler {
	return &DocumentHandler{
		tasks:       tasks,
		uploadDir:   uploadDir,
		maxFileSize: maxFileSize,
	}
}

// TaskView is the API representation of a task
type TaskView struct {
	TaskID         string                  `json:"task_id"`
	Status         model.TaskStatus        `json:"status"`
	Filename       string                  `json:"filename"`
	DocumentType   model.DocumentType      `json:"document_type"`
	CreatedAt      time.Time               `json:"created_at"`
	StartedAt      *time.Time              `json:"started_at,omitempty"`
	CompletedAt    *time.Time              `json:"completed_at,omitempty"`
	ProcessingTime *float64                `json:"processing_time"`
	Result         *model.ExtractionResult `json:"result,omitempty"`
	ErrorMessage   string                  `json:"error_message,omitempty"`
}

func newTaskView(t model.Task, withResult bool) TaskView {
	v := TaskView{
		TaskID:         t.ID,
		Status:         t.Status,
		Filename:       t.Filename,
		DocumentType:   t.DocumentType,
		CreatedAt:      t.CreatedAt,
		StartedAt:      t.StartedAt,
		CompletedAt:    t.CompletedAt,
		ProcessingTime: t.ProcessingTime(),
		ErrorMessage:   t.ErrorMessage,
	}
	if withResult {
		v.Result = t.Result
	}
	return v
}

// Upload stores a document and schedules it for extraction
func (h *DocumentHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+multipartOverhead)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": h.tooLargeMessage()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if header.Filename == "" || filename == "." || filename == "/" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Filename is required"})
		return
	}

	format, err := service.Classify(filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             fmt.Sprintf("Unsupported file format: %s", strings.ToLower(filepath.Ext(filename))),
			"supported_formats": service.SupportedFormats(),
		})
		return
	}

	if header.Size > h.maxFileSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": h.tooLargeMessage()})
		return
	}

	opts, err := parseOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	path, size, err := service.SaveUpload(h.uploadDir, filename, file)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to save upload", "filename", filename, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return
	}

	taskID, err := h.tasks.Submit(c.Request.Context(), path, filename, opts)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			logger.Warn(c.Request.Context(), "failed to remove rejected upload", "path", path, "error", rmErr)
		}
		switch {
		case errors.Is(err, service.ErrUnsupportedFormat):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrPoolClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service is shutting down"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create task: " + err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"task_id":       taskID,
		"filename":      filename,
		"file_size":     size,
		"document_type": format.Type,
		"status":        model.StatusPending,
		"upload_time":   time.Now().Format(time.RFC3339),
	})
}

func (h *DocumentHandler) tooLargeMessage() string {
	return fmt.Sprintf("File too large. Maximum size: %d MB", h.maxFileSize/(1024*1024))
}

// parseOptions reads processing options from the query string or the form
func parseOptions(c *gin.Context) (model.ProcessOptions, error) {
	opts := model.DefaultProcessOptions()

	mode, err := model.ParseExtractionMode(formValue(c, "extraction_mode"))
	if err != nil {
		return opts, err
	}
	opts.ExtractionMode = mode

	for key, dst := range map[string]*bool{
		"extract_images":  &opts.ExtractImages,
		"extract_tables":  &opts.ExtractTables,
		"preserve_layout": &opts.PreserveLayout,
	} {
		raw := formValue(c, key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid %s %q", key, raw)
		}
		*dst = v
	}

	if lang := formValue(c, "ocr_language"); lang != "" {
		opts.OCRLanguage = lang
	}
	return opts, nil
}

func formValue(c *gin.Context, key string) string {
	if v, ok := c.GetQuery(key); ok {
		return v
	}
	return c.PostForm(key)
}

// GetTask returns a task with its result once available
func (h *DocumentHandler) GetTask(c *gin.Context) {
	task, err := h.tasks.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, newTaskView(task, true))
}

// ListTasks returns one page of tasks, newest first, without results
func (h *DocumentHandler) ListTasks(c *gin.Context) {
	page, err := queryInt(c, "page", defaultPage)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pageSize, err := queryInt(c, "page_size", defaultPageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tasks, total, err := h.tasks.List(page, pageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	views := make([]TaskView, len(tasks))
	for i, t := range tasks {
		views[i] = newTaskView(t, false)
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks":     views,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}

// DeleteTask removes a task and its files
func (h *DocumentHandler) DeleteTask(c *gin.Context) {
	err := h.tasks.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, service.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
