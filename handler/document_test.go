package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/South-Winder12138/mineru-service/model"
	"github.com/South-Winder12138/mineru-service/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeTasks is an in-memory TaskService that never processes anything
type fakeTasks struct {
	mu        sync.Mutex
	tasks     map[string]model.Task
	submitted []model.Task
	submitErr error
	deleteErr error
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{tasks: make(map[string]model.Task)}
}

func (f *fakeTasks) Submit(ctx context.Context, path, filename string, opts model.ProcessOptions) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	task := model.Task{
		ID:        "task-" + filename,
		Filename:  filename,
		FilePath:  path,
		Options:   opts,
		Status:    model.StatusPending,
		CreatedAt: time.Now(),
	}
	f.tasks[task.ID] = task
	f.submitted = append(f.submitted, task)
	return task.ID, nil
}

func (f *fakeTasks) Get(id string) (model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return model.Task{}, service.ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeTasks) List(page, pageSize int) ([]model.Task, int, error) {
	if page < 1 || pageSize < 1 || pageSize > 100 {
		return nil, 0, service.ErrInvalidPagination
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, len(f.tasks), nil
}

func (f *fakeTasks) Delete(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return service.ErrTaskNotFound
	}
	delete(f.tasks, id)
	return nil
}

func setupDocumentRouter(t *testing.T, tasks TaskService, maxSize int64) (*gin.Engine, string) {
	t.Helper()
	uploadDir := t.TempDir()
	h := NewDocumentHandler(tasks, uploadDir, maxSize)

	router := gin.New()
	router.POST("/upload", h.Upload)
	router.GET("/tasks", h.ListTasks)
	router.GET("/tasks/:id", h.GetTask)
	router.DELETE("/tasks/:id", h.DeleteTask)
	return router, uploadDir
}

func multipartUpload(t *testing.T, target, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "-" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(content)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestDocumentHandlerUpload(t *testing.T) {
	tasks := newFakeTasks()
	router, uploadDir := setupDocumentRouter(t, tasks, 1<<20)

	req := multipartUpload(t, "/upload?extraction_mode=text_only", "report.pdf", []byte("%PDF-1.4"), map[string]string{
		"extract_images": "false",
		"ocr_language":   "en",
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["task_id"] != "task-report.pdf" {
		t.Errorf("Unexpected task_id %v", resp["task_id"])
	}
	if resp["status"] != "pending" || resp["document_type"] != "pdf" {
		t.Errorf("Unexpected status/type: %v", resp)
	}
	if resp["file_size"] != float64(8) {
		t.Errorf("Expected file_size 8, got %v", resp["file_size"])
	}

	if _, err := os.Stat(filepath.Join(uploadDir, "report.pdf")); err != nil {
		t.Errorf("Expected upload to be saved: %v", err)
	}

	opts := tasks.submitted[0].Options
	if opts.ExtractionMode != model.ModeTextOnly || opts.ExtractImages || !opts.ExtractTables || opts.OCRLanguage != "en" {
		t.Errorf("Unexpected options: %+v", opts)
	}
}

func TestDocumentHandlerUploadRejections(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		filename string
		content  []byte
		status   int
	}{
		{"no file", "/upload", "-", nil, http.StatusBadRequest},
		{"unsupported format", "/upload", "archive.zip", []byte("PK"), http.StatusBadRequest},
		{"too large", "/upload", "big.pdf", bytes.Repeat([]byte("x"), 2048), http.StatusRequestEntityTooLarge},
		{"bad mode", "/upload?extraction_mode=poetry", "a.pdf", []byte("x"), http.StatusBadRequest},
		{"bad bool", "/upload?extract_tables=maybe", "a.pdf", []byte("x"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := newFakeTasks()
			router, uploadDir := setupDocumentRouter(t, tasks, 1024)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, multipartUpload(t, tt.target, tt.filename, tt.content, nil))

			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if len(tasks.submitted) != 0 {
				t.Error("Expected no task to be created")
			}
			entries, _ := os.ReadDir(uploadDir)
			if len(entries) != 0 {
				t.Errorf("Expected nothing saved, found %d files", len(entries))
			}
		})
	}
}

func TestDocumentHandlerUploadShuttingDown(t *testing.T) {
	tasks := newFakeTasks()
	tasks.submitErr = service.ErrPoolClosed
	router, uploadDir := setupDocumentRouter(t, tasks, 1<<20)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartUpload(t, "/upload", "a.pdf", []byte("x"), nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	entries, _ := os.ReadDir(uploadDir)
	if len(entries) != 0 {
		t.Error("Expected rejected upload to be removed")
	}
}

func TestDocumentHandlerGetTask(t *testing.T) {
	tasks := newFakeTasks()
	started := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(1500 * time.Millisecond)
	tasks.tasks["t1"] = model.Task{
		ID:          "t1",
		Filename:    "a.pdf",
		Status:      model.StatusCompleted,
		CreatedAt:   started,
		StartedAt:   &started,
		CompletedAt: &completed,
		Result: &model.ExtractionResult{
			TextContent: "hello",
			Provenance:  model.ProvenanceFallbackText,
		},
	}
	router, _ := setupDocumentRouter(t, tasks, 1<<20)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/t1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var view TaskView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if view.ProcessingTime == nil || *view.ProcessingTime != 1.5 {
		t.Errorf("Expected processing_time 1.5, got %v", view.ProcessingTime)
	}
	if view.Result == nil || view.Result.Provenance != model.ProvenanceFallbackText {
		t.Errorf("Expected result with provenance, got %+v", view.Result)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestDocumentHandlerListTasks(t *testing.T) {
	tasks := newFakeTasks()
	tasks.tasks["t1"] = model.Task{ID: "t1", Status: model.StatusCompleted, Result: &model.ExtractionResult{TextContent: "big"}}
	router, _ := setupDocumentRouter(t, tasks, 1<<20)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp struct {
		Tasks    []map[string]any `json:"tasks"`
		Total    int              `json:"total"`
		Page     int              `json:"page"`
		PageSize int              `json:"page_size"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Total != 1 || resp.Page != 1 || resp.PageSize != 20 || len(resp.Tasks) != 1 {
		t.Errorf("Unexpected list response: %+v", resp)
	}
	if _, ok := resp.Tasks[0]["result"]; ok {
		t.Error("Expected list entries without result")
	}

	for _, q := range []string{"?page=0", "?page_size=101", "?page=abc"} {
		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", q, w.Code)
		}
	}
}

func TestDocumentHandlerDeleteTask(t *testing.T) {
	tasks := newFakeTasks()
	tasks.tasks["t1"] = model.Task{ID: "t1"}
	router, _ := setupDocumentRouter(t, tasks, 1<<20)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/tasks/t1", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/tasks/t1", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 on second delete, got %d", w.Code)
	}
}
