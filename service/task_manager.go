package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/South-Winder12138/mineru-service/model"
	"github.com/South-Winder12138/mineru-service/pkg/logger"
)

const maxPageSize = 100

// TaskManager owns the task lifecycle: it registers submissions, schedules them
// on the worker pool and exposes snapshots of their state.
type TaskManager struct {
	store     TaskStore
	processor Processor
	pool      *WorkerPool
	outputDir string
	archive   Archiver
	now       func() time.Time
}

// TaskManagerOption customizes a TaskManager
type TaskManagerOption func(*TaskManager)

// WithArchiver uploads completed results to a after processing
func WithArchiver(a Archiver) TaskManagerOption {
	return func(m *TaskManager) { m.archive = a }
}

// WithClock replaces time.Now for timestamps
func WithClock(now func() time.Time) TaskManagerOption {
	return func(m *TaskManager) { m.now = now }
}

func NewTaskManager(store TaskStore, processor Processor, pool *WorkerPool, outputDir string, opts ...TaskManagerOption) *TaskManager {
	m := &TaskManager{
		store:     store,
		processor: processor,
		pool:      pool,
		outputDir: outputDir,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit registers a pending task for the file at path and returns its id
// without waiting for processing. Unsupported formats are rejected up front.
func (m *TaskManager) Submit(ctx context.Context, path, filename string, opts model.ProcessOptions) (string, error) {
	format, err := Classify(path)
	if err != nil {
		return "", err
	}
	if opts.ExtractionMode == "" {
		opts.ExtractionMode = model.ModeMarkdown
	}

	task := &model.Task{
		ID:           uuid.New().String(),
		Filename:     filename,
		FilePath:     path,
		DocumentType: format.Type,
		Options:      opts,
		Status:       model.StatusPending,
		CreatedAt:    m.now(),
	}
	if err := m.store.Insert(task); err != nil {
		return "", fmt.Errorf("failed to register task: %w", err)
	}

	id := task.ID
	err = m.pool.Submit(
		func(poolCtx context.Context) { m.execute(poolCtx, id) },
		func(cause error) {
			if err := m.store.Fail(id, "task abandoned: "+cause.Error(), m.now()); err != nil && !errors.Is(err, ErrTaskNotFound) {
				logger.Warn(logger.WithTaskID(context.Background(), id), "failed to mark abandoned task", "error", err)
			}
		},
	)
	if err != nil {
		m.store.Delete(id)
		return "", err
	}

	logger.Info(logger.WithTaskID(ctx, id), "task submitted", "filename", filename, "type", format.Type)
	return id, nil
}

// execute runs one task to a terminal state. It never panics out of the worker.
func (m *TaskManager) execute(ctx context.Context, id string) {
	ctx = logger.WithTaskID(ctx, id)

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "task panicked", "panic", r)
			m.fail(ctx, id, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := m.store.MarkProcessing(id, m.now()); err != nil {
		logger.Info(ctx, "task no longer runnable", "error", err)
		return
	}
	task, ok := m.store.Get(id)
	if !ok {
		return
	}

	start := m.now()
	result, err := m.processor.Process(ctx, task)
	if err != nil {
		logger.Error(ctx, "task failed", "error", err)
		m.fail(ctx, id, err.Error())
		return
	}

	if m.archive != nil {
		if err := m.archive.ArchiveResult(ctx, id, filepath.Join(m.outputDir, id), result); err != nil {
			logger.Warn(ctx, "failed to archive result", "error", err)
			result.SetMeta("archive_error", err.Error())
		}
	}

	if err := m.store.Complete(id, result, m.now()); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			// deleted while running; drop what the run produced
			m.removeOutputs(ctx, id)
			return
		}
		logger.Error(ctx, "failed to record result", "error", err)
		return
	}

	logger.Info(ctx, "task completed",
		"provenance", result.Provenance,
		"duration", m.now().Sub(start).String(),
	)
}

func (m *TaskManager) fail(ctx context.Context, id, message string) {
	if err := m.store.Fail(id, message, m.now()); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			m.removeOutputs(ctx, id)
			return
		}
		logger.Warn(ctx, "failed to record failure", "error", err)
	}
}

// Get returns a snapshot of the task
func (m *TaskManager) Get(id string) (model.Task, error) {
	task, ok := m.store.Get(id)
	if !ok {
		return model.Task{}, ErrTaskNotFound
	}
	return task, nil
}

// List returns page (1-based) of tasks, newest first, plus the total count
func (m *TaskManager) List(page, pageSize int) ([]model.Task, int, error) {
	if page < 1 || pageSize < 1 || pageSize > maxPageSize {
		return nil, 0, fmt.Errorf("%w: page=%d page_size=%d", ErrInvalidPagination, page, pageSize)
	}
	tasks, total := m.store.List((page-1)*pageSize, pageSize)
	return tasks, total, nil
}

// Delete unregisters the task and removes its uploaded file and outputs.
// A running task is not interrupted; its result is discarded when it finishes.
func (m *TaskManager) Delete(ctx context.Context, id string) error {
	task, ok := m.store.Delete(id)
	if !ok {
		return ErrTaskNotFound
	}
	ctx = logger.WithTaskID(ctx, id)

	if task.FilePath != "" {
		if err := os.Remove(task.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn(ctx, "failed to remove uploaded file", "path", task.FilePath, "error", err)
		}
	}
	m.removeOutputs(ctx, id)

	logger.Info(ctx, "task deleted", "status", task.Status)
	return nil
}

func (m *TaskManager) removeOutputs(ctx context.Context, id string) {
	if m.outputDir != "" {
		if err := os.RemoveAll(filepath.Join(m.outputDir, id)); err != nil {
			logger.Warn(ctx, "failed to remove task outputs", "error", err)
		}
	}
	if m.archive != nil {
		if err := m.archive.RemoveTask(ctx, id); err != nil {
			logger.Warn(ctx, "failed to remove archived result", "error", err)
		}
	}
}

// Count returns the number of registered tasks
func (m *TaskManager) Count() int {
	return m.store.Count()
}

// PoolStats reports worker occupancy
func (m *TaskManager) PoolStats() PoolStats {
	return m.pool.Stats()
}

// Shutdown stops accepting tasks and waits for in-flight ones until ctx expires
func (m *TaskManager) Shutdown(ctx context.Context) error {
	return m.pool.Shutdown(ctx)
}
