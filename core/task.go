// Package core provides the task model and boundary interfaces for the
// media pipeline worker.
//
// This file defines the task types shared by every layer of the worker:
//   - Task: a unit of work pulled from the metadata store
//   - StepResult: the memoized outcome of one flow step, persisted on the
//     task so a later attempt can resume without re-executing completed steps
//   - TaskSource: where the controller pulls queued tasks from (store poller
//     or Redis list)
//   - ProgressReporter: how running flows surface progress to the task record
package core

import (
	"context"
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting to be picked up
	TaskStatusQueued TaskStatus = "queued"

	// TaskStatusRunning indicates the task is currently being processed
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusSucceeded indicates the task finished successfully
	TaskStatusSucceeded TaskStatus = "succeeded"

	// TaskStatusFailed indicates the task failed terminally
	TaskStatusFailed TaskStatus = "failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}

// TaskKind identifies the flow a task is decomposed into.
type TaskKind string

const (
	// TaskKindTranscode runs probe -> thumbnail -> sprite -> transcode -> finalize
	TaskKindTranscode TaskKind = "transcode"

	// TaskKindDetectLabels runs upload -> parallel analysis -> finalize
	TaskKindDetectLabels TaskKind = "detect-labels"
)

// Task is a unit of work requested externally. Tasks are owned by the
// metadata store; the controller is the only writer of Status, Attempts,
// Progress and LastError.
type Task struct {
	// ID is the record identifier in the metadata store
	ID string `json:"id"`

	// Kind selects the flow to run
	Kind TaskKind `json:"kind"`

	// Status is the current lifecycle state
	Status TaskStatus `json:"status"`

	// Attempts counts how many times the whole flow has been started
	Attempts int `json:"attempts"`

	// Priority orders tasks within the queue (higher first)
	Priority int `json:"priority"`

	// Payload carries kind-specific parameters (opaque to the controller)
	Payload map[string]interface{} `json:"payload"`

	// Progress is the overall completion percentage (0-100)
	Progress int `json:"progress"`

	// Result contains the aggregated flow output once terminal
	Result map[string]interface{} `json:"result,omitempty"`

	// LastError is the final error message when Status is failed
	LastError string `json:"last_error,omitempty"`

	// StepResults memoizes completed step outcomes across attempts.
	// A step whose entry has StepStatusCompleted is never re-executed.
	StepResults map[string]StepResult `json:"step_results,omitempty"`

	// WorkspaceID scopes derived artifacts for dedup hashing
	WorkspaceID string `json:"workspace"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StepStatus is the terminal status of a single step execution.
type StepStatus string

const (
	// StepStatusCompleted indicates the step produced its output
	StepStatusCompleted StepStatus = "completed"

	// StepStatusFailed indicates the step exhausted its attempts
	StepStatusFailed StepStatus = "failed"
)

// StepResult is the immutable outcome of one step. Once a completed result
// is written into Task.StepResults it is authoritative for resume.
type StepResult struct {
	Kind        string                 `json:"kind"`
	Status      StepStatus             `json:"status"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Terminal    bool                   `json:"terminal,omitempty"`
	Attempts    int                    `json:"attempts"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
}

// StepProgress reports the currently executing step and its progress.
type StepProgress struct {
	// Step is the kind of the step currently executing
	Step string `json:"step"`

	// Percent is the step's completion percentage (0-100)
	Percent int `json:"percent"`

	// Message is an optional status message
	Message string `json:"message,omitempty"`
}

// ProgressReporter lets running flows surface progress updates.
type ProgressReporter interface {
	// Report persists a progress update. Implementations should log and
	// swallow persistence failures; progress is advisory.
	Report(progress *StepProgress) error
}

// TaskSource is where the controller pulls queued tasks from.
type TaskSource interface {
	// Next returns up to limit queued tasks in creation order.
	// Returns an empty slice when no work is available.
	Next(ctx context.Context, limit int) ([]*Task, error)
}

// NewTask creates a queued task with the given kind and payload.
func NewTask(id string, kind TaskKind, payload map[string]interface{}) *Task {
	return &Task{
		ID:        id,
		Kind:      kind,
		Status:    TaskStatusQueued,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}
