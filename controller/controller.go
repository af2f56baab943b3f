// Package controller implements the outermost worker loop: it drains queued
// tasks from a TaskSource, runs each task's flow through the scheduler,
// aggregates the outcome, and persists terminal task state. The controller
// is the only writer of task status and attempts.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/flow"
	"github.com/dastron/video-ware-sub000/retry"
	"github.com/dastron/video-ware-sub000/steps"
	"github.com/dastron/video-ware-sub000/store"
	"github.com/dastron/video-ware-sub000/telemetry"
)

// Options wires a Controller. Source, Records, Scheduler and Config are
// required; the rest are optional.
type Options struct {
	Source    core.TaskSource
	Records   store.RecordStore
	Scheduler *flow.Scheduler
	Config    *core.Config
	Logger    core.Logger

	// Profiles supplies default step configs merged into task payloads
	Profiles *flow.ProfileSet

	// Requeue re-enqueues a task on its source after a retryable failure.
	// Nil when the source discovers queued tasks by polling the store.
	Requeue func(ctx context.Context, task *core.Task) error
}

// Controller runs the poll-execute-persist loop.
type Controller struct {
	source    core.TaskSource
	records   store.RecordStore
	scheduler *flow.Scheduler
	config    *core.Config
	logger    core.Logger
	profiles  *flow.ProfileSet
	requeue   func(ctx context.Context, task *core.Task) error

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New validates the wiring and creates a stopped controller.
func New(opts Options) (*Controller, error) {
	if opts.Source == nil || opts.Records == nil || opts.Scheduler == nil {
		return nil, fmt.Errorf("%w: controller requires source, records and scheduler", core.ErrInvalidInput)
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("controller")
	}
	return &Controller{
		source:    opts.Source,
		records:   opts.Records,
		scheduler: opts.Scheduler,
		config:    cfg,
		logger:    logger,
		profiles:  opts.Profiles,
		requeue:   opts.Requeue,
	}, nil
}

// Start launches the poll loop. Returns an error when already running.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("controller already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true

	go c.run(runCtx)
	c.logger.Info("Controller started", map[string]interface{}{
		"poll_interval": c.config.PollInterval.String(),
		"max_batch":     c.config.MaxTaskBatch,
	})
	return nil
}

// Stop cancels the loop and waits up to timeout for in-flight work to
// drain.
func (c *Controller) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.started = false
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w: controller shutdown after %s", core.ErrTimeout, timeout)
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	for {
		if ctx.Err() != nil {
			return
		}

		tasks, err := c.source.Next(ctx, c.config.MaxTaskBatch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Task poll failed", map[string]interface{}{
				"error": err.Error(),
			})
			c.sleep(ctx)
			continue
		}

		if len(tasks) == 0 {
			c.sleep(ctx)
			continue
		}

		for _, task := range tasks {
			if ctx.Err() != nil {
				return
			}
			c.process(ctx, task)
		}
	}
}

func (c *Controller) sleep(ctx context.Context) {
	_ = retry.Sleep(ctx, c.config.PollInterval)
}

// process runs one task end to end. Panics in flow execution fail the task
// instead of the loop.
func (c *Controller) process(ctx context.Context, task *core.Task) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Task processing panicked", map[string]interface{}{
				"task":  task.ID,
				"panic": fmt.Sprintf("%v", r),
			})
			c.finishFailed(task, fmt.Sprintf("internal error: %v", r))
		}
	}()

	started := time.Now()
	c.markRunning(task)
	telemetry.Counter("mediaworker.task.started", "kind", string(task.Kind))

	if profile := c.profiles.Resolve(profileName(task)); profile != nil {
		profile.ApplyDefaults(task.Payload)
	}

	f, err := flow.Build(task, c.config)
	if err != nil {
		c.logger.Error("Flow build failed", map[string]interface{}{
			"task":  task.ID,
			"kind":  string(task.Kind),
			"error": err.Error(),
		})
		c.finishFailed(task, err.Error())
		return
	}

	reporter := &taskProgressReporter{controller: c, taskID: task.ID}
	persist := func(results map[string]core.StepResult) error {
		_, err := c.records.Update(ctx, steps.CollectionTasks, task.ID, store.Record{
			"step_results": results,
		})
		return err
	}

	results, runErr := c.scheduler.Run(ctx, f, task.StepResults, reporter, persist)
	task.StepResults = results

	if runErr != nil && core.IsCancellation(runErr) {
		// Shutdown mid-flow: hand the task back to the queue untouched so
		// the next worker resumes from the persisted result map.
		c.logger.Warn("Task cancelled, re-queuing", map[string]interface{}{
			"task": task.ID,
		})
		c.updateTask(task, store.Record{"status": string(core.TaskStatusQueued)})
		return
	}

	outcome := flow.Aggregate(task.Kind, results)
	if outcome.Status == core.TaskStatusSucceeded {
		c.finishSucceeded(task, outcome)
		telemetry.Histogram("mediaworker.task.duration_ms",
			float64(time.Since(started).Milliseconds()), "kind", string(task.Kind))
		return
	}

	c.handleFailure(ctx, task, results, outcome)
}

// handleFailure applies the task-level retry policy to a failed flow.
func (c *Controller) handleFailure(ctx context.Context, task *core.Task, results map[string]core.StepResult, outcome *flow.Outcome) {
	attemptsMade := task.Attempts + 1

	flowErr := errors.New(outcome.Error)
	if hasTerminalFailure(results) {
		flowErr = core.MarkTerminal(flowErr)
	}

	policy := retry.FromSettings(c.config.TaskRetry)
	decision := policy.Decide(flowErr, attemptsMade)
	if !decision.Retry {
		c.finishFailed(task, outcome.Error)
		return
	}

	c.logger.Warn("Task re-queued for retry", map[string]interface{}{
		"task":     task.ID,
		"attempts": attemptsMade,
		"delay":    decision.Delay.String(),
		"error":    outcome.Error,
	})
	if err := retry.Sleep(ctx, decision.Delay); err != nil {
		c.updateTask(task, store.Record{"status": string(core.TaskStatusQueued)})
		return
	}

	task.Attempts = attemptsMade
	task.Status = core.TaskStatusQueued
	c.updateTask(task, store.Record{
		"status":     string(core.TaskStatusQueued),
		"attempts":   attemptsMade,
		"last_error": outcome.Error,
	})
	if c.requeue != nil {
		if err := c.requeue(context.Background(), task); err != nil {
			c.logger.Error("Task re-enqueue failed", map[string]interface{}{
				"task":  task.ID,
				"error": err.Error(),
			})
		}
	}
	telemetry.Counter("mediaworker.task.retried", "kind", string(task.Kind))
}

func (c *Controller) markRunning(task *core.Task) {
	task.Status = core.TaskStatusRunning
	c.updateTask(task, store.Record{
		"status":     string(core.TaskStatusRunning),
		"started_at": time.Now().Format(time.RFC3339),
	})
}

func (c *Controller) finishSucceeded(task *core.Task, outcome *flow.Outcome) {
	task.Status = core.TaskStatusSucceeded
	c.updateTask(task, store.Record{
		"status":       string(core.TaskStatusSucceeded),
		"progress":     100,
		"result":       outcome.Result,
		"step_results": task.StepResults,
		"completed_at": time.Now().Format(time.RFC3339),
	})
	c.logger.Info("Task succeeded", map[string]interface{}{
		"task": task.ID,
		"kind": string(task.Kind),
	})
	telemetry.Counter("mediaworker.task.succeeded", "kind", string(task.Kind))
}

func (c *Controller) finishFailed(task *core.Task, message string) {
	task.Status = core.TaskStatusFailed
	c.updateTask(task, store.Record{
		"status":       string(core.TaskStatusFailed),
		"attempts":     task.Attempts + 1,
		"last_error":   message,
		"step_results": task.StepResults,
		"completed_at": time.Now().Format(time.RFC3339),
	})
	c.logger.Error("Task failed", map[string]interface{}{
		"task":  task.ID,
		"kind":  string(task.Kind),
		"error": message,
	})
	telemetry.Counter("mediaworker.task.failed", "kind", string(task.Kind))
}

// updateTask persists a task patch. Status-update failures are logged and
// swallowed; the task is never failed because its bookkeeping write failed.
func (c *Controller) updateTask(task *core.Task, patch store.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := c.records.Update(ctx, steps.CollectionTasks, task.ID, patch); err != nil {
		c.logger.Error("Task status update failed", map[string]interface{}{
			"task":  task.ID,
			"error": err.Error(),
		})
	}
}

// hasTerminalFailure reports whether any failed step was classified
// terminal, which makes re-running the whole task pointless.
func hasTerminalFailure(results map[string]core.StepResult) bool {
	for _, r := range results {
		if r.Status == core.StepStatusFailed && r.Terminal {
			return true
		}
	}
	return false
}

func profileName(task *core.Task) string {
	if v, ok := task.Payload["profile"].(string); ok {
		return v
	}
	return ""
}

// taskProgressReporter forwards step progress onto the task record.
// Progress is advisory; write failures are logged at debug and dropped.
type taskProgressReporter struct {
	controller *Controller
	taskID     string
}

func (r *taskProgressReporter) Report(progress *core.StepProgress) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.controller.records.Update(ctx, steps.CollectionTasks, r.taskID, store.Record{
		"progress":     progress.Percent,
		"current_step": progress.Step,
	})
	if err != nil {
		r.controller.logger.Debug("Progress update failed", map[string]interface{}{
			"task":  r.taskID,
			"error": err.Error(),
		})
	}
	return nil
}
