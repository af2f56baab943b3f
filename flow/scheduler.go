package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/retry"
	"github.com/dastron/video-ware-sub000/steps"
	"github.com/dastron/video-ware-sub000/telemetry"
)

// Scheduler executes built flows on a bounded goroutine pool with per-step
// retry and resume. One Scheduler is shared across tasks; all per-flow state
// lives in Run.
type Scheduler struct {
	registry *steps.Registry
	config   *core.Config
	logger   core.Logger
}

// NewScheduler creates a scheduler over the executor registry.
func NewScheduler(registry *steps.Registry, config *core.Config, logger core.Logger) *Scheduler {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if config == nil {
		config = core.DefaultConfig()
	}
	return &Scheduler{registry: registry, config: config, logger: logger}
}

// stepEvent is the completion record one step goroutine sends back to the
// collector loop.
type stepEvent struct {
	kind   string
	result core.StepResult
}

// Run drives the flow to completion and returns the final result map.
//
// Resume entries with status completed seed the graph: those steps are never
// re-executed and their outputs feed downstream inputs. persist, when
// non-nil, is called with the updated result map after every step terminates
// so a later attempt can resume; persistence failures are logged and do not
// stop the flow.
//
// Cancellation stops scheduling, propagates into in-flight steps, and
// returns core.ErrCancelled once they drain. The result map collected so far
// is still returned for persistence.
func (s *Scheduler) Run(
	ctx context.Context,
	f *Flow,
	resume map[string]core.StepResult,
	reporter core.ProgressReporter,
	persist func(map[string]core.StepResult) error,
) (map[string]core.StepResult, error) {
	results := make(map[string]core.StepResult, len(f.Jobs))
	carry := make(map[string]interface{})

	// Seed completed steps from the prior attempt, in dependency order so
	// the carry map layers outputs the same way live execution would.
	for _, kind := range f.DAG.TopologicalOrder() {
		prior, ok := resume[kind]
		if !ok || prior.Status != core.StepStatusCompleted {
			continue
		}
		if _, known := f.Jobs[kind]; !known {
			continue
		}
		results[kind] = prior
		mergeCarry(carry, prior.Output)
		f.DAG.MarkCompleted(kind)
		s.logger.Debug("Resuming completed step", map[string]interface{}{
			"task": f.Task.ID,
			"step": kind,
		})
	}

	sem := make(chan struct{}, s.config.MaxParallelSteps)
	events := make(chan stepEvent)
	inFlight := 0

	for {
		if ctx.Err() == nil {
			for _, kind := range f.DAG.ReadyNodes() {
				job := f.Jobs[kind]
				input := mergeInput(job.Input, carry)
				f.DAG.MarkRunning(kind)
				inFlight++
				go s.runStep(ctx, f.Task.ID, job, input, reporter, sem, events)
			}
		}

		if inFlight == 0 {
			break
		}

		ev := <-events
		inFlight--
		results[ev.kind] = ev.result

		if ev.result.Status == core.StepStatusCompleted {
			mergeCarry(carry, ev.result.Output)
			f.DAG.MarkCompleted(ev.kind)
		} else {
			f.DAG.MarkFailed(ev.kind)
		}

		if persist != nil {
			if err := persist(results); err != nil {
				s.logger.Warn("Result map persistence failed", map[string]interface{}{
					"task":  f.Task.ID,
					"step":  ev.kind,
					"error": err.Error(),
				})
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("%w: flow for task %s", core.ErrCancelled, f.Task.ID)
	}
	if !f.DAG.IsComplete() {
		// Pending nodes with no runnable parents mean a builder bug.
		return results, fmt.Errorf("%w: flow for task %s stalled", core.ErrInternal, f.Task.ID)
	}
	return results, nil
}

// runStep executes one step with its retry budget. A failed result is only
// emitted after the budget is exhausted or the error is terminal.
func (s *Scheduler) runStep(
	ctx context.Context,
	taskID string,
	job *StepJob,
	input map[string]interface{},
	reporter core.ProgressReporter,
	sem chan struct{},
	events chan<- stepEvent,
) {
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		events <- stepEvent{kind: job.Kind, result: failedResult(job.Kind, 0, time.Now(), ctx.Err())}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Step panicked", map[string]interface{}{
				"task":  taskID,
				"step":  job.Kind,
				"panic": fmt.Sprintf("%v", r),
			})
			events <- stepEvent{kind: job.Kind, result: failedResult(
				job.Kind, 1, time.Now(), fmt.Errorf("%w: step panic: %v", core.ErrInternal, r))}
		}
	}()

	exec, ok := s.registry.Get(job.Kind)
	if !ok {
		events <- stepEvent{kind: job.Kind, result: failedResult(
			job.Kind, 0, time.Now(), fmt.Errorf("%w: no executor for step %q", core.ErrInvalidInput, job.Kind))}
		return
	}

	policy := retry.FromSettings(s.config.StepRetry)
	policy.MaxAttempts = job.MaxAttempts

	sc := &steps.StepContext{
		Step:   job.Kind,
		Logger: s.logger,
		Progress: func(percent int) {
			if reporter != nil {
				_ = reporter.Report(&core.StepProgress{Step: job.Kind, Percent: percent})
			}
		},
	}

	started := time.Now()
	var lastErr error

	for attempt := 1; ; attempt++ {
		output, err := s.attempt(ctx, exec, input, sc)
		if err == nil {
			telemetry.Histogram("mediaworker.step.duration_ms",
				float64(time.Since(started).Milliseconds()), "step", job.Kind)
			events <- stepEvent{kind: job.Kind, result: core.StepResult{
				Kind:        job.Kind,
				Status:      core.StepStatusCompleted,
				Output:      output,
				Attempts:    attempt,
				StartedAt:   started,
				CompletedAt: time.Now(),
			}}
			return
		}
		lastErr = err

		decision := policy.Decide(err, attempt)
		if !decision.Retry {
			s.logger.Error("Step failed", map[string]interface{}{
				"task":     taskID,
				"step":     job.Kind,
				"attempts": attempt,
				"reason":   decision.Reason,
				"error":    err.Error(),
			})
			telemetry.Counter("mediaworker.step.failed", "step", job.Kind)
			events <- stepEvent{kind: job.Kind, result: failedResult(job.Kind, attempt, started, lastErr)}
			return
		}

		s.logger.Warn("Step retrying", map[string]interface{}{
			"task":    taskID,
			"step":    job.Kind,
			"attempt": attempt,
			"delay":   decision.Delay.String(),
			"error":   err.Error(),
		})
		if err := retry.Sleep(ctx, decision.Delay); err != nil {
			events <- stepEvent{kind: job.Kind, result: failedResult(job.Kind, attempt, started, err)}
			return
		}
	}
}

// attempt runs the executor once under the configured step timeout.
// A deadline hit while the flow is still live classifies retryable.
func (s *Scheduler) attempt(
	ctx context.Context,
	exec steps.Executor,
	input map[string]interface{},
	sc *steps.StepContext,
) (map[string]interface{}, error) {
	attemptCtx := ctx
	cancel := func() {}
	if s.config.StepTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, s.config.StepTimeout)
	}
	defer cancel()

	output, err := exec(attemptCtx, input, sc)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: step %s exceeded %s", core.ErrTimeout, sc.Step, s.config.StepTimeout)
	}
	return output, err
}

func failedResult(kind string, attempts int, started time.Time, err error) core.StepResult {
	return core.StepResult{
		Kind:        kind,
		Status:      core.StepStatusFailed,
		Error:       err.Error(),
		Terminal:    core.IsTerminal(err),
		Attempts:    attempts,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
}

// mergeInput lays the accumulated ancestor outputs over the builder input.
// Builder-provided keys win so an explicit input can pin a value.
func mergeInput(base, carry map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(carry))
	for k, v := range carry {
		out[k] = v
	}
	for k, v := range base {
		out[k] = v
	}
	return out
}

func mergeCarry(carry, output map[string]interface{}) {
	for k, v := range output {
		carry[k] = v
	}
}
