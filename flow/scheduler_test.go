package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/steps"
)

func testSchedulerConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.StepRetry = core.RetrySettings{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	cfg.StepTimeout = 0
	return cfg
}

// syntheticFlow wires jobs into a Flow the way the builder would.
func syntheticFlow(jobs ...*StepJob) *Flow {
	f := newFlow(core.NewTask("t1", core.TaskKindTranscode, nil))
	for _, job := range jobs {
		if job.MaxAttempts == 0 {
			job.MaxAttempts = 3
		}
		f.add(job)
	}
	return f
}

func newTestScheduler(execs map[string]steps.Executor, cfg *core.Config) *Scheduler {
	if cfg == nil {
		cfg = testSchedulerConfig()
	}
	return NewScheduler(steps.NewStaticRegistry(execs), cfg, nil)
}

func staticExec(output map[string]interface{}) steps.Executor {
	return func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
		return output, nil
	}
}

func TestSchedulerCarriesOutputsDownstream(t *testing.T) {
	var got map[string]interface{}
	s := newTestScheduler(map[string]steps.Executor{
		"a": staticExec(map[string]interface{}{"mediaId": "m1"}),
		"b": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			got = input
			return map[string]interface{}{"done": true}, nil
		},
	}, nil)

	f := syntheticFlow(
		&StepJob{Kind: "a", Input: map[string]interface{}{"uploadId": "u1"}},
		&StepJob{Kind: "b", Input: map[string]interface{}{"uploadId": "u1"}, DependsOn: []string{"a"}},
	)

	results, err := s.Run(context.Background(), f, nil, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "m1", got["mediaId"], "parent output flows into the child input")
	assert.Equal(t, "u1", got["uploadId"], "builder input keys are preserved")
	assert.Equal(t, core.StepStatusCompleted, results["a"].Status)
	assert.Equal(t, core.StepStatusCompleted, results["b"].Status)
	assert.Equal(t, 1, results["b"].Attempts)
}

func TestSchedulerBuilderInputPinsOverCarry(t *testing.T) {
	var got map[string]interface{}
	s := newTestScheduler(map[string]steps.Executor{
		"a": staticExec(map[string]interface{}{"version": 9}),
		"b": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			got = input
			return nil, nil
		},
	}, nil)

	f := syntheticFlow(
		&StepJob{Kind: "a"},
		&StepJob{Kind: "b", Input: map[string]interface{}{"version": 2}, DependsOn: []string{"a"}},
	)

	_, err := s.Run(context.Background(), f, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, got["version"])
}

func TestSchedulerResumeSkipsCompletedSteps(t *testing.T) {
	var aRuns, bRuns int32
	var got map[string]interface{}
	s := newTestScheduler(map[string]steps.Executor{
		"a": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			atomic.AddInt32(&aRuns, 1)
			return map[string]interface{}{"mediaId": "fresh"}, nil
		},
		"b": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			atomic.AddInt32(&bRuns, 1)
			got = input
			return nil, nil
		},
	}, nil)

	f := syntheticFlow(
		&StepJob{Kind: "a"},
		&StepJob{Kind: "b", DependsOn: []string{"a"}},
	)

	resume := map[string]core.StepResult{
		"a": {
			Kind:   "a",
			Status: core.StepStatusCompleted,
			Output: map[string]interface{}{"mediaId": "memoized"},
		},
	}

	results, err := s.Run(context.Background(), f, resume, nil, nil)
	require.NoError(t, err)

	assert.Zero(t, atomic.LoadInt32(&aRuns), "completed steps are never re-executed")
	assert.Equal(t, int32(1), atomic.LoadInt32(&bRuns))
	assert.Equal(t, "memoized", got["mediaId"], "the memoized output feeds downstream")
	assert.Equal(t, "memoized", results["a"].Output["mediaId"])
}

func TestSchedulerResumeIgnoresFailedEntries(t *testing.T) {
	var aRuns int32
	s := newTestScheduler(map[string]steps.Executor{
		"a": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			atomic.AddInt32(&aRuns, 1)
			return nil, nil
		},
	}, nil)

	f := syntheticFlow(&StepJob{Kind: "a"})
	resume := map[string]core.StepResult{
		"a": {Kind: "a", Status: core.StepStatusFailed, Error: "boom"},
	}

	results, err := s.Run(context.Background(), f, resume, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&aRuns), "failed entries are retried from scratch")
	assert.Equal(t, core.StepStatusCompleted, results["a"].Status)
}

func TestSchedulerRetriesUntilSuccess(t *testing.T) {
	var runs int32
	s := newTestScheduler(map[string]steps.Executor{
		"flaky": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			if atomic.AddInt32(&runs, 1) < 3 {
				return nil, errors.New("transient")
			}
			return map[string]interface{}{"ok": true}, nil
		},
	}, nil)

	f := syntheticFlow(&StepJob{Kind: "flaky", MaxAttempts: 3})

	results, err := s.Run(context.Background(), f, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&runs))
	assert.Equal(t, core.StepStatusCompleted, results["flaky"].Status)
	assert.Equal(t, 3, results["flaky"].Attempts)
}

func TestSchedulerExhaustsRetryBudget(t *testing.T) {
	var runs int32
	s := newTestScheduler(map[string]steps.Executor{
		"flaky": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			atomic.AddInt32(&runs, 1)
			return nil, errors.New("transient")
		},
	}, nil)

	f := syntheticFlow(&StepJob{Kind: "flaky", MaxAttempts: 2})

	results, err := s.Run(context.Background(), f, nil, nil, nil)
	require.NoError(t, err, "a failed step is a flow result, not a scheduler error")
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
	assert.Equal(t, core.StepStatusFailed, results["flaky"].Status)
	assert.False(t, results["flaky"].Terminal)
	assert.Equal(t, 2, results["flaky"].Attempts)
}

func TestSchedulerTerminalErrorShortCircuits(t *testing.T) {
	var runs int32
	s := newTestScheduler(map[string]steps.Executor{
		"bad": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			atomic.AddInt32(&runs, 1)
			return nil, fmt.Errorf("%w: malformed payload", core.ErrInvalidInput)
		},
	}, nil)

	f := syntheticFlow(&StepJob{Kind: "bad", MaxAttempts: 5})

	results, err := s.Run(context.Background(), f, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs), "terminal failures consume one attempt")
	assert.Equal(t, core.StepStatusFailed, results["bad"].Status)
	assert.True(t, results["bad"].Terminal)
}

func TestSchedulerHardFailureSkipsDependents(t *testing.T) {
	var downstream int32
	s := newTestScheduler(map[string]steps.Executor{
		"root": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			return nil, fmt.Errorf("%w: no such file", core.ErrNotFound)
		},
		"child": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			atomic.AddInt32(&downstream, 1)
			return nil, nil
		},
	}, nil)

	f := syntheticFlow(
		&StepJob{Kind: "root"},
		&StepJob{Kind: "child", DependsOn: []string{"root"}},
	)

	results, err := s.Run(context.Background(), f, nil, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&downstream))
	assert.Equal(t, core.StepStatusFailed, results["root"].Status)
	_, ran := results["child"]
	assert.False(t, ran, "skipped steps have no result entry")
}

func TestSchedulerPartialFailureContinues(t *testing.T) {
	s := newTestScheduler(map[string]steps.Executor{
		"upload": staticExec(map[string]interface{}{"objectUri": "gs://b/o"}),
		"labels": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			return nil, errors.New("provider down")
		},
		"objects":  staticExec(map[string]interface{}{"success": true}),
		"finalize": staticExec(map[string]interface{}{"analyzed": true}),
	}, nil)

	f := syntheticFlow(
		&StepJob{Kind: "upload"},
		&StepJob{Kind: "labels", AllowPartialFailure: true, MaxAttempts: 1, DependsOn: []string{"upload"}},
		&StepJob{Kind: "objects", AllowPartialFailure: true, DependsOn: []string{"upload"}},
		&StepJob{Kind: "finalize", DependsOn: []string{"labels", "objects"}},
	)

	results, err := s.Run(context.Background(), f, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, core.StepStatusFailed, results["labels"].Status)
	assert.Equal(t, core.StepStatusCompleted, results["objects"].Status)
	assert.Equal(t, core.StepStatusCompleted, results["finalize"].Status,
		"finalize runs past a failed partial sibling")
}

func TestSchedulerPersistCalledPerStep(t *testing.T) {
	var mu sync.Mutex
	var snapshots []int
	persist := func(results map[string]core.StepResult) error {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, len(results))
		return nil
	}

	s := newTestScheduler(map[string]steps.Executor{
		"a": staticExec(nil),
		"b": staticExec(nil),
	}, nil)

	f := syntheticFlow(
		&StepJob{Kind: "a"},
		&StepJob{Kind: "b", DependsOn: []string{"a"}},
	)

	_, err := s.Run(context.Background(), f, nil, nil, persist)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, snapshots)
}

func TestSchedulerPersistFailureDoesNotStopFlow(t *testing.T) {
	persist := func(map[string]core.StepResult) error { return errors.New("store down") }

	s := newTestScheduler(map[string]steps.Executor{"a": staticExec(nil)}, nil)
	f := syntheticFlow(&StepJob{Kind: "a"})

	results, err := s.Run(context.Background(), f, nil, nil, persist)
	require.NoError(t, err)
	assert.Equal(t, core.StepStatusCompleted, results["a"].Status)
}

func TestSchedulerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	s := newTestScheduler(map[string]steps.Executor{
		"slow": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
		"after": staticExec(nil),
	}, nil)

	f := syntheticFlow(
		&StepJob{Kind: "slow"},
		&StepJob{Kind: "after", DependsOn: []string{"slow"}},
	)

	results, err := s.Run(ctx, f, nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCancelled)
	_, ran := results["after"]
	assert.False(t, ran, "no new steps start after cancellation")
}

func TestSchedulerStepTimeoutIsRetryable(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.StepTimeout = 10 * time.Millisecond

	var runs int32
	s := newTestScheduler(map[string]steps.Executor{
		"slow": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			if atomic.AddInt32(&runs, 1) == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return map[string]interface{}{"ok": true}, nil
		},
	}, cfg)

	f := syntheticFlow(&StepJob{Kind: "slow", MaxAttempts: 3})

	results, err := s.Run(context.Background(), f, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, core.StepStatusCompleted, results["slow"].Status)
	assert.Equal(t, 2, results["slow"].Attempts, "a timed-out attempt is retried")
}

func TestSchedulerUnknownStepKind(t *testing.T) {
	s := newTestScheduler(map[string]steps.Executor{}, nil)
	f := syntheticFlow(&StepJob{Kind: "ghost"})

	results, err := s.Run(context.Background(), f, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, core.StepStatusFailed, results["ghost"].Status)
	assert.True(t, results["ghost"].Terminal)
}

func TestSchedulerRecoversFromPanic(t *testing.T) {
	s := newTestScheduler(map[string]steps.Executor{
		"boom": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			panic("nil map write")
		},
	}, nil)

	f := syntheticFlow(&StepJob{Kind: "boom"})

	results, err := s.Run(context.Background(), f, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, core.StepStatusFailed, results["boom"].Status)
	assert.Contains(t, results["boom"].Error, "panic")
}

func TestSchedulerProgressReaches100(t *testing.T) {
	var mu sync.Mutex
	var percents []int
	reporter := progressFunc(func(p *core.StepProgress) error {
		mu.Lock()
		defer mu.Unlock()
		percents = append(percents, p.Percent)
		return nil
	})

	s := newTestScheduler(map[string]steps.Executor{
		"a": func(ctx context.Context, input map[string]interface{}, sc *steps.StepContext) (map[string]interface{}, error) {
			sc.Progress(50)
			sc.Progress(100)
			return nil, nil
		},
	}, nil)

	f := syntheticFlow(&StepJob{Kind: "a"})
	_, err := s.Run(context.Background(), f, nil, reporter, nil)
	require.NoError(t, err)

	require.Len(t, percents, 2)
	assert.Equal(t, 50, percents[0])
	assert.Equal(t, 100, percents[1])
}

type progressFunc func(*core.StepProgress) error

func (f progressFunc) Report(p *core.StepProgress) error { return f(p) }
