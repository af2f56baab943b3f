package flow

import (
	"fmt"
	"sort"

	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/steps"
)

// Outcome is the aggregated terminal classification of one flow run.
type Outcome struct {
	// Status is the resulting task status (succeeded or failed)
	Status core.TaskStatus

	// Succeeded and Failed list step kinds by terminal state, sorted
	Succeeded []string
	Failed    []string

	// Error is the task-level error message when Status is failed
	Error string

	// Result is the payload persisted on the task when Status is succeeded
	Result map[string]interface{}
}

// Aggregate classifies the final result set per flow kind.
//
// Transcode succeeds only when every step completed. Detect-labels follows
// the partial-success policy: at least one analysis step and the finalize
// step must complete; failed siblings are reported in the result.
func Aggregate(kind core.TaskKind, results map[string]core.StepResult) *Outcome {
	out := &Outcome{}
	for step, r := range results {
		if r.Status == core.StepStatusCompleted {
			out.Succeeded = append(out.Succeeded, step)
		} else {
			out.Failed = append(out.Failed, step)
		}
	}
	sort.Strings(out.Succeeded)
	sort.Strings(out.Failed)

	switch kind {
	case core.TaskKindTranscode:
		aggregateTranscode(out, results)
	case core.TaskKindDetectLabels:
		aggregateDetectLabels(out, results)
	default:
		out.Status = core.TaskStatusFailed
		out.Error = fmt.Sprintf("unknown task kind %q", kind)
	}
	return out
}

func aggregateTranscode(out *Outcome, results map[string]core.StepResult) {
	if len(out.Failed) > 0 || len(results) == 0 {
		out.Status = core.TaskStatusFailed
		out.Error = firstError(results, out.Failed)
		return
	}

	out.Status = core.TaskStatusSucceeded
	if final, ok := results[steps.KindFinalize]; ok {
		out.Result = final.Output
	}
}

func aggregateDetectLabels(out *Outcome, results map[string]core.StepResult) {
	analysisDone := 0
	for step, r := range results {
		if steps.IsAnalysisKind(step) && r.Status == core.StepStatusCompleted {
			analysisDone++
		}
	}
	finalize, finalized := results[steps.KindFinalizeLabels]
	finalizeOK := finalized && finalize.Status == core.StepStatusCompleted

	if analysisDone == 0 {
		out.Status = core.TaskStatusFailed
		out.Error = "all enabled processors failed"
		return
	}
	if !finalizeOK {
		out.Status = core.TaskStatusFailed
		out.Error = firstError(results, []string{steps.KindFinalizeLabels})
		if out.Error == "" {
			out.Error = "finalize step did not complete"
		}
		return
	}

	out.Status = core.TaskStatusSucceeded
	out.Result = map[string]interface{}{
		"successful": out.Succeeded,
		"failed":     out.Failed,
	}
	for k, v := range finalize.Output {
		out.Result[k] = v
	}
}

// firstError picks the error message of the first failed step, preferring
// the given order.
func firstError(results map[string]core.StepResult, failed []string) string {
	for _, step := range failed {
		if r, ok := results[step]; ok && r.Error != "" {
			return fmt.Sprintf("step %s: %s", step, r.Error)
		}
	}
	return "flow did not run to completion"
}
