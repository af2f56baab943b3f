package flow

import (
	"encoding/json"
	"fmt"

	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/steps"
)

// StepJob is one node of a built flow.
type StepJob struct {
	// Kind selects the executor
	Kind string

	// Input is the builder-provided input; the scheduler merges completed
	// ancestor outputs on top before execution
	Input map[string]interface{}

	// MaxAttempts bounds executions of this step within one flow run
	MaxAttempts int

	// AllowPartialFailure lets the flow continue past this step's failure
	AllowPartialFailure bool

	// DependsOn lists parent step kinds
	DependsOn []string
}

// Flow is the runnable graph for one task.
type Flow struct {
	Task *core.Task
	Jobs map[string]*StepJob
	DAG  *DAG
}

// transcodePayload is the task payload shape for the transcode flow.
type transcodePayload struct {
	UploadID  string                 `json:"uploadId"`
	FilePath  string                 `json:"filePath"`
	Workspace string                 `json:"workspace"`
	Thumbnail map[string]interface{} `json:"thumbnail"`
	Sprite    map[string]interface{} `json:"sprite"`
	Transcode struct {
		Enabled    bool    `json:"enabled"`
		Codec      string  `json:"codec"`
		Resolution string  `json:"resolution"`
		Bitrate    float64 `json:"bitrate"`
	} `json:"transcode"`
}

// detectLabelsPayload is the task payload shape for the detect-labels flow.
type detectLabelsPayload struct {
	MediaID    string                 `json:"mediaId"`
	FileRef    string                 `json:"fileRef"`
	Workspace  string                 `json:"workspace"`
	Version    int                    `json:"version"`
	Processors []string               `json:"processors"`
	Normalize  bool                   `json:"normalize"`
	Config     map[string]interface{} `json:"config"`
}

// Build materializes the step graph for the task. The graph is validated
// before return; unknown task kinds are terminal.
func Build(task *core.Task, cfg *core.Config) (*Flow, error) {
	switch task.Kind {
	case core.TaskKindTranscode:
		return buildTranscode(task, cfg)
	case core.TaskKindDetectLabels:
		return buildDetectLabels(task, cfg)
	default:
		return nil, fmt.Errorf("%w: unknown task kind %q", core.ErrInvalidInput, task.Kind)
	}
}

func buildTranscode(task *core.Task, cfg *core.Config) (*Flow, error) {
	var p transcodePayload
	if err := decodePayload(task.Payload, &p); err != nil {
		return nil, err
	}
	if p.UploadID == "" {
		return nil, fmt.Errorf("%w: transcode task requires uploadId", core.ErrInvalidInput)
	}
	if p.Workspace == "" {
		p.Workspace = task.WorkspaceID
	}

	f := newFlow(task)
	attempts := cfg.StepRetry.MaxAttempts

	f.add(&StepJob{
		Kind: steps.KindProbe,
		Input: map[string]interface{}{
			"filePath":  p.FilePath,
			"uploadId":  p.UploadID,
			"workspace": p.Workspace,
		},
		MaxAttempts: attempts,
	})
	f.add(&StepJob{
		Kind: steps.KindThumbnail,
		Input: map[string]interface{}{
			"filePath": p.FilePath,
			"uploadId": p.UploadID,
			"config":   p.Thumbnail,
		},
		MaxAttempts: attempts,
		DependsOn:   []string{steps.KindProbe},
	})
	f.add(&StepJob{
		Kind: steps.KindSprite,
		Input: map[string]interface{}{
			"filePath": p.FilePath,
			"uploadId": p.UploadID,
			"config":   p.Sprite,
		},
		MaxAttempts: attempts,
		DependsOn:   []string{steps.KindThumbnail},
	})

	last := steps.KindSprite
	if p.Transcode.Enabled {
		f.add(&StepJob{
			Kind: steps.KindTranscode,
			Input: map[string]interface{}{
				"filePath": p.FilePath,
				"uploadId": p.UploadID,
				"config": map[string]interface{}{
					"codec":      p.Transcode.Codec,
					"resolution": p.Transcode.Resolution,
					"bitrate":    p.Transcode.Bitrate,
				},
			},
			MaxAttempts: attempts,
			DependsOn:   []string{steps.KindSprite},
		})
		last = steps.KindTranscode
	}

	f.add(&StepJob{
		Kind: steps.KindFinalize,
		Input: map[string]interface{}{
			"uploadId": p.UploadID,
		},
		MaxAttempts: attempts,
		DependsOn:   []string{last},
	})

	return f, f.DAG.Validate()
}

func buildDetectLabels(task *core.Task, cfg *core.Config) (*Flow, error) {
	var p detectLabelsPayload
	if err := decodePayload(task.Payload, &p); err != nil {
		return nil, err
	}
	if p.MediaID == "" || p.FileRef == "" {
		return nil, fmt.Errorf("%w: detect-labels task requires mediaId and fileRef", core.ErrInvalidInput)
	}
	if p.Workspace == "" {
		p.Workspace = task.WorkspaceID
	}
	if p.Version <= 0 {
		p.Version = 1
	}

	enabled := enabledAnalyses(p.Processors, cfg.Providers)
	if len(enabled) == 0 {
		return nil, fmt.Errorf("%w: no analysis processors enabled", core.ErrInvalidInput)
	}

	f := newFlow(task)
	attempts := cfg.StepRetry.MaxAttempts

	f.add(&StepJob{
		Kind: steps.KindUpload,
		Input: map[string]interface{}{
			"mediaId": p.MediaID,
			"fileRef": p.FileRef,
		},
		MaxAttempts: attempts,
	})

	for _, kind := range enabled {
		f.add(&StepJob{
			Kind: kind,
			Input: map[string]interface{}{
				"workspace": p.Workspace,
				"mediaId":   p.MediaID,
				"version":   p.Version,
				"taskRef":   task.ID,
				"config":    p.Config,
			},
			MaxAttempts:         attempts,
			AllowPartialFailure: true,
			DependsOn:           []string{steps.KindUpload},
		})
	}

	finalizeDeps := append([]string{}, enabled...)
	if p.Normalize {
		f.add(&StepJob{
			Kind: steps.KindNormalize,
			Input: map[string]interface{}{
				"workspace": p.Workspace,
				"mediaId":   p.MediaID,
				"version":   p.Version,
			},
			MaxAttempts: attempts,
			DependsOn:   append([]string{}, enabled...),
		})
		finalizeDeps = append(finalizeDeps, steps.KindNormalize)
	}

	f.add(&StepJob{
		Kind: steps.KindFinalizeLabels,
		Input: map[string]interface{}{
			"mediaId": p.MediaID,
			"version": p.Version,
		},
		MaxAttempts: attempts,
		DependsOn:   finalizeDeps,
	})

	return f, f.DAG.Validate()
}

// enabledAnalyses resolves the analysis set: an explicit processors list on
// the payload wins, otherwise the configured provider flags decide.
func enabledAnalyses(requested []string, flags core.ProviderFlags) []string {
	if len(requested) > 0 {
		var out []string
		for _, kind := range requested {
			if steps.IsAnalysisKind(kind) {
				out = append(out, kind)
			}
		}
		return out
	}

	var out []string
	if flags.LabelDetection {
		out = append(out, steps.KindLabelDetection)
	}
	if flags.ObjectTracking {
		out = append(out, steps.KindObjectTracking)
	}
	if flags.FaceDetection {
		out = append(out, steps.KindFaceDetection)
	}
	if flags.PersonDetection {
		out = append(out, steps.KindPersonDetection)
	}
	if flags.SpeechTranscription {
		out = append(out, steps.KindSpeechTranscription)
	}
	return out
}

func newFlow(task *core.Task) *Flow {
	return &Flow{
		Task: task,
		Jobs: make(map[string]*StepJob),
		DAG:  NewDAG(),
	}
}

func (f *Flow) add(job *StepJob) {
	f.Jobs[job.Kind] = job
	f.DAG.AddNode(job.Kind, job.AllowPartialFailure, job.DependsOn)
}

// decodePayload maps the opaque task payload onto a typed struct.
func decodePayload(payload map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode task payload: %v", core.ErrInvalidInput, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode task payload: %v", core.ErrInvalidInput, err)
	}
	return nil
}
