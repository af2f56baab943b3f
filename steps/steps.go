// Package steps contains the per-kind step executors. Every executor
// follows the same contract: decode and validate its input (invalid input is
// terminal), consult the artifact cache where applicable, call the external
// tool or provider, normalize the response into storage-ready records, and
// persist them through the idempotent upsert. Outputs are flat maps so the
// scheduler can merge them into downstream step inputs and persist them on
// the task for resume.
package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dastron/video-ware-sub000/blob"
	"github.com/dastron/video-ware-sub000/cache"
	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/mediatool"
	"github.com/dastron/video-ware-sub000/providers"
	"github.com/dastron/video-ware-sub000/store"
)

// Step kinds. The kind strings are persisted in task result maps, so they
// must stay stable across releases.
const (
	KindProbe     = "probe"
	KindThumbnail = "thumbnail"
	KindSprite    = "sprite"
	KindTranscode = "transcode"
	KindFinalize  = "finalize"

	KindUpload              = "upload-to-object-store"
	KindLabelDetection      = "label-detection"
	KindObjectTracking      = "object-tracking"
	KindFaceDetection       = "face-detection"
	KindPersonDetection     = "person-detection"
	KindSpeechTranscription = "speech-transcription"
	KindNormalize           = "normalize"
	KindFinalizeLabels      = "finalize-labels"
)

// Metadata store collections written by the executors.
const (
	CollectionTasks     = "tasks"
	CollectionMedia     = "media"
	CollectionFiles     = "files"
	CollectionEntities  = "entities"
	CollectionTracks    = "tracks"
	CollectionClips     = "clips"
	CollectionSummaries = "summaries"
)

// AnalysisKinds lists the detect-labels analysis steps in builder order.
var AnalysisKinds = []string{
	KindLabelDetection,
	KindObjectTracking,
	KindFaceDetection,
	KindPersonDetection,
	KindSpeechTranscription,
}

// IsAnalysisKind reports whether kind is one of the parallel analysis steps.
func IsAnalysisKind(kind string) bool {
	for _, k := range AnalysisKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Deps holds the external collaborators shared by all executors. Explicit
// construction, no container: the caller wires each handle.
type Deps struct {
	Records store.RecordStore
	Blobs   blob.Store
	Tool    mediatool.Tool
	Video   providers.VideoIntelligence
	Speech  providers.SpeechToText
	Cache   cache.ArtifactCache
	Logger  core.Logger
	Config  *core.Config
}

// StepContext carries the per-execution collaborators an executor may use.
type StepContext struct {
	// Step is the kind of the executing step
	Step string

	// Progress receives 0-100 updates; may be nil
	Progress func(percent int)

	// Logger is never nil
	Logger core.Logger
}

func (sc *StepContext) report(percent int) {
	if sc != nil && sc.Progress != nil {
		sc.Progress(percent)
	}
}

// Executor runs one step. Input and output are JSON-shaped maps; errors are
// classified through the core taxonomy.
type Executor func(ctx context.Context, input map[string]interface{}, sc *StepContext) (map[string]interface{}, error)

// Registry maps step kinds to executors.
type Registry struct {
	execs map[string]Executor
}

// NewRegistry wires every known step kind against deps. Missing optional
// collaborators (providers, cache) surface as terminal errors at execution
// time, not at wiring time.
func NewRegistry(d *Deps) *Registry {
	if d.Logger == nil {
		d.Logger = &core.NoOpLogger{}
	}
	return &Registry{execs: map[string]Executor{
		KindProbe:     d.executeProbe,
		KindThumbnail: d.executeThumbnail,
		KindSprite:    d.executeSprite,
		KindTranscode: d.executeTranscode,
		KindFinalize:  d.executeFinalize,

		KindUpload:              d.executeUpload,
		KindLabelDetection:      d.analysisExecutor(KindLabelDetection),
		KindObjectTracking:      d.analysisExecutor(KindObjectTracking),
		KindFaceDetection:       d.analysisExecutor(KindFaceDetection),
		KindPersonDetection:     d.analysisExecutor(KindPersonDetection),
		KindSpeechTranscription: d.analysisExecutor(KindSpeechTranscription),
		KindNormalize:           d.executeNormalize,
		KindFinalizeLabels:      d.executeFinalizeLabels,
	}}
}

// NewStaticRegistry builds a registry from an explicit executor map. Used
// to exercise the scheduler against synthetic steps.
func NewStaticRegistry(execs map[string]Executor) *Registry {
	return &Registry{execs: execs}
}

// Get returns the executor for kind.
func (r *Registry) Get(kind string) (Executor, bool) {
	e, ok := r.execs[kind]
	return e, ok
}

// decodeInput maps the opaque step input onto a typed struct via a JSON
// round trip. Malformed input is an input-validation failure, never retried.
func decodeInput(input map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("%w: encode step input: %v", core.ErrInvalidInput, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode step input: %v", core.ErrInvalidInput, err)
	}
	return nil
}

// toMap converts a typed output struct back into the scheduler's map shape.
func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode step output: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode step output: %w", err)
	}
	return out, nil
}
