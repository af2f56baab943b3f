package steps

import (
	"context"
	"fmt"

	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/store"
)

// NormalizeInput identifies the media whose cached responses to unify.
type NormalizeInput struct {
	Workspace string          `json:"workspace"`
	MediaID   string          `json:"mediaId"`
	Version   int             `json:"version"`
	Filters   *QualityFilters `json:"filters,omitempty"`
}

// NormalizeOutput is the unified clip set from all cached responses.
type NormalizeOutput struct {
	LabelClips []Clip  `json:"labelClips"`
	Summary    Summary `json:"summary"`
}

// executeNormalize is the legacy unification sub-path: it replays every
// cached analysis response for the media into one clip set without calling
// any provider or persisting rows. Missing cache entries contribute
// nothing; with no entries at all the output is empty and the aggregator
// decides the flow outcome.
func (d *Deps) executeNormalize(ctx context.Context, input map[string]interface{}, sc *StepContext) (map[string]interface{}, error) {
	var in NormalizeInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.MediaID == "" {
		return nil, fmt.Errorf("%w: normalize requires mediaId", core.ErrInvalidInput)
	}
	if in.Version <= 0 {
		in.Version = 1
	}
	if d.Cache == nil {
		return nil, fmt.Errorf("%w: normalize requires an artifact cache", core.ErrInvalidInput)
	}

	filters := DefaultQualityFilters()
	if in.Filters != nil {
		filters = *in.Filters
	}

	unified := &Normalized{}
	for _, kind := range AnalysisKinds {
		entry, ok, err := d.Cache.Get(ctx, in.MediaID, in.Version, kind)
		if err != nil {
			return nil, err
		}
		if !ok || !entry.Valid(d.Config.ProcessorVersion) {
			continue
		}

		ai := AnalysisInput{Workspace: in.Workspace, MediaID: in.MediaID, Version: in.Version}
		n, err := normalizeResponse(kind, normalizeContextFor(kind, &ai), entry.Response, filters)
		if err != nil {
			sc.Logger.Warn("Skipping undecodable cached response", map[string]interface{}{
				"kind":  kind,
				"media": in.MediaID,
				"error": err.Error(),
			})
			continue
		}
		unified.Merge(n)
	}
	sc.report(100)

	clips := unified.Clips
	if clips == nil {
		clips = []Clip{}
	}
	return toMap(&NormalizeOutput{LabelClips: clips, Summary: unified.Summary})
}

// FinalizeLabelsInput identifies the analyzed media.
type FinalizeLabelsInput struct {
	MediaID string `json:"mediaId"`
	Version int    `json:"version"`
}

// FinalizeLabelsOutput is the terminal detect-labels result.
type FinalizeLabelsOutput struct {
	MediaID          string  `json:"mediaId"`
	ProcessorVersion string  `json:"processorVersion"`
	Summary          Summary `json:"summary"`
}

// executeFinalizeLabels marks the media analyzed and surfaces the
// accumulated summary counts. Runs after every analysis sibling has
// terminated; siblings that failed simply contributed no counts.
func (d *Deps) executeFinalizeLabels(ctx context.Context, input map[string]interface{}, sc *StepContext) (map[string]interface{}, error) {
	var in FinalizeLabelsInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.MediaID == "" {
		return nil, fmt.Errorf("%w: finalize requires mediaId", core.ErrInvalidInput)
	}

	summary := Summary{}
	res, err := d.Records.List(ctx, CollectionSummaries, 1, 1,
		store.Filter().Eq("media", in.MediaID).String(), "")
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	if len(res.Items) > 0 {
		row := res.Items[0]
		summary = Summary{
			ShotCount:   row.GetInt("shot_count"),
			LabelCount:  row.GetInt("label_count"),
			ObjectCount: row.GetInt("object_count"),
			FaceCount:   row.GetInt("face_count"),
			PersonCount: row.GetInt("person_count"),
			SpeechCount: row.GetInt("speech_count"),
		}
	}
	sc.report(50)

	patch := store.Record{
		"analyzed":          true,
		"processor_version": d.Config.ProcessorVersion,
	}
	if _, err := d.Records.Update(ctx, CollectionMedia, in.MediaID, patch); err != nil {
		return nil, fmt.Errorf("mark media analyzed: %w", err)
	}
	sc.report(100)

	sc.Logger.Info("Detect-labels finalized", map[string]interface{}{
		"media":   in.MediaID,
		"labels":  summary.LabelCount,
		"objects": summary.ObjectCount,
		"speech":  summary.SpeechCount,
	})

	return toMap(&FinalizeLabelsOutput{
		MediaID:          in.MediaID,
		ProcessorVersion: d.Config.ProcessorVersion,
		Summary:          summary,
	})
}
