package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dastron/video-ware-sub000/cache"
	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/providers"
	"github.com/dastron/video-ware-sub000/telemetry"
)

// AnalysisConfig tunes one analysis step.
type AnalysisConfig struct {
	LanguageCode string          `json:"languageCode,omitempty"`
	Filters      *QualityFilters `json:"filters,omitempty"`
}

// AnalysisInput is the shared input shape of all analysis steps.
type AnalysisInput struct {
	Workspace string         `json:"workspace"`
	MediaID   string         `json:"mediaId"`
	Version   int            `json:"version"`
	TaskRef   string         `json:"taskRef,omitempty"`
	ObjectURI string         `json:"objectUri"`
	Config    AnalysisConfig `json:"config"`
}

// AnalysisOutput is the shared output shape of all analysis steps.
type AnalysisOutput struct {
	Success          bool           `json:"success"`
	CacheHit         bool           `json:"cacheHit"`
	ProcessorVersion string         `json:"processorVersion"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
	Counts           *PersistCounts `json:"counts"`
	Summary          Summary        `json:"summary"`
}

// analysisFeatures maps an analysis step kind to its provider features.
// Label detection also requests shot boundaries for the media summary.
var analysisFeatures = map[string][]providers.Feature{
	KindLabelDetection:  {providers.FeatureLabelDetection, providers.FeatureShotDetection},
	KindObjectTracking:  {providers.FeatureObjectTracking},
	KindFaceDetection:   {providers.FeatureFaceDetection},
	KindPersonDetection: {providers.FeaturePersonDetection},
}

// analysisExecutor builds the executor for one analysis kind. All kinds
// share one path: cache read, provider call on miss, cache write, pure
// normalization, idempotent persistence.
func (d *Deps) analysisExecutor(kind string) Executor {
	return func(ctx context.Context, input map[string]interface{}, sc *StepContext) (map[string]interface{}, error) {
		started := time.Now()

		var in AnalysisInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		if in.MediaID == "" || in.ObjectURI == "" {
			return nil, fmt.Errorf("%w: %s requires mediaId and objectUri", core.ErrInvalidInput, kind)
		}
		if in.Version <= 0 {
			in.Version = 1
		}

		raw, cacheHit, err := d.fetchResponse(ctx, kind, &in)
		if err != nil {
			return nil, err
		}
		sc.report(40)

		filters := DefaultQualityFilters()
		if in.Config.Filters != nil {
			filters = *in.Config.Filters
		}

		normalized, err := normalizeResponse(kind, normalizeContextFor(kind, &in), raw, filters)
		if err != nil {
			return nil, err
		}
		sc.report(60)

		counts, err := PersistNormalized(ctx, d.Records, normalizeContextFor(kind, &in), normalized, sc.Logger)
		if err != nil {
			return nil, err
		}
		sc.report(100)

		telemetry.Counter("mediaworker.analysis.completed", "kind", kind)
		if cacheHit {
			telemetry.Counter("mediaworker.analysis.cache_hit", "kind", kind)
		}
		sc.Logger.Info("Analysis complete", map[string]interface{}{
			"kind":      kind,
			"media":     in.MediaID,
			"cache_hit": cacheHit,
			"clips":     counts.Clips,
		})

		return toMap(&AnalysisOutput{
			Success:          true,
			CacheHit:         cacheHit,
			ProcessorVersion: d.Config.ProcessorVersion,
			ProcessingTimeMs: time.Since(started).Milliseconds(),
			Counts:           counts,
			Summary:          normalized.Summary,
		})
	}
}

// fetchResponse returns the raw provider response, from cache when a valid
// entry exists. Cache entries are keyed per analysis kind so sibling steps
// never clobber each other's responses.
func (d *Deps) fetchResponse(ctx context.Context, kind string, in *AnalysisInput) (json.RawMessage, bool, error) {
	if d.Cache != nil {
		entry, ok, err := d.Cache.Get(ctx, in.MediaID, in.Version, kind)
		if err != nil {
			return nil, false, err
		}
		if ok && entry.Valid(d.Config.ProcessorVersion) {
			return entry.Response, true, nil
		}
	}

	raw, features, err := d.callProvider(ctx, kind, in)
	if err != nil {
		return nil, false, err
	}

	if d.Cache != nil {
		err := d.Cache.Put(ctx, &cache.Entry{
			MediaID:          in.MediaID,
			Version:          in.Version,
			Provider:         kind,
			Response:         raw,
			ProcessorVersion: d.Config.ProcessorVersion,
			Features:         features,
		})
		if err != nil {
			// A cold cache next attempt costs one provider call; the step
			// result is already in hand.
			d.Logger.Warn("Cache write failed", map[string]interface{}{
				"kind":  kind,
				"media": in.MediaID,
				"error": err.Error(),
			})
		}
	}
	return raw, false, nil
}

func (d *Deps) callProvider(ctx context.Context, kind string, in *AnalysisInput) (json.RawMessage, []string, error) {
	if kind == KindSpeechTranscription {
		if d.Speech == nil {
			return nil, nil, fmt.Errorf("%w: speech provider not configured", core.ErrInvalidInput)
		}
		resp, err := d.Speech.Transcribe(ctx, in.ObjectURI, providers.SpeechConfig{
			LanguageCode: in.Config.LanguageCode,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("transcribe %s: %w", in.MediaID, err)
		}
		raw, err := json.Marshal(resp)
		if err != nil {
			return nil, nil, fmt.Errorf("encode transcription: %w", err)
		}
		return raw, []string{"SPEECH_TRANSCRIPTION"}, nil
	}

	if d.Video == nil {
		return nil, nil, fmt.Errorf("%w: video provider not configured", core.ErrInvalidInput)
	}
	features := analysisFeatures[kind]
	resp, err := d.Video.Annotate(ctx, in.ObjectURI, features)
	if err != nil {
		return nil, nil, fmt.Errorf("annotate %s: %w", in.MediaID, err)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("encode annotation: %w", err)
	}
	tags := make([]string, len(features))
	for i, f := range features {
		tags[i] = string(f)
	}
	return raw, tags, nil
}

// normalizeContextFor stamps the provider name rows are attributed to.
func normalizeContextFor(kind string, in *AnalysisInput) NormalizeContext {
	provider := providers.ProviderVideoIntelligence
	if kind == KindSpeechTranscription {
		provider = providers.ProviderSpeechToText
	}
	return NormalizeContext{
		Workspace: in.Workspace,
		MediaID:   in.MediaID,
		Version:   in.Version,
		Provider:  provider,
	}
}

// normalizeResponse decodes the raw provider response and runs the pure
// normalizer for the kind.
func normalizeResponse(kind string, nc NormalizeContext, raw json.RawMessage, f QualityFilters) (*Normalized, error) {
	if kind == KindSpeechTranscription {
		var resp providers.TranscribeResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("%w: decode transcription response: %v", core.ErrInvalidInput, err)
		}
		return NormalizeSpeech(nc, &resp, f), nil
	}

	var resp providers.AnnotateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode annotation response: %v", core.ErrInvalidInput, err)
	}

	switch kind {
	case KindLabelDetection:
		return NormalizeLabels(nc, resp.LabelAnnotations, resp.ShotSegments, f), nil
	case KindObjectTracking:
		return NormalizeTracks(nc, LabelTypeObject, resp.ObjectAnnotations, f), nil
	case KindFaceDetection:
		return NormalizeTracks(nc, LabelTypeFace, resp.FaceAnnotations, f), nil
	case KindPersonDetection:
		return NormalizeTracks(nc, LabelTypePerson, resp.PersonAnnotations, f), nil
	default:
		return nil, fmt.Errorf("%w: unknown analysis kind %q", core.ErrInvalidInput, kind)
	}
}
