package steps

import (
	"math"
	"strings"

	"github.com/dastron/video-ware-sub000/hashing"
	"github.com/dastron/video-ware-sub000/providers"
)

// Label types recorded on normalized artifacts.
const (
	LabelTypeSegment = "segment-label"
	LabelTypeObject  = "object"
	LabelTypeFace    = "face"
	LabelTypePerson  = "person"
	LabelTypeSpeech  = "speech"
)

// QualityFilters holds the normalization thresholds. Track-derived clips
// are short and plentiful; segment labels must be long and confident to be
// worth a row.
type QualityFilters struct {
	TrackMinDuration     float64 `json:"track_min_duration"`
	TrackMinConfidence   float64 `json:"track_min_confidence"`
	SegmentMinDuration   float64 `json:"segment_min_duration"`
	SegmentMinConfidence float64 `json:"segment_min_confidence"`
}

// DefaultQualityFilters returns the default thresholds.
func DefaultQualityFilters() QualityFilters {
	return QualityFilters{
		TrackMinDuration:     0.5,
		TrackMinConfidence:   0.5,
		SegmentMinDuration:   5.0,
		SegmentMinConfidence: 0.7,
	}
}

// Entity is a storage-ready label concept, deduped per workspace.
type Entity struct {
	Hash      string `json:"hash"`
	Workspace string `json:"workspace"`
	LabelType string `json:"label_type"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
}

// Track is a storage-ready spatial tracking, deduped per processor run.
type Track struct {
	Hash       string  `json:"hash"`
	MediaID    string  `json:"media"`
	TrackID    string  `json:"track_id"`
	LabelType  string  `json:"label_type"`
	EntityHash string  `json:"entity_hash"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Clip is a storage-ready time range carrying a label.
type Clip struct {
	Hash       string  `json:"hash"`
	CoarseHash string  `json:"coarse_hash"`
	MediaID    string  `json:"media"`
	Workspace  string  `json:"workspace"`
	LabelType  string  `json:"label_type"`
	Label      string  `json:"label"`
	EntityHash string  `json:"entity_hash"`
	TrackHash  string  `json:"track_hash,omitempty"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Version    int     `json:"version"`
}

// Summary accumulates per-media counts across analysis steps.
type Summary struct {
	ShotCount   int `json:"shotCount"`
	LabelCount  int `json:"labelCount"`
	ObjectCount int `json:"objectCount"`
	FaceCount   int `json:"faceCount"`
	PersonCount int `json:"personCount"`
	SpeechCount int `json:"speechCount"`
}

// Normalized is the storage-ready output of one analysis response.
type Normalized struct {
	Entities []Entity
	Tracks   []Track
	Clips    []Clip
	Summary  Summary
}

// NormalizeContext carries the identifiers normalization stamps onto rows.
type NormalizeContext struct {
	Workspace string
	MediaID   string
	Version   int
	Provider  string
}

// NormalizeLabels converts segment-level label annotations into entities and
// clips. Segment labels have no track rows.
func NormalizeLabels(nc NormalizeContext, anns []providers.LabelAnnotation, shots []providers.Segment, f QualityFilters) *Normalized {
	out := &Normalized{Summary: Summary{ShotCount: len(shots)}}
	seen := make(map[string]bool)

	for _, ann := range anns {
		name := strings.TrimSpace(ann.Entity.Description)
		if name == "" {
			continue
		}
		entityHash := hashing.EntityHash(nc.Workspace, LabelTypeSegment, name, nc.Provider)

		kept := 0
		for _, seg := range ann.Segments {
			if !validSpan(seg.Start, seg.End, seg.Confidence) {
				continue
			}
			if seg.End-seg.Start < f.SegmentMinDuration || seg.Confidence < f.SegmentMinConfidence {
				continue
			}
			out.Clips = append(out.Clips, Clip{
				Hash:       hashing.ClipHash(nc.MediaID, LabelTypeSegment, name, seg.Start, seg.End, nc.Version),
				CoarseHash: hashing.CoarseClipHash(nc.Workspace, nc.MediaID, LabelTypeSegment, seg.Start, seg.End),
				MediaID:    nc.MediaID,
				Workspace:  nc.Workspace,
				LabelType:  LabelTypeSegment,
				Label:      name,
				EntityHash: entityHash,
				Start:      seg.Start,
				End:        seg.End,
				Confidence: seg.Confidence,
				Version:    nc.Version,
			})
			kept++
		}

		if kept > 0 && !seen[entityHash] {
			seen[entityHash] = true
			out.Entities = append(out.Entities, Entity{
				Hash:      entityHash,
				Workspace: nc.Workspace,
				LabelType: LabelTypeSegment,
				Name:      name,
				Provider:  nc.Provider,
			})
		}
	}

	out.Summary.LabelCount = len(out.Clips)
	return out
}

// NormalizeTracks converts spatial track annotations (objects, faces,
// people) into entities, tracks and track-derived clips.
func NormalizeTracks(nc NormalizeContext, labelType string, anns []providers.TrackAnnotation, f QualityFilters) *Normalized {
	out := &Normalized{}
	seen := make(map[string]bool)

	for _, ann := range anns {
		name := strings.TrimSpace(ann.Entity.Description)
		if name == "" || ann.TrackID == "" {
			continue
		}
		seg := ann.Segment
		if !validSpan(seg.Start, seg.End, seg.Confidence) {
			continue
		}
		if seg.End-seg.Start < f.TrackMinDuration || seg.Confidence < f.TrackMinConfidence {
			continue
		}

		entityHash := hashing.EntityHash(nc.Workspace, labelType, name, nc.Provider)
		trackHash := hashing.TrackHash(nc.MediaID, ann.TrackID, nc.Version, nc.Provider)

		if !seen[entityHash] {
			seen[entityHash] = true
			out.Entities = append(out.Entities, Entity{
				Hash:      entityHash,
				Workspace: nc.Workspace,
				LabelType: labelType,
				Name:      name,
				Provider:  nc.Provider,
			})
		}
		out.Tracks = append(out.Tracks, Track{
			Hash:       trackHash,
			MediaID:    nc.MediaID,
			TrackID:    ann.TrackID,
			LabelType:  labelType,
			EntityHash: entityHash,
			Start:      seg.Start,
			End:        seg.End,
			Confidence: seg.Confidence,
		})
		out.Clips = append(out.Clips, Clip{
			Hash:       hashing.ClipHash(nc.MediaID, labelType, name, seg.Start, seg.End, nc.Version),
			CoarseHash: hashing.CoarseClipHash(nc.Workspace, nc.MediaID, labelType, seg.Start, seg.End),
			MediaID:    nc.MediaID,
			Workspace:  nc.Workspace,
			LabelType:  labelType,
			Label:      name,
			EntityHash: entityHash,
			TrackHash:  trackHash,
			Start:      seg.Start,
			End:        seg.End,
			Confidence: seg.Confidence,
			Version:    nc.Version,
		})
	}

	switch labelType {
	case LabelTypeObject:
		out.Summary.ObjectCount = len(out.Tracks)
	case LabelTypeFace:
		out.Summary.FaceCount = len(out.Tracks)
	case LabelTypePerson:
		out.Summary.PersonCount = len(out.Tracks)
	}
	return out
}

// NormalizeSpeech converts transcription results into speech clips. Each
// utterance is its own entity-less clip; the transcript text is the label.
func NormalizeSpeech(nc NormalizeContext, resp *providers.TranscribeResponse, f QualityFilters) *Normalized {
	out := &Normalized{}
	if resp == nil {
		return out
	}

	for _, res := range resp.Results {
		t := res.Transcript
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		if !validSpan(t.Start, t.End, t.Confidence) {
			continue
		}
		if t.End-t.Start < f.TrackMinDuration || t.Confidence < f.TrackMinConfidence {
			continue
		}
		out.Clips = append(out.Clips, Clip{
			Hash:       hashing.ClipHash(nc.MediaID, LabelTypeSpeech, text, t.Start, t.End, nc.Version),
			CoarseHash: hashing.CoarseClipHash(nc.Workspace, nc.MediaID, LabelTypeSpeech, t.Start, t.End),
			MediaID:    nc.MediaID,
			Workspace:  nc.Workspace,
			LabelType:  LabelTypeSpeech,
			Label:      text,
			Start:      t.Start,
			End:        t.End,
			Confidence: t.Confidence,
			Version:    nc.Version,
		})
	}

	out.Summary.SpeechCount = len(out.Clips)
	return out
}

// Merge folds other into n, summing summary counts.
func (n *Normalized) Merge(other *Normalized) {
	if other == nil {
		return
	}
	n.Entities = append(n.Entities, other.Entities...)
	n.Tracks = append(n.Tracks, other.Tracks...)
	n.Clips = append(n.Clips, other.Clips...)
	n.Summary.ShotCount += other.Summary.ShotCount
	n.Summary.LabelCount += other.Summary.LabelCount
	n.Summary.ObjectCount += other.Summary.ObjectCount
	n.Summary.FaceCount += other.Summary.FaceCount
	n.Summary.PersonCount += other.Summary.PersonCount
	n.Summary.SpeechCount += other.Summary.SpeechCount
}

// validSpan rejects spans that are inverted, negative, non-finite, or carry
// a confidence outside [0,1].
func validSpan(start, end, confidence float64) bool {
	if math.IsNaN(start) || math.IsInf(start, 0) ||
		math.IsNaN(end) || math.IsInf(end, 0) ||
		math.IsNaN(confidence) || math.IsInf(confidence, 0) {
		return false
	}
	if start < 0 || end < 0 || start >= end {
		return false
	}
	return confidence >= 0 && confidence <= 1
}
