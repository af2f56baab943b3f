// Package providers defines the external analysis provider boundary for the
// detect-labels flow: video intelligence (labels, objects, faces, people)
// and speech transcription. Responses are cached raw by the artifact cache
// and normalized by the step executors.
package providers

import (
	"context"
)

// Provider names used for cache keys and artifact processor tags.
const (
	ProviderVideoIntelligence = "video-intelligence"
	ProviderSpeechToText      = "speech-to-text"
)

// Feature selects one analysis kind on the video-intelligence provider.
type Feature string

const (
	FeatureLabelDetection  Feature = "LABEL_DETECTION"
	FeatureObjectTracking  Feature = "OBJECT_TRACKING"
	FeatureFaceDetection   Feature = "FACE_DETECTION"
	FeaturePersonDetection Feature = "PERSON_DETECTION"
	FeatureShotDetection   Feature = "SHOT_CHANGE_DETECTION"
)

// Segment is a time range with a confidence score.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Entity names a detected concept.
type Entity struct {
	ID          string `json:"id,omitempty"`
	Description string `json:"description"`
}

// LabelAnnotation is one segment-level label with its occurrences.
type LabelAnnotation struct {
	Entity   Entity    `json:"entity"`
	Segments []Segment `json:"segments"`
}

// TrackAnnotation is one spatial tracking (object, face or person).
type TrackAnnotation struct {
	Entity  Entity  `json:"entity"`
	TrackID string  `json:"track_id"`
	Segment Segment `json:"segment"`
}

// AnnotateResponse is the video-intelligence provider response.
type AnnotateResponse struct {
	LabelAnnotations  []LabelAnnotation `json:"label_annotations,omitempty"`
	ObjectAnnotations []TrackAnnotation `json:"object_annotations,omitempty"`
	FaceAnnotations   []TrackAnnotation `json:"face_annotations,omitempty"`
	PersonAnnotations []TrackAnnotation `json:"person_annotations,omitempty"`
	ShotSegments      []Segment         `json:"shot_segments,omitempty"`
}

// VideoIntelligence annotates a stored object with the selected features.
type VideoIntelligence interface {
	Annotate(ctx context.Context, objectURI string, features []Feature) (*AnnotateResponse, error)
}

// SpeechConfig configures a transcription request.
type SpeechConfig struct {
	LanguageCode string `json:"language_code,omitempty"`
}

// SpeechResult is one transcribed utterance.
type SpeechResult struct {
	Transcript Transcript `json:"transcript"`
}

// Transcript carries the text and its time range.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
}

// TranscribeResponse is the speech provider response.
type TranscribeResponse struct {
	Results []SpeechResult `json:"results"`
}

// SpeechToText transcribes the audio track of a stored object.
type SpeechToText interface {
	Transcribe(ctx context.Context, objectURI string, cfg SpeechConfig) (*TranscribeResponse, error)
}
