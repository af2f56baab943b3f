// Package mediatool provides the local media tool boundary: probing,
// thumbnail and sprite generation, and proxy transcoding. FFmpegTool shells
// out to ffprobe/ffmpeg; tests substitute the Tool interface.
package mediatool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dastron/video-ware-sub000/core"
)

// ProbeResult describes the primary video stream of a media file.
type ProbeResult struct {
	Duration float64          `json:"duration"`
	Width    int              `json:"width"`
	Height   int              `json:"height"`
	Codec    string           `json:"codec"`
	FPS      float64          `json:"fps"`
	Bitrate  int64            `json:"bitrate,omitempty"`
	Format   string           `json:"format,omitempty"`
	Size     int64            `json:"size,omitempty"`
	Audio    *AudioDescriptor `json:"audio,omitempty"`
}

// AudioDescriptor describes the primary audio stream, when present.
type AudioDescriptor struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
}

// TimeSpec selects a thumbnail timestamp: either the literal second or the
// media midpoint. It unmarshals from a JSON number or the string "midpoint".
type TimeSpec struct {
	Midpoint bool    `json:"-"`
	Seconds  float64 `json:"-"`
}

// Resolve returns the pick time clamped into [0, duration-1].
func (t TimeSpec) Resolve(duration float64) float64 {
	pick := t.Seconds
	if t.Midpoint {
		pick = duration / 2
	}
	if pick < 0 {
		pick = 0
	}
	if max := duration - 1; pick > max {
		pick = max
	}
	if pick < 0 {
		pick = 0
	}
	return pick
}

func (t *TimeSpec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "midpoint" {
			return fmt.Errorf("%w: unknown timestamp %q", core.ErrInvalidInput, s)
		}
		t.Midpoint = true
		t.Seconds = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: timestamp must be a number or \"midpoint\"", core.ErrInvalidInput)
	}
	t.Midpoint = false
	t.Seconds = f
	return nil
}

func (t TimeSpec) MarshalJSON() ([]byte, error) {
	if t.Midpoint {
		return json.Marshal("midpoint")
	}
	return json.Marshal(t.Seconds)
}

// ThumbnailConfig configures a single-frame extraction.
type ThumbnailConfig struct {
	Timestamp TimeSpec `json:"timestamp"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
}

// SpriteConfig configures a tiled sprite sheet.
type SpriteConfig struct {
	FPS        float64 `json:"fps"`
	Cols       int     `json:"cols"`
	Rows       int     `json:"rows"`
	TileWidth  int     `json:"tileWidth"`
	TileHeight int     `json:"tileHeight"`
}

// Resolution names for proxy transcodes.
const (
	Resolution720p     = "720p"
	Resolution1080p    = "1080p"
	ResolutionOriginal = "original"
)

// TranscodeConfig configures a proxy transcode.
type TranscodeConfig struct {
	Codec      string `json:"codec"`
	Resolution string `json:"resolution"`
	Bitrate    int64  `json:"bitrate,omitempty"`
}

// Dimensions maps the named resolution to output pixels, falling back to
// the probed source dimensions for "original". Unknown names are terminal.
func (c TranscodeConfig) Dimensions(probe *ProbeResult) (width, height int, err error) {
	switch c.Resolution {
	case Resolution720p:
		return 1280, 720, nil
	case Resolution1080p:
		return 1920, 1080, nil
	case ResolutionOriginal:
		return probe.Width, probe.Height, nil
	default:
		return 0, 0, fmt.Errorf("%w: unknown resolution %q", core.ErrInvalidInput, c.Resolution)
	}
}

// ProgressFunc receives transcode progress in percent (0-100).
type ProgressFunc func(percent int)

// Tool is the local media tool interface consumed by step executors.
type Tool interface {
	// Probe inspects the media file at path.
	Probe(ctx context.Context, path string) (*ProbeResult, error)

	// GenerateThumbnail extracts one frame into outPath.
	GenerateThumbnail(ctx context.Context, path, outPath string, cfg ThumbnailConfig, probe *ProbeResult) error

	// GenerateSprite renders a tiled sprite sheet into outPath.
	GenerateSprite(ctx context.Context, path, outPath string, cfg SpriteConfig, probe *ProbeResult) error

	// Transcode renders a proxy into outPath, reporting progress.
	Transcode(ctx context.Context, path, outPath string, cfg TranscodeConfig, probe *ProbeResult, progress ProgressFunc) error
}
