package steps

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/hashing"
	"github.com/dastron/video-ware-sub000/mediatool"
)

// TranscodeInput configures the proxy rendition.
type TranscodeInput struct {
	FilePath string                    `json:"filePath"`
	UploadID string                    `json:"uploadId"`
	Probe    *mediatool.ProbeResult    `json:"probe"`
	Provider string                    `json:"provider,omitempty"`
	Config   mediatool.TranscodeConfig `json:"config"`
}

// TranscodeOutput is the rendered proxy's local path.
type TranscodeOutput struct {
	ProxyPath string `json:"proxyPath"`
}

// executeTranscode renders the proxy, forwarding tool progress to the step
// sink. The tool already clamps progress monotone into 0-100.
func (d *Deps) executeTranscode(ctx context.Context, input map[string]interface{}, sc *StepContext) (map[string]interface{}, error) {
	var in TranscodeInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.FilePath == "" || in.UploadID == "" || in.Probe == nil {
		return nil, fmt.Errorf("%w: transcode requires filePath, uploadId and probe", core.ErrInvalidInput)
	}

	// Fail on bad codec/resolution before spending tool time.
	if _, _, err := in.Config.Dimensions(in.Probe); err != nil {
		return nil, err
	}

	localPath, err := d.Blobs.Resolve(ctx, in.FilePath)
	if err != nil {
		return nil, fmt.Errorf("resolve media file: %w", err)
	}

	dir, err := d.Blobs.TempDir("proxy")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}

	name := fmt.Sprintf("proxy_%s_%s.mp4", in.UploadID, hashing.Short(in.Config))
	outPath := filepath.Join(dir, name)

	err = d.Tool.Transcode(ctx, localPath, outPath, in.Config, in.Probe, func(percent int) {
		sc.report(percent)
	})
	if err != nil {
		return nil, fmt.Errorf("transcode proxy: %w", err)
	}

	sc.Logger.Info("Proxy rendered", map[string]interface{}{
		"upload":     in.UploadID,
		"resolution": in.Config.Resolution,
		"codec":      in.Config.Codec,
		"path":       outPath,
	})

	return toMap(&TranscodeOutput{ProxyPath: outPath})
}
