package steps

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/hashing"
	"github.com/dastron/video-ware-sub000/mediatool"
)

// ThumbnailInput selects one frame from the probed media.
type ThumbnailInput struct {
	FilePath string                    `json:"filePath"`
	UploadID string                    `json:"uploadId"`
	Probe    *mediatool.ProbeResult    `json:"probe"`
	Config   mediatool.ThumbnailConfig `json:"config"`
}

// ThumbnailOutput is the rendered frame's local path.
type ThumbnailOutput struct {
	ThumbnailPath string `json:"thumbnailPath"`
}

// executeThumbnail extracts a single frame. The output name is a pure
// function of the upload and config, so retries overwrite the same file.
func (d *Deps) executeThumbnail(ctx context.Context, input map[string]interface{}, sc *StepContext) (map[string]interface{}, error) {
	var in ThumbnailInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.FilePath == "" || in.UploadID == "" || in.Probe == nil {
		return nil, fmt.Errorf("%w: thumbnail requires filePath, uploadId and probe", core.ErrInvalidInput)
	}
	if in.Config.Width <= 0 || in.Config.Height <= 0 {
		return nil, fmt.Errorf("%w: thumbnail dimensions must be positive", core.ErrInvalidInput)
	}

	localPath, err := d.Blobs.Resolve(ctx, in.FilePath)
	if err != nil {
		return nil, fmt.Errorf("resolve media file: %w", err)
	}

	dir, err := d.Blobs.TempDir("thumbnail")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}

	name := fmt.Sprintf("thumbnail_%s_%s.jpg", in.UploadID, hashing.Short(in.Config))
	outPath := filepath.Join(dir, name)

	if err := d.Tool.GenerateThumbnail(ctx, localPath, outPath, in.Config, in.Probe); err != nil {
		return nil, fmt.Errorf("generate thumbnail: %w", err)
	}
	sc.report(100)

	sc.Logger.Debug("Thumbnail rendered", map[string]interface{}{
		"upload": in.UploadID,
		"path":   outPath,
	})

	return toMap(&ThumbnailOutput{ThumbnailPath: outPath})
}
