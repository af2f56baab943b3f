package steps

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/hashing"
	"github.com/dastron/video-ware-sub000/mediatool"
)

// SpriteInput configures the tiled sprite sheet.
type SpriteInput struct {
	FilePath string                 `json:"filePath"`
	UploadID string                 `json:"uploadId"`
	Probe    *mediatool.ProbeResult `json:"probe"`
	Config   mediatool.SpriteConfig `json:"config"`
}

// SpriteOutput is the rendered sheet's local path.
type SpriteOutput struct {
	SpritePath string `json:"spritePath"`
}

// executeSprite renders the sprite sheet with the thumbnail naming scheme.
func (d *Deps) executeSprite(ctx context.Context, input map[string]interface{}, sc *StepContext) (map[string]interface{}, error) {
	var in SpriteInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.FilePath == "" || in.UploadID == "" || in.Probe == nil {
		return nil, fmt.Errorf("%w: sprite requires filePath, uploadId and probe", core.ErrInvalidInput)
	}
	if in.Config.FPS <= 0 || in.Config.Cols <= 0 || in.Config.Rows <= 0 ||
		in.Config.TileWidth <= 0 || in.Config.TileHeight <= 0 {
		return nil, fmt.Errorf("%w: sprite grid values must be positive", core.ErrInvalidInput)
	}

	localPath, err := d.Blobs.Resolve(ctx, in.FilePath)
	if err != nil {
		return nil, fmt.Errorf("resolve media file: %w", err)
	}

	dir, err := d.Blobs.TempDir("sprite")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}

	name := fmt.Sprintf("sprite_%s_%s.jpg", in.UploadID, hashing.Short(in.Config))
	outPath := filepath.Join(dir, name)

	if err := d.Tool.GenerateSprite(ctx, localPath, outPath, in.Config, in.Probe); err != nil {
		return nil, fmt.Errorf("generate sprite: %w", err)
	}
	sc.report(100)

	sc.Logger.Debug("Sprite rendered", map[string]interface{}{
		"upload": in.UploadID,
		"path":   outPath,
	})

	return toMap(&SpriteOutput{SpritePath: outPath})
}
