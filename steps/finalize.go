package steps

import (
	"context"
	"fmt"

	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/mediatool"
	"github.com/dastron/video-ware-sub000/store"
)

// FinalizeInput collects the rendered artifact paths for one upload.
type FinalizeInput struct {
	UploadID      string                 `json:"uploadId"`
	Probe         *mediatool.ProbeResult `json:"probe"`
	ThumbnailPath string                 `json:"thumbnailPath,omitempty"`
	SpritePath    string                 `json:"spritePath,omitempty"`
	ProxyPath     string                 `json:"proxyPath,omitempty"`
}

// FinalizeOutput is the terminal transcode-flow result.
type FinalizeOutput struct {
	MediaID          string                 `json:"mediaId"`
	ThumbnailFileID  string                 `json:"thumbnailFileId,omitempty"`
	SpriteFileID     string                 `json:"spriteFileId,omitempty"`
	ProxyFileID      string                 `json:"proxyFileId,omitempty"`
	ProcessorVersion string                 `json:"processorVersion"`
	Probe            *mediatool.ProbeResult `json:"probe"`
}

// executeFinalize registers one file record per rendered artifact and links
// them on the Media record. A re-run against a media that already carries
// every required reference reuses the existing file records instead of
// attaching duplicates.
func (d *Deps) executeFinalize(ctx context.Context, input map[string]interface{}, sc *StepContext) (map[string]interface{}, error) {
	var in FinalizeInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.UploadID == "" || in.Probe == nil {
		return nil, fmt.Errorf("%w: finalize requires uploadId and probe", core.ErrInvalidInput)
	}

	media, err := findMediaByUpload(ctx, d.Records, in.UploadID)
	if err != nil {
		return nil, err
	}
	if media == nil {
		return nil, fmt.Errorf("%w: media for upload %s", core.ErrNotFound, in.UploadID)
	}

	out := &FinalizeOutput{
		MediaID:          media.ID(),
		ProcessorVersion: d.Config.ProcessorVersion,
		Probe:            in.Probe,
	}

	if complete(media, in) {
		out.ThumbnailFileID = media.GetString("thumbnail")
		out.SpriteFileID = media.GetString("sprite")
		out.ProxyFileID = media.GetString("proxy")
		sc.report(100)
		return toMap(out)
	}

	patch := store.Record{
		"processor_version": d.Config.ProcessorVersion,
	}

	attach := func(kind, path string) (string, error) {
		if path == "" {
			return "", nil
		}
		if id := media.GetString(kind); id != "" {
			return id, nil
		}
		rec, err := d.Records.CreateFile(ctx, CollectionFiles, path, store.Record{
			"upload": in.UploadID,
			"media":  media.ID(),
			"kind":   kind,
		})
		if err != nil {
			return "", fmt.Errorf("register %s file: %w", kind, err)
		}
		patch[kind] = rec.ID()
		return rec.ID(), nil
	}

	if out.ThumbnailFileID, err = attach("thumbnail", in.ThumbnailPath); err != nil {
		return nil, err
	}
	sc.report(30)
	if out.SpriteFileID, err = attach("sprite", in.SpritePath); err != nil {
		return nil, err
	}
	sc.report(60)
	if out.ProxyFileID, err = attach("proxy", in.ProxyPath); err != nil {
		return nil, err
	}
	sc.report(90)

	if _, err := d.Records.Update(ctx, CollectionMedia, media.ID(), patch); err != nil {
		return nil, fmt.Errorf("link media artifacts: %w", err)
	}
	sc.report(100)

	sc.Logger.Info("Transcode finalized", map[string]interface{}{
		"upload": in.UploadID,
		"media":  media.ID(),
	})

	return toMap(out)
}

// complete reports whether media already references every artifact the
// input provides.
func complete(media store.Record, in FinalizeInput) bool {
	if in.ThumbnailPath != "" && media.GetString("thumbnail") == "" {
		return false
	}
	if in.SpritePath != "" && media.GetString("sprite") == "" {
		return false
	}
	if in.ProxyPath != "" && media.GetString("proxy") == "" {
		return false
	}
	return true
}
