package steps

import (
	"context"
	"fmt"

	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/mediatool"
	"github.com/dastron/video-ware-sub000/store"
)

// ProbeInput identifies the uploaded file to inspect.
type ProbeInput struct {
	FilePath    string `json:"filePath"`
	UploadID    string `json:"uploadId"`
	WorkspaceID string `json:"workspace,omitempty"`
}

// ProbeOutput carries the probe result downstream and the media record id.
type ProbeOutput struct {
	Probe   *mediatool.ProbeResult `json:"probe"`
	MediaID string                 `json:"mediaId"`
}

// executeProbe inspects the uploaded file and ensures a Media record exists
// for the upload. Media is created with version 1; re-runs leave the version
// untouched.
func (d *Deps) executeProbe(ctx context.Context, input map[string]interface{}, sc *StepContext) (map[string]interface{}, error) {
	var in ProbeInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.FilePath == "" || in.UploadID == "" {
		return nil, fmt.Errorf("%w: probe requires filePath and uploadId", core.ErrInvalidInput)
	}

	localPath, err := d.Blobs.Resolve(ctx, in.FilePath)
	if err != nil {
		return nil, fmt.Errorf("resolve media file: %w", err)
	}

	probe, err := d.Tool.Probe(ctx, localPath)
	if err != nil {
		return nil, err
	}
	sc.report(50)

	mediaID, err := d.ensureMedia(ctx, &in, probe)
	if err != nil {
		return nil, err
	}
	sc.report(100)

	sc.Logger.Info("Probe complete", map[string]interface{}{
		"upload":   in.UploadID,
		"media":    mediaID,
		"duration": probe.Duration,
		"codec":    probe.Codec,
	})

	return toMap(&ProbeOutput{Probe: probe, MediaID: mediaID})
}

// ensureMedia creates or refreshes the Media record for the upload. The
// upload field carries a unique index, so concurrent probes race on create
// and converge on one row. Version is written only on create; the worker
// never bumps an existing media version.
func (d *Deps) ensureMedia(ctx context.Context, in *ProbeInput, probe *mediatool.ProbeResult) (string, error) {
	patch := store.Record{
		"upload":    in.UploadID,
		"workspace": in.WorkspaceID,
		"duration":  probe.Duration,
		"width":     probe.Width,
		"height":    probe.Height,
		"codec":     probe.Codec,
		"fps":       probe.FPS,
	}

	existing, err := findMediaByUpload(ctx, d.Records, in.UploadID)
	if err != nil {
		return "", err
	}

	if existing == nil {
		created := patch.Clone()
		created["version"] = 1
		rec, err := d.Records.Create(ctx, CollectionMedia, created)
		if err == nil {
			return rec.ID(), nil
		}
		if !store.IsUniqueViolation(err) {
			return "", fmt.Errorf("create media for upload %s: %w", in.UploadID, err)
		}
		existing, err = findMediaByUpload(ctx, d.Records, in.UploadID)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return "", fmt.Errorf("%w: unique violation on media.upload but no row for %q",
				core.ErrInternal, in.UploadID)
		}
	}

	rec, err := d.Records.Update(ctx, CollectionMedia, existing.ID(), patch)
	if err != nil {
		return "", fmt.Errorf("update media for upload %s: %w", in.UploadID, err)
	}
	return rec.ID(), nil
}

func findMediaByUpload(ctx context.Context, rs store.RecordStore, uploadID string) (store.Record, error) {
	res, err := rs.List(ctx, CollectionMedia, 1, 1,
		store.Filter().Eq("upload", uploadID).String(), "")
	if err != nil {
		return nil, fmt.Errorf("query media for upload %s: %w", uploadID, err)
	}
	if len(res.Items) == 0 {
		return nil, nil
	}
	return res.Items[0], nil
}
