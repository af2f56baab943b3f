package steps

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dastron/video-ware-sub000/blob"
	"github.com/dastron/video-ware-sub000/core"
)

// UploadInput identifies the media file to place in the object store.
type UploadInput struct {
	MediaID string `json:"mediaId"`
	FileRef string `json:"fileRef"`
}

// UploadOutput reports where the object lives and whether work happened.
type UploadOutput struct {
	ObjectURI      string `json:"objectUri"`
	Uploaded       bool   `json:"uploaded"`
	AlreadyExisted bool   `json:"alreadyExisted"`
}

// executeUpload makes the media available at its deterministic object path.
// Refs that are already object URIs pass through untouched; objects already
// present are not re-uploaded.
func (d *Deps) executeUpload(ctx context.Context, input map[string]interface{}, sc *StepContext) (map[string]interface{}, error) {
	var in UploadInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.MediaID == "" || in.FileRef == "" {
		return nil, fmt.Errorf("%w: upload requires mediaId and fileRef", core.ErrInvalidInput)
	}

	if blob.IsObjectURI(in.FileRef) {
		sc.report(100)
		return toMap(&UploadOutput{ObjectURI: in.FileRef, AlreadyExisted: true})
	}

	remotePath := blob.MediaPath(d.Config.PathTemplate, in.MediaID, filepath.Base(in.FileRef))

	exists, err := d.Blobs.Exists(ctx, remotePath)
	if err != nil {
		return nil, fmt.Errorf("check object %s: %w", remotePath, err)
	}
	sc.report(20)

	out := &UploadOutput{}
	if exists {
		// Deterministic rendering: an existing object has identical content.
		out.AlreadyExisted = true
		out.ObjectURI = d.Blobs.URI(remotePath)
	} else {
		uri, err := d.Blobs.Put(ctx, in.FileRef, remotePath)
		if err != nil {
			return nil, fmt.Errorf("upload object %s: %w", remotePath, err)
		}
		out.Uploaded = true
		out.ObjectURI = uri
	}
	sc.report(100)

	sc.Logger.Debug("Object store upload", map[string]interface{}{
		"media":    in.MediaID,
		"uri":      out.ObjectURI,
		"uploaded": out.Uploaded,
	})

	return toMap(out)
}
