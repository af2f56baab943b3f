// Package blob provides the blob-store boundary used for media sources and
// derived renditions. Paths are deterministic, so two concurrent writers may
// race on the same destination; last writer wins and readers see identical
// content because rendering is deterministic.
package blob

import (
	"context"
	"strings"
)

// Store is the blob-store interface consumed by step executors.
type Store interface {
	// Exists reports whether a remote path already holds an object.
	Exists(ctx context.Context, remotePath string) (bool, error)

	// Put uploads a local file to remotePath and returns the object URI.
	Put(ctx context.Context, localPath, remotePath string) (string, error)

	// URI returns the object URI a Put to remotePath would produce.
	URI(remotePath string) string

	// Resolve returns a local filesystem path for remoteRef, downloading
	// when necessary. Local refs resolve to themselves.
	Resolve(ctx context.Context, remoteRef string) (string, error)

	// TempDir creates a scratch directory tagged for cleanup.
	TempDir(tag string) (string, error)

	// Unlink removes a local scratch file. Missing files are not an error.
	Unlink(path string) error
}

// IsObjectURI reports whether ref is already an object-store URI
// (gs://, s3:// or another scheme-prefixed reference).
func IsObjectURI(ref string) bool {
	return strings.Contains(ref, "://")
}

// MediaPath renders the deterministic object path for a media asset from
// the configured template, e.g. "media/{mediaId}/{name}".
func MediaPath(template, mediaID, name string) string {
	out := strings.ReplaceAll(template, "{mediaId}", mediaID)
	out = strings.ReplaceAll(out, "{name}", name)
	return out
}
