// Package hashing produces the deterministic identifiers used for cache
// keys and derived-artifact dedup. Hashes are SHA-256 hex strings over a
// length-prefixed canonical encoding, so no field value can collide with a
// separator. The per-artifact schemes documented here are load-bearing:
// changing one orphans every existing artifact of that kind, because upsert
// would no longer find the prior rows.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Canonical returns the SHA-256 hex digest of the fields encoded as
// len(field) ":" field, concatenated. Length prefixing makes the encoding
// injective regardless of field contents.
func Canonical(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		fmt.Fprintf(h, "%d:", len(f))
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EntityHash identifies a label entity within a workspace.
// Scheme: workspace | labelType | lower(trim(name)) | provider.
func EntityHash(workspace, labelType, name, provider string) string {
	return Canonical(workspace, labelType, normalizeName(name), provider)
}

// ClipHash identifies an analysis clip at millisecond precision.
// Scheme: mediaID | labelType | lower(trim(label)) | start(3dp) | end(3dp) | version.
func ClipHash(mediaID, labelType, label string, start, end float64, version int) string {
	return Canonical(
		mediaID,
		labelType,
		normalizeName(label),
		FormatSeconds(start),
		FormatSeconds(end),
		strconv.Itoa(version),
	)
}

// CoarseClipHash identifies a clip for coarser cross-run dedup.
// Scheme: workspace | mediaID | labelType | floor(start) | floor(end).
func CoarseClipHash(workspace, mediaID, labelType string, start, end float64) string {
	return Canonical(
		workspace,
		mediaID,
		labelType,
		strconv.FormatInt(int64(math.Floor(start)), 10),
		strconv.FormatInt(int64(math.Floor(end)), 10),
	)
}

// TrackHash identifies a spatial track produced by one processor run.
// Scheme: mediaID | trackID | version | processor.
func TrackHash(mediaID, trackID string, version int, processor string) string {
	return Canonical(mediaID, trackID, strconv.Itoa(version), processor)
}

// CacheKey identifies a cached provider response.
// Scheme: mediaID | version | provider.
func CacheKey(mediaID string, version int, provider string) string {
	return Canonical(mediaID, strconv.Itoa(version), provider)
}

// Short returns the first 12 hex characters of the SHA-256 of v's JSON
// encoding. Used for deterministic output file names derived from configs.
// Struct values encode deterministically; do not pass maps with
// order-sensitive semantics.
func Short(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", v))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12]
}

// FormatSeconds renders a timestamp at fixed millisecond precision.
func FormatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
