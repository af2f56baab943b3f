// Package cache provides the content-addressed artifact cache for external
// provider responses. Entries are keyed by (mediaID, version, provider) and
// validated at read time against the current processor version: an entry
// recorded under any other version is invisible to callers.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

// Entry is one cached provider response.
type Entry struct {
	MediaID          string          `json:"media_id"`
	Version          int             `json:"version"`
	Provider         string          `json:"provider"`
	Response         json.RawMessage `json:"response"`
	ProcessorVersion string          `json:"processor_version"`
	Features         []string        `json:"features,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Valid reports whether the entry was produced by the current processor
// version. Equality only: a rollback invalidates newer entries too.
func (e *Entry) Valid(currentProcessorVersion string) bool {
	return e != nil && e.ProcessorVersion == currentProcessorVersion
}

// ArtifactCache stores provider responses. Put is an idempotent overwrite:
// writing an existing key means a newer attempt re-ran the call under the
// same processor version.
type ArtifactCache interface {
	Get(ctx context.Context, mediaID string, version int, provider string) (*Entry, bool, error)
	Put(ctx context.Context, entry *Entry) error
}

// MemoryCache is an in-process ArtifactCache for tests and local runs.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Entry)}
}

func entryKey(mediaID string, version int, provider string) string {
	// mediaID and provider are store identifiers and never contain '|'
	return mediaID + "|" + strconv.Itoa(version) + "|" + provider
}

func (c *MemoryCache) Get(ctx context.Context, mediaID string, version int, provider string) (*Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[entryKey(mediaID, version, provider)]
	if !ok {
		return nil, false, nil
	}
	cp := *entry
	return &cp, true, nil
}

func (c *MemoryCache) Put(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *entry
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	c.entries[entryKey(entry.MediaID, entry.Version, entry.Provider)] = &cp
	return nil
}
