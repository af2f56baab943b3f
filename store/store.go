// Package store provides the metadata-store boundary: a generic record
// service with collections, filter queries, unique-constraint errors and
// file attachments, plus the idempotent upsert built on top of it.
//
// Two implementations ship with the worker: MemoryStore (tests, local runs)
// and HTTPStore (remote record service). Both surface unique-index
// violations as *UniqueViolationError so Upsert can recover from races.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dastron/video-ware-sub000/core"
)

// Record is a schemaless row in a collection. The store assigns "id",
// "created" and "updated" fields on create.
type Record map[string]interface{}

// ID returns the record identifier, or "" if unset.
func (r Record) ID() string {
	return r.GetString("id")
}

// GetString returns the named field as a string, or "" when absent or of a
// different type.
func (r Record) GetString(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// GetFloat returns the named field as a float64. JSON numbers decode as
// float64, so this covers numeric fields regardless of declared type.
func (r Record) GetFloat(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// GetInt returns the named field truncated to int.
func (r Record) GetInt(key string) int {
	return int(r.GetFloat(key))
}

// GetBool returns the named field as a bool, or false.
func (r Record) GetBool(key string) bool {
	if v, ok := r[key].(bool); ok {
		return v
	}
	return false
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ListResult is one page of a List call.
type ListResult struct {
	Items []Record `json:"items"`
	Total int      `json:"total"`
}

// RecordStore is the metadata-store interface consumed by the worker core.
type RecordStore interface {
	// Create inserts a record. Returns *UniqueViolationError when a unique
	// index rejects the payload.
	Create(ctx context.Context, collection string, payload Record) (Record, error)

	// Update patches an existing record. Returns core.ErrNotFound when the
	// id does not exist.
	Update(ctx context.Context, collection, id string, patch Record) (Record, error)

	// GetByID fetches one record. Returns core.ErrNotFound when absent.
	GetByID(ctx context.Context, collection, id string) (Record, error)

	// List returns one page of records matching filter, in sort order.
	// Filter uses the store's query dialect, e.g. `media = "X" && version = 2`.
	// Sort is a field name, "-" prefixed for descending; "" means unsorted.
	List(ctx context.Context, collection string, page, perPage int, filter, sort string) (*ListResult, error)

	// CreateFile attaches a local file to a new record in collection and
	// returns the created record.
	CreateFile(ctx context.Context, collection, localPath string, meta Record) (Record, error)
}

// UniqueViolationError reports a per-field unique-index rejection.
type UniqueViolationError struct {
	Collection string
	Field      string
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("validation_not_unique: %s.%s", e.Collection, e.Field)
}

// Unwrap ties the violation into the core error taxonomy.
func (e *UniqueViolationError) Unwrap() error {
	return core.ErrNotUnique
}

// IsUniqueViolation reports whether err is a unique-constraint rejection.
func IsUniqueViolation(err error) bool {
	var uv *UniqueViolationError
	return errors.As(err, &uv) || errors.Is(err, core.ErrNotUnique)
}
