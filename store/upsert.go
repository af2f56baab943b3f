package store

import (
	"context"
	"fmt"

	"github.com/dastron/video-ware-sub000/core"
)

// Action describes what Upsert did for one payload.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// UpsertSpec describes one idempotent write.
type UpsertSpec struct {
	// Collection to write into
	Collection string

	// DedupField is the unique-indexed field holding the dedup hash
	DedupField string

	// DedupValue is the hash identifying this logical record
	DedupValue string

	// Payload is the full record to create, or the patch to apply when a
	// row already exists. Must include DedupField = DedupValue.
	Payload Record

	// Equal reports whether the existing row already reflects the payload.
	// When nil, an existing row is always patched.
	Equal func(existing Record) bool
}

// UpsertResult reports the row id and what happened.
type UpsertResult struct {
	ID     string `json:"id"`
	Action Action `json:"action"`
}

// Upsert guarantees at most one record exists for the dedup value and that
// its fields reflect the payload.
//
// Query by dedup field first; create on zero rows. A create racing another
// writer surfaces as a unique violation, after which the winner's row is
// re-queried and used. Zero rows after a violation means the store lied
// about the constraint and is reported as an internal consistency error.
func Upsert(ctx context.Context, rs RecordStore, spec UpsertSpec) (*UpsertResult, error) {
	if spec.Collection == "" || spec.DedupField == "" || spec.DedupValue == "" {
		return nil, fmt.Errorf("%w: upsert spec missing collection or dedup key", core.ErrInvalidInput)
	}

	existing, err := findByDedup(ctx, rs, spec)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		created, err := rs.Create(ctx, spec.Collection, spec.Payload)
		if err == nil {
			return &UpsertResult{ID: created.ID(), Action: ActionCreated}, nil
		}
		if !IsUniqueViolation(err) {
			return nil, fmt.Errorf("upsert create %s: %w", spec.Collection, err)
		}

		// Lost the race: the winner's row must be visible now.
		existing, err = findByDedup(ctx, rs, spec)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: unique violation on %s.%s but no row for %q",
				core.ErrInternal, spec.Collection, spec.DedupField, spec.DedupValue)
		}
	}

	if spec.Equal != nil && spec.Equal(existing) {
		return &UpsertResult{ID: existing.ID(), Action: ActionUnchanged}, nil
	}

	updated, err := rs.Update(ctx, spec.Collection, existing.ID(), spec.Payload)
	if err != nil {
		return nil, fmt.Errorf("upsert update %s[%s]: %w", spec.Collection, existing.ID(), err)
	}
	return &UpsertResult{ID: updated.ID(), Action: ActionUpdated}, nil
}

func findByDedup(ctx context.Context, rs RecordStore, spec UpsertSpec) (Record, error) {
	res, err := rs.List(ctx, spec.Collection, 1, 1,
		Filter().Eq(spec.DedupField, spec.DedupValue).String(), "")
	if err != nil {
		return nil, fmt.Errorf("upsert query %s: %w", spec.Collection, err)
	}
	if len(res.Items) == 0 {
		return nil, nil
	}
	return res.Items[0], nil
}

// BatchResult summarizes an UpsertBatch run. Individual item failures do not
// abort the batch; unique violations are recovered inside Upsert, everything
// else counts as a hard error.
type BatchResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`

	// IDs holds the resulting row id per successful spec, in input order;
	// failed items hold "".
	IDs []string `json:"ids"`

	// Errors collects the per-item hard errors
	Errors []error `json:"-"`
}

// DefaultBatchSize bounds how many specs are processed per logging window.
const DefaultBatchSize = 100

// UpsertBatch applies specs in order, logging and counting failures without
// aborting. batchSize <= 0 uses DefaultBatchSize.
func UpsertBatch(ctx context.Context, rs RecordStore, specs []UpsertSpec, batchSize int, log core.Logger) (*BatchResult, error) {
	if log == nil {
		log = &core.NoOpLogger{}
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	result := &BatchResult{IDs: make([]string, len(specs))}

	for start := 0; start < len(specs); start += batchSize {
		end := start + batchSize
		if end > len(specs) {
			end = len(specs)
		}

		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			r, err := Upsert(ctx, rs, specs[i])
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, err)
				log.Warn("Batch upsert item failed", map[string]interface{}{
					"collection": specs[i].Collection,
					"dedup":      specs[i].DedupValue,
					"error":      err.Error(),
				})
				continue
			}

			result.IDs[i] = r.ID
			switch r.Action {
			case ActionCreated:
				result.Created++
			case ActionUpdated:
				result.Updated++
			default:
				result.Unchanged++
			}
		}

		log.Debug("Batch upsert window complete", map[string]interface{}{
			"from": start,
			"to":   end,
		})
	}

	return result, nil
}
