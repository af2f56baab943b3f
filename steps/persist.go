package steps

import (
	"context"
	"fmt"

	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/store"
)

// PersistCounts summarizes one persistence pass.
type PersistCounts struct {
	Entities int `json:"entities"`
	Tracks   int `json:"tracks"`
	Clips    int `json:"clips"`
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

// PersistNormalized writes a normalized batch through the idempotent
// upsert: entities first, then tracks carrying the entity row ids, then
// clips carrying entity and track ids, then the per-media summary. Item
// failures are counted, not fatal; the pass fails only when the store
// itself is unreachable.
func PersistNormalized(ctx context.Context, rs store.RecordStore, nc NormalizeContext, n *Normalized, log core.Logger) (*PersistCounts, error) {
	if log == nil {
		log = &core.NoOpLogger{}
	}
	counts := &PersistCounts{}

	entityIDs := make(map[string]string, len(n.Entities))
	specs := make([]store.UpsertSpec, 0, len(n.Entities))
	for _, e := range n.Entities {
		specs = append(specs, store.UpsertSpec{
			Collection: CollectionEntities,
			DedupField: "hash",
			DedupValue: e.Hash,
			Payload: store.Record{
				"hash":       e.Hash,
				"workspace":  e.Workspace,
				"label_type": e.LabelType,
				"name":       e.Name,
				"provider":   e.Provider,
			},
			Equal: func(existing store.Record) bool {
				// Entity fields are all part of the hash; an existing row
				// is always current.
				return true
			},
		})
	}
	res, err := store.UpsertBatch(ctx, rs, specs, 0, log)
	if err != nil {
		return counts, fmt.Errorf("persist entities: %w", err)
	}
	tally(counts, res)
	counts.Entities = len(n.Entities) - res.Failed
	for i, e := range n.Entities {
		if res.IDs[i] != "" {
			entityIDs[e.Hash] = res.IDs[i]
		}
	}

	trackIDs := make(map[string]string, len(n.Tracks))
	specs = specs[:0]
	kept := make([]Track, 0, len(n.Tracks))
	for _, t := range n.Tracks {
		entityID, ok := entityIDs[t.EntityHash]
		if !ok {
			counts.Failed++
			continue
		}
		kept = append(kept, t)
		specs = append(specs, store.UpsertSpec{
			Collection: CollectionTracks,
			DedupField: "hash",
			DedupValue: t.Hash,
			Payload: store.Record{
				"hash":       t.Hash,
				"media":      t.MediaID,
				"track_id":   t.TrackID,
				"label_type": t.LabelType,
				"entity":     entityID,
				"start":      t.Start,
				"end":        t.End,
				"confidence": t.Confidence,
			},
		})
	}
	res, err = store.UpsertBatch(ctx, rs, specs, 0, log)
	if err != nil {
		return counts, fmt.Errorf("persist tracks: %w", err)
	}
	tally(counts, res)
	counts.Tracks = len(kept) - res.Failed
	for i, t := range kept {
		if res.IDs[i] != "" {
			trackIDs[t.Hash] = res.IDs[i]
		}
	}

	specs = specs[:0]
	clipTotal := 0
	for _, c := range n.Clips {
		payload := store.Record{
			"hash":        c.Hash,
			"coarse_hash": c.CoarseHash,
			"media":       c.MediaID,
			"workspace":   c.Workspace,
			"label_type":  c.LabelType,
			"label":       c.Label,
			"start":       c.Start,
			"end":         c.End,
			"confidence":  c.Confidence,
			"version":     c.Version,
		}
		if id, ok := entityIDs[c.EntityHash]; ok {
			payload["entity"] = id
		}
		if c.TrackHash != "" {
			if id, ok := trackIDs[c.TrackHash]; ok {
				payload["track"] = id
			}
		}
		specs = append(specs, store.UpsertSpec{
			Collection: CollectionClips,
			DedupField: "hash",
			DedupValue: c.Hash,
			Payload:    payload,
		})
		clipTotal++
	}
	res, err = store.UpsertBatch(ctx, rs, specs, 0, log)
	if err != nil {
		return counts, fmt.Errorf("persist clips: %w", err)
	}
	tally(counts, res)
	counts.Clips = clipTotal - res.Failed

	if err := persistSummary(ctx, rs, nc, n.Summary); err != nil {
		return counts, err
	}
	return counts, nil
}

// persistSummary folds this pass's counts into the per-media summary row.
// The summary accumulates across analysis steps, so existing counts are
// added to, not replaced, except when this pass contributes nothing.
func persistSummary(ctx context.Context, rs store.RecordStore, nc NormalizeContext, s Summary) error {
	res, err := rs.List(ctx, CollectionSummaries, 1, 1,
		store.Filter().Eq("media", nc.MediaID).String(), "")
	if err != nil {
		return fmt.Errorf("query summary: %w", err)
	}

	payload := store.Record{
		"media":        nc.MediaID,
		"version":      nc.Version,
		"shot_count":   s.ShotCount,
		"label_count":  s.LabelCount,
		"object_count": s.ObjectCount,
		"face_count":   s.FaceCount,
		"person_count": s.PersonCount,
		"speech_count": s.SpeechCount,
	}

	if len(res.Items) > 0 {
		existing := res.Items[0]
		// Counts from other analysis kinds live on the same row; keep the
		// larger value per field so re-runs stay idempotent.
		payload["shot_count"] = maxInt(s.ShotCount, existing.GetInt("shot_count"))
		payload["label_count"] = maxInt(s.LabelCount, existing.GetInt("label_count"))
		payload["object_count"] = maxInt(s.ObjectCount, existing.GetInt("object_count"))
		payload["face_count"] = maxInt(s.FaceCount, existing.GetInt("face_count"))
		payload["person_count"] = maxInt(s.PersonCount, existing.GetInt("person_count"))
		payload["speech_count"] = maxInt(s.SpeechCount, existing.GetInt("speech_count"))
		if _, err := rs.Update(ctx, CollectionSummaries, existing.ID(), payload); err != nil {
			return fmt.Errorf("update summary: %w", err)
		}
		return nil
	}

	if _, err := rs.Create(ctx, CollectionSummaries, payload); err != nil {
		if store.IsUniqueViolation(err) {
			// A sibling analysis step created the row first; retry as update.
			return persistSummary(ctx, rs, nc, s)
		}
		return fmt.Errorf("create summary: %w", err)
	}
	return nil
}

func tally(counts *PersistCounts, res *store.BatchResult) {
	counts.Created += res.Created
	counts.Updated += res.Updated
	counts.Failed += res.Failed
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
