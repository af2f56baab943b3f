package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dastron/video-ware-sub000/core"
)

// MemoryStore is an in-process RecordStore with unique-index enforcement and
// the filter dialect subset the worker uses (equality terms joined by &&).
// It backs tests and local single-node runs.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Record
	uniques     map[string][]string
	now         func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]Record),
		uniques:     make(map[string][]string),
		now:         time.Now,
	}
}

// AddUniqueIndex enforces uniqueness of field within collection. Creates
// that collide return *UniqueViolationError, matching the remote store.
func (m *MemoryStore) AddUniqueIndex(collection, field string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uniques[collection] = append(m.uniques[collection], field)
}

// Create inserts a record, assigning id/created/updated fields.
func (m *MemoryStore) Create(ctx context.Context, collection string, payload Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, field := range m.uniques[collection] {
		want, ok := payload[field]
		if !ok {
			continue
		}
		for _, existing := range m.collections[collection] {
			if valueEqual(existing[field], want) {
				return nil, &UniqueViolationError{Collection: collection, Field: field}
			}
		}
	}

	rec := payload.Clone()
	if rec.ID() == "" {
		rec["id"] = uuid.NewString()
	}
	ts := m.now().UTC().Format(time.RFC3339Nano)
	rec["created"] = ts
	rec["updated"] = ts

	m.collections[collection] = append(m.collections[collection], rec)
	return rec.Clone(), nil
}

// Update patches an existing record in place.
func (m *MemoryStore) Update(ctx context.Context, collection, id string, patch Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, rec := range m.collections[collection] {
		if rec.ID() != id {
			continue
		}
		updated := rec.Clone()
		for k, v := range patch {
			if k == "id" || k == "created" {
				continue
			}
			updated[k] = v
		}
		updated["updated"] = m.now().UTC().Format(time.RFC3339Nano)
		m.collections[collection][i] = updated
		return updated.Clone(), nil
	}

	return nil, fmt.Errorf("%w: %s[%s]", core.ErrNotFound, collection, id)
}

// GetByID fetches one record by id.
func (m *MemoryStore) GetByID(ctx context.Context, collection, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.collections[collection] {
		if rec.ID() == id {
			return rec.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s[%s]", core.ErrNotFound, collection, id)
}

// List returns one page of matching records.
func (m *MemoryStore) List(ctx context.Context, collection string, page, perPage int, filter, sortField string) (*ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 30
	}

	terms, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	var matched []Record
	for _, rec := range m.collections[collection] {
		if matchesAll(rec, terms) {
			matched = append(matched, rec.Clone())
		}
	}
	m.mu.RUnlock()

	if sortField != "" {
		desc := strings.HasPrefix(sortField, "-")
		field := strings.TrimPrefix(sortField, "-")
		sort.SliceStable(matched, func(i, j int) bool {
			a, b := fmt.Sprintf("%v", matched[i][field]), fmt.Sprintf("%v", matched[j][field])
			if desc {
				return a > b
			}
			return a < b
		})
	}

	total := len(matched)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	return &ListResult{Items: matched[start:end], Total: total}, nil
}

// CreateFile stores the file path as an attachment record.
func (m *MemoryStore) CreateFile(ctx context.Context, collection, localPath string, meta Record) (Record, error) {
	payload := Record{}
	if meta != nil {
		payload = meta.Clone()
	}
	payload["file"] = localPath
	return m.Create(ctx, collection, payload)
}

// filterTerm is one parsed equality comparison.
type filterTerm struct {
	field string
	value interface{}
}

// parseFilter understands the dialect subset the worker emits:
// `field = "quoted" && other = 3 && flag = true`.
func parseFilter(filter string) ([]filterTerm, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, nil
	}

	var terms []filterTerm
	for _, clause := range strings.Split(filter, "&&") {
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: unsupported filter clause %q", core.ErrInvalidInput, clause)
		}
		field := strings.TrimSpace(parts[0])
		raw := strings.TrimSpace(parts[1])

		var value interface{}
		switch {
		case strings.HasPrefix(raw, `"`):
			s, err := strconv.Unquote(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: bad string literal %q", core.ErrInvalidInput, raw)
			}
			value = s
		case raw == "true" || raw == "false":
			value = raw == "true"
		default:
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad literal %q", core.ErrInvalidInput, raw)
			}
			value = f
		}
		terms = append(terms, filterTerm{field: field, value: value})
	}
	return terms, nil
}

func matchesAll(rec Record, terms []filterTerm) bool {
	for _, t := range terms {
		if !valueEqual(rec[t.field], t.value) {
			return false
		}
	}
	return true
}

// valueEqual compares loosely across numeric types, since JSON roundtrips
// turn ints into float64.
func valueEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == b
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
