// Package index builds inverted indexes over item collections and uses them
// to accelerate equality and containment rules.
//
// Structure: field -> normalized value key -> bitmap of item ordinals.
// Item IDs are interned to uint32 ordinals so buckets can be Roaring Bitmaps.
package index

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/rs/zerolog"

	"github.com/s0up4200/smartfolder/filter"
	"github.com/s0up4200/smartfolder/rule"
)

// FieldIndex is the inverted index for one field. It is immutable once built.
type FieldIndex struct {
	field   string
	buckets map[string]*bucket
	items   uint64
}

type bucket struct {
	value rule.Value // normalized
	ids   *roaring.Bitmap
}

// Field returns the indexed field path.
func (fi *FieldIndex) Field() string { return fi.field }

// Cardinality returns the number of distinct normalized values.
func (fi *FieldIndex) Cardinality() int { return len(fi.buckets) }

// Items returns the number of items that had a value for the field.
func (fi *FieldIndex) Items() uint64 { return fi.items }

// Stats summarizes one field index.
type Stats struct {
	Field       string
	Cardinality int
	Items       uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager owns the indexes for a set of fields.
type Manager struct {
	evaluator filter.Evaluator
	logger    zerolog.Logger

	mu       sync.RWMutex
	ordinals map[string]uint32
	indexes  map[string]*FieldIndex
}

// NewManager creates an index manager that falls back to evaluator for
// rules it cannot answer from an index.
func NewManager(evaluator filter.Evaluator, opts ...Option) *Manager {
	if evaluator == nil {
		evaluator = filter.NewEvaluator()
	}

	m := &Manager{
		evaluator: evaluator,
		logger:    zerolog.Nop(),
		ordinals:  make(map[string]uint32),
		indexes:   make(map[string]*FieldIndex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BuildIndex indexes field over items in a single pass and replaces any
// previous index for the field. Items without a value at the path are left
// out.
func (m *Manager) BuildIndex(items []rule.Item, field string) *FieldIndex {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.buildLocked(items, field)
}

// BuildIndexes calls BuildIndex once per field.
func (m *Manager) BuildIndexes(items []rule.Item, fields []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, field := range fields {
		m.buildLocked(items, field)
	}
}

// buildLocked builds and stores the index. Caller must hold m.mu.Lock().
func (m *Manager) buildLocked(items []rule.Item, field string) *FieldIndex {
	fi := &FieldIndex{
		field:   field,
		buckets: make(map[string]*bucket),
	}

	for _, item := range items {
		value, ok := item.Lookup(field)
		if !ok {
			continue
		}

		norm := rule.Normalize(value)
		key := norm.Key()
		b, ok := fi.buckets[key]
		if !ok {
			b = &bucket{value: norm, ids: roaring.New()}
			fi.buckets[key] = b
		}
		b.ids.Add(m.ordinalLocked(item.ID))
	}

	for _, b := range fi.buckets {
		b.ids.RunOptimize()
		fi.items += b.ids.GetCardinality()
	}

	m.indexes[field] = fi

	m.logger.Debug().
		Str("field", field).
		Int("items", len(items)).
		Int("cardinality", len(fi.buckets)).
		Msg("Built index")

	return fi
}

// ordinalLocked interns id. Caller must hold m.mu.Lock().
func (m *Manager) ordinalLocked(id string) uint32 {
	if ord, ok := m.ordinals[id]; ok {
		return ord
	}
	ord := uint32(len(m.ordinals))
	m.ordinals[id] = ord
	return ord
}

// FilterUsingIndex returns the items matching r, in input order.
//
// equals looks up the single bucket for the normalized operand. contains
// scans the distinct indexed values rather than the items. Every other
// operator, and any field without an index, is answered by evaluating each
// item.
func (m *Manager) FilterUsingIndex(items []rule.Item, r rule.Rule) []rule.Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fi, ok := m.indexes[r.Field]
	if !ok {
		return filter.Naive(m.evaluator, items, r)
	}

	var matches *roaring.Bitmap
	switch r.Operator {
	case rule.OpEquals:
		matches = fi.lookup(r.Value)
	case rule.OpContains:
		matches = fi.containing(r.Value)
	default:
		return filter.Naive(m.evaluator, items, r)
	}

	return m.selectLocked(items, matches)
}

// selectLocked keeps the items whose ordinal is in matches.
// Caller must hold m.mu.RLock().
func (m *Manager) selectLocked(items []rule.Item, matches *roaring.Bitmap) []rule.Item {
	if matches == nil || matches.IsEmpty() {
		return []rule.Item{}
	}

	out := make([]rule.Item, 0, min(len(items), int(matches.GetCardinality())))
	for _, item := range items {
		ord, ok := m.ordinals[item.ID]
		if ok && matches.Contains(ord) {
			out = append(out, item)
		}
	}
	return out
}

// lookup returns the bucket for the normalized value, or nil.
func (fi *FieldIndex) lookup(v rule.Value) *roaring.Bitmap {
	b, ok := fi.buckets[rule.Normalize(v).Key()]
	if !ok {
		return nil
	}
	return b.ids
}

// containing unions the buckets whose normalized text contains v.
func (fi *FieldIndex) containing(v rule.Value) *roaring.Bitmap {
	needle := rule.Normalize(v).Text()

	hits := make([]*roaring.Bitmap, 0)
	for _, b := range fi.buckets {
		if strings.Contains(b.value.Text(), needle) {
			hits = append(hits, b.ids)
		}
	}
	if len(hits) == 0 {
		return nil
	}
	return roaring.FastOr(hits...)
}

// Lookup returns the IDs indexed under value for field, sorted. The second
// return value is false when field has no index.
func (m *Manager) Lookup(field string, value rule.Value) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fi, ok := m.indexes[field]
	if !ok {
		return nil, false
	}

	bm := fi.lookup(value)
	if bm == nil {
		return []string{}, true
	}

	ids := make([]string, 0, bm.GetCardinality())
	for id, ord := range m.ordinals {
		if bm.Contains(ord) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, true
}

// HasIndex reports whether field has been indexed.
func (m *Manager) HasIndex(field string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.indexes[field]
	return ok
}

// Fields returns the indexed fields, sorted.
func (m *Manager) Fields() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Sorted(maps.Keys(m.indexes))
}

// Stats describes every index, sorted by field.
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Stats, 0, len(m.indexes))
	for _, field := range slices.Sorted(maps.Keys(m.indexes)) {
		fi := m.indexes[field]
		out = append(out, Stats{Field: field, Cardinality: fi.Cardinality(), Items: fi.items})
	}
	return out
}

// ClearIndexes drops every index and the ID table.
func (m *Manager) ClearIndexes() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.indexes = make(map[string]*FieldIndex)
	m.ordinals = make(map[string]uint32)
}
