package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// MemoryCatalog is an in-process catalog indexed with roaring bitmaps.
// It backs development setups and tests; production reads Postgres.
type MemoryCatalog struct {
	mu sync.RWMutex

	items    []Candidate // ordinal -> candidate; deleted slots have empty ID
	ordinals map[string]uint32

	all        *roaring.Bitmap
	byCategory map[string]*roaring.Bitmap
	byIntent   map[string]*roaring.Bitmap
	byTag      map[string]*roaring.Bitmap
}

// NewMemoryCatalog creates a catalog holding the given candidates
func NewMemoryCatalog(candidates ...Candidate) *MemoryCatalog {
	m := &MemoryCatalog{
		ordinals:   make(map[string]uint32),
		all:        roaring.New(),
		byCategory: make(map[string]*roaring.Bitmap),
		byIntent:   make(map[string]*roaring.Bitmap),
		byTag:      make(map[string]*roaring.Bitmap),
	}
	for _, c := range candidates {
		m.Upsert(c)
	}
	return m
}

// LoadMemoryCatalog reads a JSON array of candidates from path
func LoadMemoryCatalog(path string) (*MemoryCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog seed: %w", err)
	}
	var candidates []Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, fmt.Errorf("failed to parse catalog seed: %w", err)
	}
	return NewMemoryCatalog(candidates...), nil
}

// Upsert inserts or replaces a candidate
func (m *MemoryCatalog) Upsert(c Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ord, ok := m.ordinals[c.ID]; ok {
		m.unindex(ord)
		m.items[ord] = c
		m.index(ord)
		return
	}

	ord := uint32(len(m.items))
	m.items = append(m.items, c)
	m.ordinals[c.ID] = ord
	m.index(ord)
}

// Delete removes a candidate; unknown ids are ignored
func (m *MemoryCatalog) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ord, ok := m.ordinals[id]
	if !ok {
		return
	}
	m.unindex(ord)
	m.items[ord] = Candidate{}
	delete(m.ordinals, id)
}

func (m *MemoryCatalog) index(ord uint32) {
	c := m.items[ord]
	m.all.Add(ord)
	bitmapFor(m.byCategory, strings.ToLower(c.Category)).Add(ord)
	bitmapFor(m.byIntent, c.IntentCategory).Add(ord)
	for _, tag := range c.Tags {
		bitmapFor(m.byTag, strings.ToLower(tag)).Add(ord)
	}
}

func (m *MemoryCatalog) unindex(ord uint32) {
	c := m.items[ord]
	m.all.Remove(ord)
	if bm, ok := m.byCategory[strings.ToLower(c.Category)]; ok {
		bm.Remove(ord)
	}
	if bm, ok := m.byIntent[c.IntentCategory]; ok {
		bm.Remove(ord)
	}
	for _, tag := range c.Tags {
		if bm, ok := m.byTag[strings.ToLower(tag)]; ok {
			bm.Remove(ord)
		}
	}
}

func bitmapFor(index map[string]*roaring.Bitmap, key string) *roaring.Bitmap {
	bm, ok := index[key]
	if !ok {
		bm = roaring.New()
		index[key] = bm
	}
	return bm
}

// tagUnion returns the ordinals carrying any of the tags
func (m *MemoryCatalog) tagUnion(tags []string) *roaring.Bitmap {
	sets := make([]*roaring.Bitmap, 0, len(tags))
	for _, tag := range tags {
		if bm, ok := m.byTag[strings.ToLower(tag)]; ok {
			sets = append(sets, bm)
		}
	}
	return roaring.FastOr(sets...)
}

// Query implements Catalog
func (m *MemoryCatalog) Query(ctx context.Context, f Filter) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.all.Clone()
	if f.Category != "" {
		set.And(m.lookup(m.byCategory, strings.ToLower(f.Category)))
	}
	if f.IntentCategory != "" {
		set.And(m.lookup(m.byIntent, f.IntentCategory))
	}
	if len(f.Tags) > 0 {
		set.And(m.tagUnion(f.Tags))
	}

	var textTags *roaring.Bitmap
	phrase := strings.ToLower(strings.TrimSpace(f.Text))
	if phrase != "" {
		textTags = m.tagUnion(QueryWords(phrase))
	}

	out := make([]Candidate, 0, set.GetCardinality())
	it := set.Iterator()
	for it.HasNext() {
		ord := it.Next()
		c := m.items[ord]
		if f.ExcludeID != "" && c.ID == f.ExcludeID {
			continue
		}
		if f.FeaturedOrMinRating > 0 && !c.IsFeatured && c.AverageRating < f.FeaturedOrMinRating {
			continue
		}
		if phrase != "" && TextRelevance(c, phrase) == 0 && !textTags.Contains(ord) {
			continue
		}
		out = append(out, c)
	}

	sortCandidates(out, f.Order, phrase)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryCatalog) lookup(index map[string]*roaring.Bitmap, key string) *roaring.Bitmap {
	if bm, ok := index[key]; ok {
		return bm
	}
	return roaring.New()
}

// Stream implements Catalog by yielding the Query result lazily
func (m *MemoryCatalog) Stream(ctx context.Context, f Filter) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		candidates, err := m.Query(ctx, f)
		if err != nil {
			yield(Candidate{}, err)
			return
		}
		for _, c := range candidates {
			if !yield(c, nil) {
				return
			}
		}
	}
}

// Get implements Catalog
func (m *MemoryCatalog) Get(ctx context.Context, id string) (Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ord, ok := m.ordinals[id]
	if !ok {
		return Candidate{}, ErrNotFound
	}
	return m.items[ord], nil
}

// GetByIDs implements Catalog; missing ids are absent from the map
func (m *MemoryCatalog) GetByIDs(ctx context.Context, ids []string) (map[string]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Candidate, len(ids))
	for _, id := range ids {
		if ord, ok := m.ordinals[id]; ok {
			out[id] = m.items[ord]
		}
	}
	return out, nil
}

// Categories implements Catalog
func (m *MemoryCatalog) Categories(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, ord := range m.all.ToArray() {
		seen[m.items[ord].Category] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of live candidates
func (m *MemoryCatalog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int(m.all.GetCardinality())
}

// Ping implements Catalog
func (m *MemoryCatalog) Ping(ctx context.Context) error {
	return nil
}

// sortCandidates applies the same ordering the SQL catalog uses
func sortCandidates(cs []Candidate, order Order, phrase string) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		switch order {
		case OrderIntentComposite:
			if ca, cb := IntentComposite(a), IntentComposite(b); ca != cb {
				return ca > cb
			}
		case OrderRating:
			if a.AverageRating != b.AverageRating {
				return a.AverageRating > b.AverageRating
			}
			if a.UsageCount != b.UsageCount {
				return a.UsageCount > b.UsageCount
			}
		case OrderUsage:
			if a.UsageCount != b.UsageCount {
				return a.UsageCount > b.UsageCount
			}
			if a.AverageRating != b.AverageRating {
				return a.AverageRating > b.AverageRating
			}
		default:
			if ra, rb := TextRelevance(a, phrase), TextRelevance(b, phrase); ra != rb {
				return ra > rb
			}
			if a.UsageCount != b.UsageCount {
				return a.UsageCount > b.UsageCount
			}
			if a.AverageRating != b.AverageRating {
				return a.AverageRating > b.AverageRating
			}
			if a.QualityScore != b.QualityScore {
				return a.QualityScore > b.QualityScore
			}
		}
		return a.ID < b.ID
	})
}
