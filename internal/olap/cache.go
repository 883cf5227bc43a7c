package olap

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheKey is (scope, principal), the granularity a QueryCache entry is
// keyed on.
type CacheKey struct {
	Scope     QueryScope
	Principal Principal
}

func (k CacheKey) id() string { return k.Scope.key() + "##" + string(k.Principal) }

// CacheStats reports cumulative hit/miss/eviction counters for a principal.
type CacheStats struct {
	HitCount      int64
	MissCount     int64
	EvictionCount int64
}

// QueryCache is a per-(scope,principal) store of measure columns, with
// partial-hit semantics.
type QueryCache interface {
	// Contains reports whether a column for measure is already cached at key.
	Contains(measure Measure, key CacheKey) bool
	// CreateRawResult returns a skeleton table holding only the grouping
	// columns, sized and ordered as the backend would have returned for
	// scope key.Scope.
	CreateRawResult(key CacheKey) *ColumnarTable
	// ContributeToResult copies cached columns into table for the given
	// measures, preserving row alignment. Measures whose cached column
	// length mismatches table's row count are evicted and returned as
	// "missed" so the caller can re-fetch them.
	ContributeToResult(table *ColumnarTable, measures []Measure, key CacheKey) (missed []Measure)
	// ContributeToCache stores the given measures' columns from table.
	ContributeToCache(table *ColumnarTable, measures []Measure, key CacheKey)
	Stats(principal Principal) CacheStats
	Clear(principal Principal)
}

// cacheEntry is the per-(scope,principal) unit of storage: the stable
// grouping columns (used to align rows across contributions) plus one
// column per cached measure alias.
type cacheEntry struct {
	mu             sync.RWMutex
	groupingFields []Field
	groupingCols   map[string]Column
	rowCount       int
	measureCols    map[string]Column
}

// ---- EmptyQueryCache: always miss, no-op writes (the "Empty" policy). ----

type EmptyQueryCache struct{}

var _ QueryCache = EmptyQueryCache{}

func (EmptyQueryCache) Contains(Measure, CacheKey) bool { return false }
func (EmptyQueryCache) CreateRawResult(CacheKey) *ColumnarTable {
	return NewColumnarTable(nil, nil, nil)
}
func (EmptyQueryCache) ContributeToResult(*ColumnarTable, []Measure, CacheKey) []Measure { return nil }
func (EmptyQueryCache) ContributeToCache(*ColumnarTable, []Measure, CacheKey)            {}
func (EmptyQueryCache) Stats(Principal) CacheStats                                       { return CacheStats{} }
func (EmptyQueryCache) Clear(Principal)                                                  {}

// ---- GlobalQueryCache: process-wide, size- and time-bounded LRU ----
// (the "Caffeine-style"/"Global" policy, and the default).

// GlobalQueryCache backs the default cache policy with an expirable LRU
// (github.com/hashicorp/golang-lru/v2/expirable), giving Caffeine-style
// size- and time-bounded semantics without hand rolling an LRU+TTL
// structure.
type GlobalQueryCache struct {
	entries *lru.LRU[string, *cacheEntry]

	statsMu sync.Mutex
	stats   map[Principal]*cacheStatsCounters
}

type cacheStatsCounters struct {
	hits, misses, evictions atomic.Int64
}

// NewGlobalQueryCache builds a GlobalQueryCache bounded to maxEntries live
// cache keys, each expiring ttl after the entry was created (later
// contributions to an existing entry do not extend it).
func NewGlobalQueryCache(maxEntries int, ttl time.Duration) *GlobalQueryCache {
	c := &GlobalQueryCache{
		stats: map[Principal]*cacheStatsCounters{},
	}
	c.entries = lru.NewLRU[string, *cacheEntry](maxEntries, func(key string, _ *cacheEntry) {
		// capacity and TTL evictions are not counted: EvictionCount only
		// counts the inconsistent entries ContributeToResult evicts.
	}, ttl)
	return c
}

var _ QueryCache = (*GlobalQueryCache)(nil)

func (c *GlobalQueryCache) counterFor(p Principal) *cacheStatsCounters {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s, ok := c.stats[p]
	if !ok {
		s = &cacheStatsCounters{}
		c.stats[p] = s
	}
	return s
}

func (c *GlobalQueryCache) entry(key CacheKey, create bool) *cacheEntry {
	id := key.id()
	if e, ok := c.entries.Get(id); ok {
		return e
	}
	if !create {
		return nil
	}
	e := &cacheEntry{
		groupingCols: map[string]Column{},
		measureCols:  map[string]Column{},
	}
	c.entries.Add(id, e)
	return e
}

func (c *GlobalQueryCache) Contains(measure Measure, key CacheKey) bool {
	e := c.entry(key, false)
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.measureCols[measure.Alias()]
	return ok
}

func (c *GlobalQueryCache) CreateRawResult(key CacheKey) *ColumnarTable {
	e := c.entry(key, false)
	if e == nil {
		return NewColumnarTable(nil, nil, nil)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	cols := make([]Column, len(e.groupingFields))
	for i, f := range e.groupingFields {
		cols[i] = e.groupingCols[f.Name]
	}
	return NewColumnarTable(append([]Field(nil), e.groupingFields...), cols, map[string]bool{})
}

func (c *GlobalQueryCache) ContributeToResult(table *ColumnarTable, measures []Measure, key CacheKey) []Measure {
	if len(measures) == 0 {
		return nil
	}
	e := c.entry(key, false)
	counters := c.counterFor(key.Principal)
	if e == nil {
		for range measures {
			counters.misses.Add(1)
		}
		return append([]Measure(nil), measures...)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	var missed []Measure
	for _, m := range measures {
		col, ok := e.measureCols[m.Alias()]
		if !ok {
			counters.misses.Add(1)
			missed = append(missed, m)
			continue
		}
		if table.Count() != 0 && len(col) != table.Count() {
			// Cache inconsistency: evict and treat as miss.
			counters.evictions.Add(1)
			counters.misses.Add(1)
			missed = append(missed, m)
			go c.evictMeasure(key, m.Alias())
			continue
		}
		table.AppendColumn(Field{Name: m.Alias(), Type: FieldTypeFloating}, col)
		table.MarkMeasure(m.Alias())
		counters.hits.Add(1)
	}
	return missed
}

func (c *GlobalQueryCache) evictMeasure(key CacheKey, alias string) {
	e := c.entry(key, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	delete(e.measureCols, alias)
	e.mu.Unlock()
}

func (c *GlobalQueryCache) ContributeToCache(table *ColumnarTable, measures []Measure, key CacheKey) {
	if len(measures) == 0 {
		return
	}
	e := c.entry(key, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.groupingFields) == 0 {
		for _, f := range table.Fields() {
			if table.IsMeasure(f.Name) {
				continue
			}
			e.groupingFields = append(e.groupingFields, f)
			col, _ := table.Column(f.Name)
			e.groupingCols[f.Name] = col
		}
		e.rowCount = table.Count()
	}

	for _, m := range measures {
		col, ok := table.Column(m.Alias())
		if !ok {
			continue
		}
		if extractFieldFromGroupingAlias(m.Alias()) != "" {
			// Never cache grouping measures.
			continue
		}
		e.measureCols[m.Alias()] = col
	}
}

func (c *GlobalQueryCache) Stats(principal Principal) CacheStats {
	s := c.counterFor(principal)
	return CacheStats{
		HitCount:      s.hits.Load(),
		MissCount:     s.misses.Load(),
		EvictionCount: s.evictions.Load(),
	}
}

func (c *GlobalQueryCache) Clear(principal Principal) {
	// INVALIDATE clears entries for the issuing principal. Since entries are
	// keyed by (scope, principal), we can delete by matching id suffix
	// without a reverse index.
	suffix := "##" + string(principal)
	for _, id := range c.entries.Keys() {
		if len(id) >= len(suffix) && id[len(id)-len(suffix):] == suffix {
			c.entries.Remove(id)
		}
	}
}

// CanBeCached reports whether a measure is cacheable: it must be
// primitive and its alias must not match the grouping-alias pattern
// (grouping measures are never cached, to avoid colliding across scopes).
func CanBeCached(measure Measure) bool {
	if !IsPrimitive(measure) {
		return false
	}
	if pm, ok := measure.(*PrimitiveMeasure); ok && pm.Grouping {
		return false
	}
	return extractFieldFromGroupingAlias(measure.Alias()) == ""
}
