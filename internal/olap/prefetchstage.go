package olap

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"
)

// PrefetchStage groups dependency-graph nodes by scope, asks the backend
// to materialize primitive aggregates, and merges the result with the
// cache. A single PrefetchStage is shared by one query execution; its
// singleflight.Group is shared across concurrent queries through the
// QueryExecutor that owns it, giving an at-most-one in-flight-fetch-per-key
// guarantee.
type PrefetchStage struct {
	engine    QueryEngine
	cache     QueryCache
	principal Principal
	logger    *slog.Logger
	sf        *singleflight.Group
}

// NewPrefetchStage builds a PrefetchStage. sf may be shared across queries
// by the caller to get cross-query single-flight collapsing; pass a fresh
// *singleflight.Group to scope collapsing to this query only.
func NewPrefetchStage(engine QueryEngine, cache QueryCache, principal Principal, sf *singleflight.Group, logger *slog.Logger) *PrefetchStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &PrefetchStage{engine: engine, cache: cache, principal: principal, logger: logger, sf: sf}
}

// Run executes the prefetch pass for every (scope -> required measures)
// entry and returns the populated tableByScope.
func (p *PrefetchStage) Run(ctx context.Context, scopeMeasures map[string]scopePlan) (*TableByScope, error) {
	out := NewTableByScope()
	for _, sp := range scopeMeasures {
		select {
		case <-ctx.Done():
			return nil, ErrCancelled("query cancelled while prefetching scope %q", sp.fetchScope.TableRef)
		default:
		}

		tbl, err := p.runScope(ctx, sp)
		if err != nil {
			return nil, err
		}
		out.Set(sp.scope, tbl)
	}
	return out, nil
}

// scopePlan is one entry accumulated by the prefetch-pass execution-plan
// callback: the original scope, the scope to actually fetch at (limit+1 for
// every scope, the root included), and the union of required measures.
type scopePlan struct {
	scope      QueryScope
	fetchScope QueryScope
	measures   map[string]Measure
}

func (p *PrefetchStage) runScope(ctx context.Context, sp scopePlan) (*ColumnarTable, error) {
	key := CacheKey{Scope: sp.scope, Principal: p.principal}

	var cacheableHit, cacheableMiss, nonCacheable []Measure
	for _, m := range sp.measures {
		if !IsPrimitive(m) {
			continue
		}
		if !CanBeCached(m) {
			nonCacheable = append(nonCacheable, m)
		} else if p.cache.Contains(m, key) {
			cacheableHit = append(cacheableHit, m)
		} else {
			cacheableMiss = append(cacheableMiss, m)
		}
	}

	// measuresToExcludeFromCache (nonCacheable) are deliberately re-added to
	// notCached on every prefetch: they are re-fetched every time to
	// preserve correctness over cache simplicity.
	notCached := append([]Measure(nil), cacheableMiss...)
	notCached = append(notCached, nonCacheable...)

	var result *ColumnarTable
	if len(notCached) > 0 {
		fetchMeasures := dedupMeasures(append(append([]Measure(nil), notCached...), CountMeasure))
		tbl, err := p.fetchSingleFlight(ctx, sp.fetchScope, fetchMeasures)
		if err != nil {
			return nil, err
		}
		result = tbl
		replaceNullGroupingCellsWithTotal(result, sp.scope)
	} else {
		result = p.cache.CreateRawResult(key)
	}

	missed := p.cache.ContributeToResult(result, cacheableHit, key)
	if len(missed) > 0 {
		// Cache inconsistency recovery: re-fetch the measures whose cached
		// column failed row-alignment validation.
		tbl, err := p.fetchSingleFlight(ctx, sp.fetchScope, dedupMeasures(missed))
		if err != nil {
			return nil, err
		}
		for _, m := range missed {
			if col, ok := tbl.Column(m.Alias()); ok {
				result.AppendColumn(Field{Name: m.Alias(), Type: FieldTypeFloating}, col)
				result.MarkMeasure(m.Alias())
			}
		}
	}

	measuresToCache := make([]Measure, 0, len(notCached))
	nonCacheableSet := map[string]bool{}
	for _, m := range nonCacheable {
		nonCacheableSet[m.Alias()] = true
	}
	for _, m := range notCached {
		if !nonCacheableSet[m.Alias()] {
			measuresToCache = append(measuresToCache, m)
		}
	}
	p.cache.ContributeToCache(result, measuresToCache, key)

	for _, m := range sp.measures {
		if IsPrimitive(m) {
			result.MarkMeasure(m.Alias())
		}
	}

	return result, nil
}

// fetchSingleFlight issues one backend Execute call, collapsing concurrent
// identical (scope, principal, measure-set) requests into one.
func (p *PrefetchStage) fetchSingleFlight(ctx context.Context, scope QueryScope, measures []Measure) (*ColumnarTable, error) {
	sfKey := singleFlightKey(scope, p.principal, measures)

	doFetch := func() (interface{}, error) {
		p.logger.Debug("olap: backend fetch", "scope", scope.TableRef, "measures", measureAliases(measures), "limit", scope.Limit)
		tbl, err := p.engine.Execute(ctx, DatabaseQuery{Scope: scope, Measures: measures})
		if err != nil {
			return nil, err
		}
		ct, ok := tbl.(*ColumnarTable)
		if !ok {
			return nil, fmt.Errorf("olap: backend returned unsupported table type %T", tbl)
		}
		return ct.Clone(), nil
	}

	var v interface{}
	var err error
	if p.sf != nil {
		v, err, _ = p.sf.Do(sfKey, doFetch)
	} else {
		v, err = doFetch()
	}
	if err != nil {
		return nil, err
	}
	return v.(*ColumnarTable).Clone(), nil
}

func singleFlightKey(scope QueryScope, principal Principal, measures []Measure) string {
	aliases := measureAliases(measures)
	sort.Strings(aliases)
	return scope.key() + "##" + string(principal) + "##" + strings.Join(aliases, ",")
}

func measureAliases(measures []Measure) []string {
	out := make([]string, 0, len(measures))
	for _, m := range measures {
		out = append(out, m.Alias())
	}
	return out
}

// replaceNullGroupingCellsWithTotal promotes null values in grouping
// columns to the configured total marker, for rows emitted as
// ROLLUP/GROUPING-SETS super-aggregates.
func replaceNullGroupingCellsWithTotal(table *ColumnarTable, scope QueryScope) {
	if !scope.HasRollup() {
		return
	}
	for _, f := range table.Fields() {
		if table.IsMeasure(f.Name) {
			continue
		}
		col, ok := table.Column(f.Name)
		if !ok {
			continue
		}
		for i, v := range col {
			if v == nil {
				col[i] = TotalMarkerFor(nil, f.Name)
			}
		}
	}
}
