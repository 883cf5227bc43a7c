package olap

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// QueryExecutor orchestrates a full query execution: resolve, build the
// dependency graph, run the prefetch pass, reshape GROUP column-sets,
// evaluate computed/comparison measures, and post-process the final table.
// One QueryExecutor is long-lived per process; its singleflight.Group and
// QueryCache are shared across concurrent queries so the
// at-most-one-in-flight-fetch guarantee holds globally, not just within a
// single call.
type QueryExecutor struct {
	Cache        QueryCache
	DefaultLimit int
	Logger       *slog.Logger

	// RateLimitRPS and RateLimitBurst configure an optional per-principal
	// token-bucket limiter: RateLimitRPS tokens are added per second, up to
	// RateLimitBurst. Zero RateLimitRPS disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	sf       *singleflight.Group
	limiters sync.Map // map[Principal]*rate.Limiter
}

// NewQueryExecutor builds a QueryExecutor. cache may be EmptyQueryCache to
// disable caching process-wide; defaultLimit is substituted for any
// QueryDTO whose Limit is negative.
func NewQueryExecutor(cache QueryCache, defaultLimit int, logger *slog.Logger) *QueryExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = EmptyQueryCache{}
	}
	return &QueryExecutor{Cache: cache, DefaultLimit: defaultLimit, Logger: logger, sf: &singleflight.Group{}}
}

// limiterFor returns the token-bucket limiter for principal, creating one on
// first use. Returns nil when rate limiting is disabled (RateLimitRPS == 0).
func (e *QueryExecutor) limiterFor(principal Principal) *rate.Limiter {
	if e.RateLimitRPS <= 0 {
		return nil
	}
	if v, ok := e.limiters.Load(principal); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Limit(e.RateLimitRPS), e.RateLimitBurst)
	actual, _ := e.limiters.LoadOrStore(principal, limiter)
	return actual.(*rate.Limiter)
}

// ExecuteQuery runs query against engine on behalf of principal and returns
// the final shaped table plus cumulative cache stats for that principal.
func (e *QueryExecutor) ExecuteQuery(ctx context.Context, query QueryDTO, engine QueryEngine, principal Principal) (*ColumnarTable, CacheStats, error) {
	queryID := uuid.NewString()
	log := e.Logger.With("query_id", queryID, "principal", string(principal))

	select {
	case <-ctx.Done():
		return nil, CacheStats{}, ErrCancelled("query cancelled before resolution")
	default:
	}

	if limiter := e.limiterFor(principal); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, CacheStats{}, ErrCancelled("rate limit wait: %v", err)
		}
	}

	cache := e.Cache
	switch query.CacheMode {
	case CacheInvalidate:
		e.Cache.Clear(principal)
	case CacheNotUse:
		cache = EmptyQueryCache{}
	}

	resolver, err := NewResolver(query, engine.Datastore())
	if err != nil {
		return nil, CacheStats{}, err
	}

	limit := query.Limit
	if limit < 0 {
		limit = e.DefaultLimit
	}
	rootScope := resolver.Scope().CopyWithNewLimit(limit)

	graph := BuildDependencyGraph(query.Measures, rootScope)

	scopeMeasures := map[string]scopePlan{}
	collectPlan := NewExecutionPlan(graph, func(nk NodeKey) {
		if !IsPrimitive(nk.Measure) {
			return
		}
		key := nk.Scope.key()
		sp, ok := scopeMeasures[key]
		if !ok {
			sp = scopePlan{scope: nk.Scope, fetchScope: fetchScopeFor(nk.Scope), measures: map[string]Measure{}}
		}
		sp.measures[nk.Measure.Alias()] = nk.Measure
		scopeMeasures[key] = sp
	})
	collectPlan.Execute()

	stage := NewPrefetchStage(engine, cache, principal, e.sf, e.Logger)
	tableByScope, err := stage.Run(ctx, scopeMeasures)
	if err != nil {
		return nil, CacheStats{}, err
	}

	pp := NewPostProcessor(nil)
	if query.Group != nil {
		if rootTbl, ok := tableByScope.Get(rootScope); ok {
			tableByScope.Set(rootScope, pp.ApplyGroup(rootTbl, query.Group))
		}
	}

	evaluator := NewEvaluator()
	var evalErr error
	evalPlan := NewExecutionPlan(graph, func(nk NodeKey) {
		if evalErr != nil {
			return
		}
		select {
		case <-ctx.Done():
			evalErr = ErrCancelled("query cancelled during evaluation")
			return
		default:
		}
		if err := evaluator.EvaluateNode(nk, tableByScope); err != nil {
			evalErr = err
		}
	})
	evalPlan.Execute()
	if evalErr != nil {
		return nil, CacheStats{}, evalErr
	}

	final, ok := tableByScope.Get(rootScope)
	if !ok {
		return nil, CacheStats{}, ErrValidation("no result materialized for query scope")
	}

	fieldOrder := outputColumns(query)
	for _, m := range query.Measures {
		fieldOrder = append(fieldOrder, m.Alias())
	}
	final = pp.SelectAndOrderColumns(final, fieldOrder)
	pp.ReplaceTotalCellValues(final, rootScope)
	pp.OrderRows(final, query.OrderBy)

	var truncated bool
	TruncateToLimit(final, limit, func(t bool) { truncated = t })
	if truncated {
		log.Debug("olap: query result truncated to limit", "table", query.Table, "limit", limit)
	}
	log.Debug("olap: query complete", "table", query.Table, "rows", final.Count())

	return final, cache.Stats(principal), nil
}

// ExecutePivotQuery runs pivot.Query and reshapes the result into a
// PivotTable. A pivot query's underlying query must not itself request a
// ROLLUP/GROUPING SETS super-aggregate: those produce total-marker rows that
// the pivot reshape has no row-for-a-pivot-cell meaning for.
func (e *QueryExecutor) ExecutePivotQuery(ctx context.Context, pivot PivotQueryDTO, engine QueryEngine, principal Principal) (*PivotTable, CacheStats, error) {
	if len(pivot.Query.RollupColumns) > 0 || len(pivot.Query.GroupingSets) > 0 {
		return nil, CacheStats{}, ErrValidation("pivot query %q: rollupColumns and groupingSets must be empty", pivot.Query.Table)
	}

	table, stats, err := e.ExecuteQuery(ctx, pivot.Query, engine, principal)
	if err != nil {
		return nil, CacheStats{}, err
	}
	return MaterializePivot(table, pivot), stats, nil
}

// fetchScopeFor widens scope's limit by one so the post-processing
// truncation step can detect whether the true result exceeds the requested
// limit without a second round trip.
func fetchScopeFor(scope QueryScope) QueryScope {
	if scope.Limit < 0 {
		return scope
	}
	return scope.CopyWithNewLimit(scope.Limit + 1)
}

// outputColumns is the grouping-column projection for the final table,
// substituting a GROUP column-set's derived field for the field it groups.
func outputColumns(query QueryDTO) []string {
	cols := append([]string(nil), query.Columns...)
	if query.Group != nil {
		for i, c := range cols {
			if c == query.Group.Field {
				cols[i] = query.Group.NewField
			}
		}
	}
	return cols
}
