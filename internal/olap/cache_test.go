package olap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGlobalQueryCache_ContributeRoundTrip(t *testing.T) {
	cache := NewGlobalQueryCache(100, time.Minute)
	key := CacheKey{Scope: salesScope([]string{"region"}, 10), Principal: "alice"}

	src := NewColumnarTable(
		[]Field{{Name: "region", Type: FieldTypeString}, {Name: "revenue", Type: FieldTypeFloating}},
		[]Column{{"east", "west"}, {10.0, 20.0}},
		map[string]bool{"revenue": true},
	)
	revenue := &PrimitiveMeasure{AliasName: "revenue", Field: "amount", Function: AggSum}
	cache.ContributeToCache(src, []Measure{revenue}, key)

	require.True(t, cache.Contains(revenue, key))

	result := cache.CreateRawResult(key)
	missed := cache.ContributeToResult(result, []Measure{revenue}, key)
	require.Empty(t, missed)

	col, ok := result.Column("revenue")
	require.True(t, ok)
	require.Equal(t, Column{10.0, 20.0}, col)

	stats := cache.Stats("alice")
	require.Equal(t, int64(1), stats.HitCount)
}

func TestGlobalQueryCache_InconsistentRowCountEvictsAndMisses(t *testing.T) {
	cache := NewGlobalQueryCache(100, time.Minute)
	key := CacheKey{Scope: salesScope([]string{"region"}, 10), Principal: "bob"}

	src := NewColumnarTable(
		[]Field{{Name: "region", Type: FieldTypeString}, {Name: "revenue", Type: FieldTypeFloating}},
		[]Column{{"east", "west"}, {10.0, 20.0}},
		map[string]bool{"revenue": true},
	)
	revenue := &PrimitiveMeasure{AliasName: "revenue", Field: "amount", Function: AggSum}
	cache.ContributeToCache(src, []Measure{revenue}, key)

	// A 3-row result for the same scope/principal signals the cached column
	// no longer aligns: it must be reported missed and evicted.
	mismatched := NewColumnarTable(
		[]Field{{Name: "region", Type: FieldTypeString}},
		[]Column{{"east", "west", "north"}},
		map[string]bool{},
	)
	missed := cache.ContributeToResult(mismatched, []Measure{revenue}, key)
	require.Len(t, missed, 1)
	require.Equal(t, "revenue", missed[0].Alias())

	stats := cache.Stats("bob")
	require.Equal(t, int64(1), stats.MissCount)
	require.Equal(t, int64(1), stats.EvictionCount)
}

func TestGlobalQueryCache_ClearIsScopedToPrincipal(t *testing.T) {
	cache := NewGlobalQueryCache(100, time.Minute)
	revenue := &PrimitiveMeasure{AliasName: "revenue", Field: "amount", Function: AggSum}
	src := NewColumnarTable(
		[]Field{{Name: "region", Type: FieldTypeString}, {Name: "revenue", Type: FieldTypeFloating}},
		[]Column{{"east"}, {10.0}},
		map[string]bool{"revenue": true},
	)

	aliceKey := CacheKey{Scope: salesScope([]string{"region"}, 10), Principal: "alice"}
	bobKey := CacheKey{Scope: salesScope([]string{"region"}, 10), Principal: "bob"}
	cache.ContributeToCache(src, []Measure{revenue}, aliceKey)
	cache.ContributeToCache(src, []Measure{revenue}, bobKey)

	cache.Clear("alice")
	require.False(t, cache.Contains(revenue, aliceKey))
	require.True(t, cache.Contains(revenue, bobKey))
}

func TestCanBeCached(t *testing.T) {
	revenue := &PrimitiveMeasure{AliasName: "revenue", Field: "amount", Function: AggSum}
	grouping := &PrimitiveMeasure{AliasName: groupingAlias("region"), Field: "region", Function: AggGrouping, Grouping: true}
	computed := &ComputedMeasure{AliasName: "margin", Operator: OpDivide, Left: revenue, Right: revenue}

	require.True(t, CanBeCached(revenue))
	require.False(t, CanBeCached(grouping))
	require.False(t, CanBeCached(computed))
}

func TestEmptyQueryCache_AlwaysMisses(t *testing.T) {
	cache := EmptyQueryCache{}
	revenue := &PrimitiveMeasure{AliasName: "revenue", Field: "amount", Function: AggSum}
	key := CacheKey{Scope: salesScope([]string{"region"}, 10), Principal: "nobody"}

	require.False(t, cache.Contains(revenue, key))
	result := cache.CreateRawResult(key)
	require.Equal(t, 0, result.Count())
}
