package olap

// CacheAction is the queryCache query parameter.
type CacheAction int

const (
	CacheUse CacheAction = iota
	CacheNotUse
	CacheInvalidate
)

// GroupColumnSet describes a GROUP dynamic-grouping column-set: a derived
// dimension ("newField") whose value is the name of whichever set in
// Values contains the row's value for Field.
type GroupColumnSet struct {
	NewField string
	Field    string
	Values   map[string][]string // group name -> member field values
}

// ColumnOrderSpec configures per-column row ordering for orderRows.
type ColumnOrderSpec struct {
	Field         string
	Explicit      []string // explicit value order, if any; "" = lexicographic
	TotalsFirst   bool     // if false (default), total markers sort last
}

// QueryDTO is the raw, unresolved user query.
type QueryDTO struct {
	Table         string
	Joins         []Join
	Columns       []string
	Measures      []Measure
	Filters       []string
	RollupColumns []string
	GroupingSets  [][]string
	Limit         int // negative => default limit
	CacheMode     CacheAction
	Group         *GroupColumnSet
	OrderBy       []ColumnOrderSpec
}

// PivotQueryDTO wraps a QueryDTO with pivot-table shaping metadata.
type PivotQueryDTO struct {
	Query        QueryDTO
	Rows         []string
	Columns      []string
	HiddenTotals []string
}

// Principal identifies the caller for cache partitioning; may be empty
// for a shared cache partition.
type Principal string
