package olap

// AggregationFunction names a primitive backend aggregation.
type AggregationFunction string

const (
	AggSum      AggregationFunction = "SUM"
	AggAvg      AggregationFunction = "AVG"
	AggMin      AggregationFunction = "MIN"
	AggMax      AggregationFunction = "MAX"
	AggCount    AggregationFunction = "COUNT"
	AggGrouping AggregationFunction = "GROUPING"
)

// BinaryOperator names a computed-measure arithmetic operator.
type BinaryOperator string

const (
	OpPlus   BinaryOperator = "+"
	OpMinus  BinaryOperator = "-"
	OpMul    BinaryOperator = "*"
	OpDivide BinaryOperator = "/"
)

// ReferencePosition names the row-shift function a comparison measure uses
// to locate its "previous" row.
type ReferencePosition string

const (
	RefPreviousPeriod ReferencePosition = "PREVIOUS_PERIOD"
	RefFirstPeriod    ReferencePosition = "FIRST_PERIOD"
)

// Measure is a tagged union over the variant set of measure kinds:
// primitive-aggregated, computed, comparison, constant. Vectors and
// arbitrary expressions are represented as Computed/Constant combinations;
// there is no separate class hierarchy — dispatch is by Kind(), matching
// the "visitor polymorphism -> tagged variants" design note.
type Measure interface {
	Alias() string
	Kind() MeasureKind
}

// MeasureKind discriminates the Measure variants for switch dispatch.
type MeasureKind int

const (
	KindPrimitive MeasureKind = iota
	KindComputed
	KindComparison
	KindConstant
)

// PrimitiveMeasure is directly computable by the backend in one aggregation,
// optionally filtered.
type PrimitiveMeasure struct {
	AliasName string
	Field     string // source column expression, e.g. "revenue"
	Function  AggregationFunction
	Filter    string // optional SQL predicate fragment, "" = none
	Grouping  bool   // true iff this is a synthetic GROUPING(...) measure
}

func (m *PrimitiveMeasure) Alias() string    { return m.AliasName }
func (m *PrimitiveMeasure) Kind() MeasureKind { return KindPrimitive }

// CountMeasure is the always-required COUNT(*) primitive measure.
var CountMeasure = &PrimitiveMeasure{AliasName: "count", Field: "*", Function: AggCount}

// ComputedMeasure is a binary arithmetic expression over two operand
// measures, evaluated at the same scope as its operands once both are
// materialized.
type ComputedMeasure struct {
	AliasName string
	Operator  BinaryOperator
	Left      Measure
	Right     Measure
	// Ratio marks this computed measure as producing a floating-point
	// result even when both operands are integer columns (division semantics).
	Ratio bool
}

func (m *ComputedMeasure) Alias() string    { return m.AliasName }
func (m *ComputedMeasure) Kind() MeasureKind { return KindComputed }

// ComparisonMeasure compares a base measure against the same measure at a
// shifted scope (e.g. "previous period"), row-aligned by ReferencePosition.
type ComparisonMeasure struct {
	AliasName  string
	Base       Measure
	Reference  ReferencePosition
	ShiftField string // the dimension the reference position shifts, e.g. "date"
	Operator   BinaryOperator // how base and reference-period values combine, e.g. "-" for delta
}

func (m *ComparisonMeasure) Alias() string    { return m.AliasName }
func (m *ComparisonMeasure) Kind() MeasureKind { return KindComparison }

// ConstantMeasure carries a fixed scalar value, with no prerequisites.
type ConstantMeasure struct {
	AliasName string
	Value     interface{}
}

func (m *ConstantMeasure) Alias() string    { return m.AliasName }
func (m *ConstantMeasure) Kind() MeasureKind { return KindConstant }

// IsPrimitive reports whether a measure is directly computable by the
// backend in a single aggregation (used by the prefetch stage to decide
// cacheability and by the dependency graph to decide evaluation).
func IsPrimitive(m Measure) bool { return m.Kind() == KindPrimitive }
