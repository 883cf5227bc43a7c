package olap

import (
	"fmt"
	"sort"
	"time"
)

// Evaluator computes, for each non-primitive node in topological order, the
// measure column from already-materialized scopes.
type Evaluator struct{}

// NewEvaluator builds an Evaluator. It carries no state: all context comes
// from the TableByScope passed to EvaluateNode.
func NewEvaluator() *Evaluator { return &Evaluator{} }

// EvaluateNode computes nk.Measure at nk.Scope if it is not primitive
// (primitive columns are already populated by the prefetch stage) and
// writes the resulting column into tables under the measure's alias.
func (e *Evaluator) EvaluateNode(nk NodeKey, tables *TableByScope) error {
	if IsPrimitive(nk.Measure) {
		return nil
	}
	tbl, ok := tables.Get(nk.Scope)
	if !ok {
		return fmt.Errorf("olap: no materialized table for scope of measure %q", nk.Measure.Alias())
	}
	if _, already := tbl.Column(nk.Measure.Alias()); already {
		return nil
	}
	col, err := evalMeasureColumn(nk.Measure, nk.Scope, tables)
	if err != nil {
		return err
	}
	tbl.AppendColumn(Field{Name: nk.Measure.Alias(), Type: FieldTypeFloating}, col)
	tbl.MarkMeasure(nk.Measure.Alias())
	return nil
}

// evalMeasureColumn recursively computes a measure's column at scope.
// Nested computed/comparison sub-expressions are NOT separate dependency
// graph nodes (prerequisites() flattens them down to their primitive
// leaves, at the current or shifted scope) — so an outer Computed/
// Comparison node is evaluated
// by walking its whole operand tree here, reading only already-prefetched
// primitive columns from tableByScope.
func evalMeasureColumn(m Measure, scope QueryScope, tables *TableByScope) (Column, error) {
	switch mm := m.(type) {
	case *PrimitiveMeasure:
		tbl, ok := tables.Get(scope)
		if !ok {
			return nil, fmt.Errorf("olap: no materialized table for primitive measure %q", mm.Alias())
		}
		col, ok := tbl.Column(mm.Alias())
		if !ok {
			return nil, fmt.Errorf("olap: primitive column %q missing from prefetched table", mm.Alias())
		}
		return col, nil

	case *ConstantMeasure:
		n := 0
		if tbl, ok := tables.Get(scope); ok {
			n = tbl.Count()
		}
		col := make(Column, n)
		for i := range col {
			col[i] = mm.Value
		}
		return col, nil

	case *ComputedMeasure:
		left, err := evalMeasureColumn(mm.Left, scope, tables)
		if err != nil {
			return nil, err
		}
		right, err := evalMeasureColumn(mm.Right, scope, tables)
		if err != nil {
			return nil, err
		}
		return combineColumns(mm.Operator, left, right, mm.Ratio, isCountMeasure(mm.Right)), nil

	case *ComparisonMeasure:
		return evalComparison(mm, scope, tables)

	default:
		return nil, fmt.Errorf("olap: unsupported measure kind for alias %q", m.Alias())
	}
}

// evalComparison resolves a ComparisonMeasure by row-aligning the base
// measure's column at scope against the same measure at the shifted
// scope. Rows are matched on every grouping dimension except
// ShiftField; within a match bucket, rows are ordered by their ShiftField
// value to find the previous/first row. A row with no qualifying reference
// (new entity, first period with no predecessor) evaluates to null.
func evalComparison(cm *ComparisonMeasure, scope QueryScope, tables *TableByScope) (Column, error) {
	baseTbl, ok := tables.Get(scope)
	if !ok {
		return nil, fmt.Errorf("olap: no materialized table for comparison measure %q", cm.Alias())
	}
	baseCol, err := evalMeasureColumn(cm.Base, scope, tables)
	if err != nil {
		return nil, err
	}

	n := baseTbl.Count()
	out := make(Column, n)

	shifted := shiftedScope(scope, cm.ShiftField)
	refTbl, ok := tables.Get(shifted)
	baseShiftCol, hasShiftCol := baseTbl.Column(cm.ShiftField)
	if !ok || !hasShiftCol {
		return out, nil // missing reference scope/dimension -> all null
	}
	refShiftCol, hasRefShiftCol := refTbl.Column(cm.ShiftField)
	if !hasRefShiftCol {
		return out, nil
	}
	refCol, err := evalMeasureColumn(cm.Base, shifted, tables)
	if err != nil {
		return nil, err
	}

	type refRow struct {
		shiftVal interface{}
		idx      int
	}
	buckets := map[string][]refRow{}
	for i := 0; i < refTbl.Count(); i++ {
		k := otherDimsKey(refTbl, i, cm.ShiftField)
		buckets[k] = append(buckets[k], refRow{refShiftCol[i], i})
	}
	for k := range buckets {
		b := buckets[k]
		sort.Slice(b, func(a, c int) bool { return lessValue(b[a].shiftVal, b[c].shiftVal) })
		buckets[k] = b
	}

	for i := 0; i < n; i++ {
		k := otherDimsKey(baseTbl, i, cm.ShiftField)
		bucket := buckets[k]
		var refVal interface{}
		found := false
		switch cm.Reference {
		case RefFirstPeriod:
			if len(bucket) > 0 {
				refVal, found = refCol[bucket[0].idx], true
			}
		default: // RefPreviousPeriod
			myVal := baseShiftCol[i]
			for j, rr := range bucket {
				if equalValue(rr.shiftVal, myVal) {
					if j > 0 {
						refVal, found = refCol[bucket[j-1].idx], true
					}
					break
				}
			}
		}
		if !found {
			out[i] = nil
			continue
		}
		out[i] = combineScalar(cm.Operator, baseCol[i], refVal, false, false)
	}
	return out, nil
}

// otherDimsKey builds a string key from every grouping (non-measure) column
// of row i except exclude, used to bucket comparison-measure rows that
// share all dimensions but the one being shifted.
func otherDimsKey(tbl *ColumnarTable, row int, exclude string) string {
	var out string
	for _, f := range tbl.Fields() {
		if f.Name == exclude || tbl.IsMeasure(f.Name) {
			continue
		}
		col, _ := tbl.Column(f.Name)
		var v interface{}
		if row < len(col) {
			v = col[row]
		}
		out += f.Name + "=" + fmt.Sprintf("%v", v) + "|"
	}
	return out
}

func lessValue(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af < bf
		}
	}
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			return at.Before(bt)
		}
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func equalValue(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			return at.Equal(bt)
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func isCountMeasure(m Measure) bool {
	pm, ok := m.(*PrimitiveMeasure)
	return ok && pm.Function == AggCount
}

// combineColumns applies a binary operator element-wise. Numeric semantics:
// division by zero yields null; any null operand yields null, except a
// COUNT-based denominator, which treats null as zero.
func combineColumns(op BinaryOperator, left, right Column, ratio, rightIsCount bool) Column {
	n := len(left)
	if len(right) > n {
		n = len(right)
	}
	out := make(Column, n)
	for i := 0; i < n; i++ {
		var l, r interface{}
		if i < len(left) {
			l = left[i]
		}
		if i < len(right) {
			r = right[i]
		}
		out[i] = combineScalar(op, l, r, ratio, rightIsCount)
	}
	return out
}

func combineScalar(op BinaryOperator, l, r interface{}, ratio, rightIsCount bool) interface{} {
	if r == nil && rightIsCount {
		r = float64(0)
	}
	if l == nil || r == nil {
		return nil
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return nil
	}
	switch op {
	case OpPlus:
		return numericResult(lf+rf, ratio)
	case OpMinus:
		return numericResult(lf-rf, ratio)
	case OpMul:
		return numericResult(lf*rf, ratio)
	case OpDivide:
		if rf == 0 {
			return nil
		}
		return lf / rf
	default:
		return nil
	}
}

// numericResult returns a whole-valued result as int64, whatever the
// operand types, unless the measure is a ratio, in which case it is always
// floating. A result with a fractional part stays float64.
func numericResult(v float64, ratio bool) interface{} {
	if ratio {
		return v
	}
	if v == float64(int64(v)) {
		return int64(v)
	}
	return v
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}
