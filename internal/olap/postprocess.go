package olap

import (
	"fmt"
	"sort"
	"strconv"
)

// LimitNotifier is invoked once per TruncateToLimit call and reports whether
// the result was truncated to the configured row limit. truncated is false
// when the row count was already within limit.
type LimitNotifier func(truncated bool)

// PostProcessor applies the final reshape/order/limit pipeline to the
// evaluated root-scope table.
type PostProcessor struct {
	TotalMarkers map[string]interface{}
}

// NewPostProcessor builds a PostProcessor. totalMarkers may be nil, in
// which case DefaultTotalMarker is used for every field.
func NewPostProcessor(totalMarkers map[string]interface{}) *PostProcessor {
	return &PostProcessor{TotalMarkers: totalMarkers}
}

// ApplyGroup reshapes table for a GROUP dynamic-grouping column-set: every
// row's value for group.Field is mapped to the name of whichever set in
// group.Values contains it (rows matching no set are dropped from the
// bucket, i.e. excluded from the regrouped table, mirroring a column-set
// that only covers a subset of the domain). Rows sharing every remaining
// grouping value plus the new bucket name are merged by summing their
// measure columns, since a column-set stands in for the field it replaces
// in the GROUP BY. If every row lands in the same bucket, the derived
// column carries no information and is dropped.
func (p *PostProcessor) ApplyGroup(table *ColumnarTable, group *GroupColumnSet) *ColumnarTable {
	if group == nil {
		return table
	}
	fieldCol, ok := table.Column(group.Field)
	if !ok {
		return table
	}

	bucketOf := make(map[string]string, len(group.Values))
	for name, members := range group.Values {
		for _, v := range members {
			bucketOf[v] = name
		}
	}

	dimFields := make([]Field, 0, len(table.Fields()))
	measureFields := make([]Field, 0, len(table.Fields()))
	for _, f := range table.Fields() {
		if f.Name == group.Field {
			continue
		}
		if table.IsMeasure(f.Name) {
			measureFields = append(measureFields, f)
		} else {
			dimFields = append(dimFields, f)
		}
	}

	type bucketRow struct {
		bucket   string
		dims     []interface{}
		measures map[string]interface{}
		seen     map[string]bool
	}
	var order []string
	rows := map[string]*bucketRow{}

	for i := 0; i < table.Count(); i++ {
		bucket, ok := bucketOf[stringify(fieldCol[i])]
		if !ok {
			continue
		}
		key := bucket
		dims := make([]interface{}, len(dimFields))
		for j, f := range dimFields {
			col, _ := table.Column(f.Name)
			var v interface{}
			if i < len(col) {
				v = col[i]
			}
			dims[j] = v
			key += "|" + stringify(v)
		}
		br, exists := rows[key]
		if !exists {
			br = &bucketRow{bucket: bucket, dims: dims, measures: map[string]interface{}{}, seen: map[string]bool{}}
			rows[key] = br
			order = append(order, key)
		}
		for _, f := range measureFields {
			col, _ := table.Column(f.Name)
			var v interface{}
			if i < len(col) {
				v = col[i]
			}
			br.measures[f.Name] = sumCell(br.measures[f.Name], v, br.seen[f.Name])
			br.seen[f.Name] = true
		}
	}

	n := len(order)
	newFieldCol := make(Column, n)
	dimCols := make([]Column, len(dimFields))
	for j := range dimCols {
		dimCols[j] = make(Column, n)
	}
	measureCols := make([]Column, len(measureFields))
	for j := range measureCols {
		measureCols[j] = make(Column, n)
	}

	bucketNames := map[string]bool{}
	for i, k := range order {
		br := rows[k]
		newFieldCol[i] = br.bucket
		bucketNames[br.bucket] = true
		for j := range dimFields {
			dimCols[j][i] = br.dims[j]
		}
		for j, f := range measureFields {
			measureCols[j][i] = br.measures[f.Name]
		}
	}

	measureSet := map[string]bool{}
	for _, f := range measureFields {
		measureSet[f.Name] = true
	}

	if len(bucketNames) <= 1 {
		// A column-set with only one realized bucket carries no information;
		// drop it rather than emit a constant column.
		fields := append(append([]Field(nil), dimFields...), measureFields...)
		cols := append(append([]Column(nil), dimCols...), measureCols...)
		return NewColumnarTable(fields, cols, measureSet)
	}

	fields := append([]Field{{Name: group.NewField, Type: FieldTypeString}}, dimFields...)
	fields = append(fields, measureFields...)
	cols := append([]Column{newFieldCol}, dimCols...)
	cols = append(cols, measureCols...)
	return NewColumnarTable(fields, cols, measureSet)
}

func stringify(v interface{}) string {
	if v == nil {
		return "<nil>"
	}
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := toFloat(v); ok {
		return fmtFloat(f)
	}
	return fmtAny(v)
}

// sumCell accumulates a measure cell numerically; the first contribution to
// a bucket seeds the value, subsequent ones add.
func sumCell(acc, v interface{}, hasAcc bool) interface{} {
	vf, vok := toFloat(v)
	if !vok {
		if !hasAcc {
			return v
		}
		return acc
	}
	if !hasAcc {
		return numericResult(vf, false)
	}
	af, aok := toFloat(acc)
	if !aok {
		return numericResult(vf, false)
	}
	return numericResult(af+vf, false)
}

// SelectAndOrderColumns projects table down to exactly fieldOrder, in that
// order, dropping anything else. Columns named in fieldOrder but absent
// from table are skipped.
func (p *PostProcessor) SelectAndOrderColumns(table *ColumnarTable, fieldOrder []string) *ColumnarTable {
	fields := make([]Field, 0, len(fieldOrder))
	cols := make([]Column, 0, len(fieldOrder))
	measureSet := map[string]bool{}
	for _, name := range fieldOrder {
		col, ok := table.Column(name)
		if !ok {
			continue
		}
		ft := FieldTypeString
		for _, f := range table.Fields() {
			if f.Name == name {
				ft = f.Type
			}
		}
		fields = append(fields, Field{Name: name, Type: ft})
		cols = append(cols, col)
		if table.IsMeasure(name) {
			measureSet[name] = true
		}
	}
	return NewColumnarTable(fields, cols, measureSet)
}

// ReplaceTotalCellValues substitutes null grouping cells with the
// configured total marker, the final idempotent application of the same
// rule the prefetch stage applies per-scope: measures merged in from
// different rollup scopes may otherwise still carry nulls in the final
// table.
func (p *PostProcessor) ReplaceTotalCellValues(table *ColumnarTable, scope QueryScope) {
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
				col[i] = TotalMarkerFor(p.TotalMarkers, f.Name)
			}
		}
	}
}

// OrderRows sorts table's rows per the ordered list of ColumnOrderSpecs:
// earlier specs take priority; within a spec, Explicit gives a total
// order for named values (values not listed sort after those that are,
// and among themselves by the fallback comparison), otherwise the fallback
// comparison is used (numbers numerically, times chronologically, anything
// else as strings), and a cell equal to the total marker sorts last unless
// TotalsFirst is set.
func (p *PostProcessor) OrderRows(table *ColumnarTable, orderBy []ColumnOrderSpec) {
	if len(orderBy) == 0 {
		return
	}
	n := table.Count()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	cols := make([]Column, len(orderBy))
	ranks := make([]map[string]int, len(orderBy))
	for i, spec := range orderBy {
		col, _ := table.Column(spec.Field)
		cols[i] = col
		if len(spec.Explicit) > 0 {
			r := map[string]int{}
			for j, v := range spec.Explicit {
				r[v] = j
			}
			ranks[i] = r
		}
	}

	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := idx[a], idx[b]
		for i, spec := range orderBy {
			va, vb := cellAt(cols[i], ra), cellAt(cols[i], rb)
			marker := TotalMarkerFor(p.TotalMarkers, spec.Field)
			aTotal, bTotal := equalValue(va, marker), equalValue(vb, marker)
			if aTotal != bTotal && !spec.TotalsFirst {
				return bTotal // non-total sorts before total
			}
			if aTotal != bTotal && spec.TotalsFirst {
				return aTotal
			}
			if ranks[i] != nil {
				sa, aok := va.(string)
				sb, bok := vb.(string)
				if aok && bok {
					ranka, ia := ranks[i][sa]
					rankb, ib := ranks[i][sb]
					if ia && ib && ranka != rankb {
						return ranka < rankb
					}
					if ia != ib {
						return ia
					}
				}
			}
			if !equalValue(va, vb) {
				return lessValue(va, vb)
			}
		}
		return false
	})

	for _, f := range table.Fields() {
		col, ok := table.Column(f.Name)
		if !ok {
			continue
		}
		reordered := make(Column, n)
		for i, srcIdx := range idx {
			if srcIdx < len(col) {
				reordered[i] = col[srcIdx]
			}
		}
		table.AppendColumn(f, reordered)
	}
}

func cellAt(col Column, i int) interface{} {
	if i < len(col) {
		return col[i]
	}
	return nil
}

// TruncateToLimit trims table to at most limit rows and reports whether a
// truncation occurred via notifier. The prefetch stage fetches limit+1
// rows at every scope, the root included, so this step can detect an
// overflow without a second round trip.
func TruncateToLimit(table *ColumnarTable, limit int, notifier LimitNotifier) {
	if limit < 0 || table.Count() <= limit {
		if notifier != nil {
			notifier(false)
		}
		return
	}
	for _, f := range table.Fields() {
		col, ok := table.Column(f.Name)
		if !ok {
			continue
		}
		if len(col) > limit {
			table.AppendColumn(f, col[:limit])
		}
	}
	if notifier != nil {
		notifier(true)
	}
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func fmtAny(v interface{}) string {
	return fmt.Sprintf("%v", v)
}
