package olap

import "sort"

// PivotTable is a materialized cross-tab view over a flat result table:
// Rows and Columns each enumerate the distinct value-tuples of their
// respective dimension lists, in sorted order, and Cells holds one value
// per (measure, row tuple, column tuple).
type PivotTable struct {
	RowFields    []string
	ColumnFields []string
	RowTuples    [][]interface{}
	ColumnTuples [][]interface{}
	Measures     []string
	Cells        map[string]map[int]map[int]interface{} // measure -> rowIdx -> colIdx -> value
}

// MaterializePivot reshapes a flat table into a PivotTable per pivot.Rows /
// pivot.Columns, skipping any column-tuple whose serialized form appears in
// pivot.HiddenTotals (the pivot-level analogue of total-row suppression).
func MaterializePivot(table *ColumnarTable, pivot PivotQueryDTO) *PivotTable {
	hidden := map[string]bool{}
	for _, h := range pivot.HiddenTotals {
		hidden[h] = true
	}

	measureFields := make([]string, 0)
	for _, f := range table.Fields() {
		if table.IsMeasure(f.Name) {
			measureFields = append(measureFields, f.Name)
		}
	}

	rowCols := columnsFor(table, pivot.Rows)
	colCols := columnsFor(table, pivot.Columns)

	n := table.Count()

	// First pass: collect the distinct row/column tuples so they can be
	// sorted before indices are handed out (the index into RowTuples /
	// ColumnTuples IS the key into Cells, so it must be stable post-sort).
	rowSeen := map[string]bool{}
	var rowTuples [][]interface{}
	colSeen := map[string]bool{}
	var colTuples [][]interface{}
	for i := 0; i < n; i++ {
		colTuple := tupleAt(colCols, i)
		if hidden[tupleKey(colTuple)] {
			continue
		}
		if rowKey := tupleKey(tupleAt(rowCols, i)); !rowSeen[rowKey] {
			rowSeen[rowKey] = true
			rowTuples = append(rowTuples, tupleAt(rowCols, i))
		}
		if colKey := tupleKey(colTuple); !colSeen[colKey] {
			colSeen[colKey] = true
			colTuples = append(colTuples, colTuple)
		}
	}
	sortTuples(rowTuples)
	sortTuples(colTuples)

	rowKeyToIdx := make(map[string]int, len(rowTuples))
	for i, t := range rowTuples {
		rowKeyToIdx[tupleKey(t)] = i
	}
	colKeyToIdx := make(map[string]int, len(colTuples))
	for i, t := range colTuples {
		colKeyToIdx[tupleKey(t)] = i
	}

	cells := map[string]map[int]map[int]interface{}{}
	for _, m := range measureFields {
		cells[m] = map[int]map[int]interface{}{}
	}

	for i := 0; i < n; i++ {
		colTuple := tupleAt(colCols, i)
		colKey := tupleKey(colTuple)
		if hidden[colKey] {
			continue
		}
		rowKey := tupleKey(tupleAt(rowCols, i))
		ri, ok := rowKeyToIdx[rowKey]
		if !ok {
			continue
		}
		ci, ok := colKeyToIdx[colKey]
		if !ok {
			continue
		}

		for _, m := range measureFields {
			col, ok := table.Column(m)
			if !ok || i >= len(col) {
				continue
			}
			if cells[m][ri] == nil {
				cells[m][ri] = map[int]interface{}{}
			}
			cells[m][ri][ci] = col[i]
		}
	}

	return &PivotTable{
		RowFields:    pivot.Rows,
		ColumnFields: pivot.Columns,
		RowTuples:    rowTuples,
		ColumnTuples: colTuples,
		Measures:     measureFields,
		Cells:        cells,
	}
}

func columnsFor(table *ColumnarTable, fields []string) []Column {
	out := make([]Column, len(fields))
	for i, f := range fields {
		col, _ := table.Column(f)
		out[i] = col
	}
	return out
}

func tupleAt(cols []Column, row int) []interface{} {
	out := make([]interface{}, len(cols))
	for i, c := range cols {
		if row < len(c) {
			out[i] = c[row]
		}
	}
	return out
}

func tupleKey(tuple []interface{}) string {
	key := ""
	for _, v := range tuple {
		key += stringify(v) + "|"
	}
	return key
}

func sortTuples(tuples [][]interface{}) {
	sort.Slice(tuples, func(a, b int) bool {
		ta, tb := tuples[a], tuples[b]
		for i := 0; i < len(ta) && i < len(tb); i++ {
			if equalValue(ta[i], tb[i]) {
				continue
			}
			return lessValue(ta[i], tb[i])
		}
		return len(ta) < len(tb)
	})
}
