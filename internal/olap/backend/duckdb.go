// Package backend provides the reference QueryEngine implementation,
// backed by an in-process DuckDB database via database/sql.
package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"

	"olapcore/internal/olap"
	"olapcore/internal/olap/loader"
)

// DuckDBEngine implements olap.QueryEngine over a *sql.DB opened with the
// "duckdb" driver. It translates a olap.DatabaseQuery into SQL text; the
// core never builds SQL itself, so that boundary lives one layer up, in
// this adapter.
type DuckDBEngine struct {
	db      *sql.DB
	catalog olap.SchemaCatalog
}

var _ olap.QueryEngine = (*DuckDBEngine)(nil)
var _ loader.DataSink = (*DuckDBEngine)(nil)

// NewDuckDBEngine wraps an already-open DuckDB handle. Callers typically
// obtain db via sql.Open("duckdb", "") for an in-memory instance, or a file
// path DSN for a persistent one.
func NewDuckDBEngine(db *sql.DB, catalog olap.SchemaCatalog) *DuckDBEngine {
	return &DuckDBEngine{db: db, catalog: catalog}
}

func (e *DuckDBEngine) Datastore() olap.SchemaCatalog { return e.catalog }

// Execute compiles q into a SELECT ... GROUP BY statement and scans the
// result into a olap.ColumnarTable.
func (e *DuckDBEngine) Execute(ctx context.Context, q olap.DatabaseQuery) (olap.Table, error) {
	sqlText, err := buildSelectSQL(q)
	if err != nil {
		return nil, err
	}
	return e.query(ctx, sqlText, q.Scope.Columns, q.Measures)
}

// ExecuteRawSQL passes sqlText straight to DuckDB with no validation,
// assuming the caller already knows the column shape it will get back.
func (e *DuckDBEngine) ExecuteRawSQL(ctx context.Context, sqlText string) (olap.Table, error) {
	return e.query(ctx, sqlText, nil, nil)
}

func (e *DuckDBEngine) query(ctx context.Context, sqlText string, dimensionFields []string, measures []olap.Measure) (olap.Table, error) {
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("olap/backend: query failed: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	fieldTypes := e.resolveFieldTypes(names, dimensionFields, measures)
	columns := make([]olap.Column, len(names))

	for rows.Next() {
		dest := make([]interface{}, len(names))
		scan := make([]interface{}, len(names))
		for i := range dest {
			scan[i] = &dest[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("olap/backend: scan row: %w", err)
		}
		for i, v := range dest {
			columns[i] = append(columns[i], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fields := make([]olap.Field, len(names))
	measureSet := map[string]bool{}
	measureAliases := map[string]bool{}
	for _, m := range measures {
		measureAliases[m.Alias()] = true
	}
	for i, n := range names {
		fields[i] = olap.Field{Name: n, Type: fieldTypes[n]}
		if measureAliases[n] {
			measureSet[n] = true
		}
	}

	return olap.NewColumnarTable(fields, columns, measureSet), nil
}

// resolveFieldTypes looks grouping dimensions up in the schema catalog and
// types everything else (measures, GROUPING(...) synthetics) as floating;
// DuckDB's own driver type information is
// not surfaced through database/sql's generic Columns(), so the catalog is
// the only structured source of truth available here.
func (e *DuckDBEngine) resolveFieldTypes(names, dimensionFields []string, measures []olap.Measure) map[string]olap.FieldType {
	out := make(map[string]olap.FieldType, len(names))
	stores := e.catalog.StoresByName()
	isDim := map[string]bool{}
	for _, d := range dimensionFields {
		isDim[d] = true
	}
	for _, n := range names {
		if isDim[n] {
			out[n] = lookupFieldType(stores, n)
		} else {
			out[n] = olap.FieldTypeFloating
		}
	}
	return out
}

func lookupFieldType(stores map[string]olap.Store, name string) olap.FieldType {
	for _, s := range stores {
		if f, ok := s.FieldByName(name); ok {
			return f.Type
		}
	}
	return olap.FieldTypeString
}

// buildSelectSQL compiles a scope + measure list into a SELECT statement.
// Only primitive measures ever reach the backend; computed and comparison
// measures are evaluated in-process.
func buildSelectSQL(q olap.DatabaseQuery) (string, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ")

	selects := make([]string, 0, len(q.Scope.Columns)+len(q.Measures))
	for _, c := range q.Scope.Columns {
		selects = append(selects, quoteIdent(c))
	}
	for _, m := range q.Measures {
		expr, err := measureSQL(m)
		if err != nil {
			return "", err
		}
		selects = append(selects, expr)
	}
	if len(selects) == 0 {
		selects = append(selects, "COUNT(*) AS "+quoteIdent("count"))
	}
	sb.WriteString(strings.Join(selects, ", "))

	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdent(q.Scope.TableRef))

	for _, j := range q.Scope.Joins {
		sb.WriteString(" JOIN ")
		sb.WriteString(quoteIdent(j.ToTable))
		sb.WriteString(" ON ")
		sb.WriteString(j.OnSQL)
	}

	if len(q.Scope.Filters) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(q.Scope.Filters, " AND "))
	}

	groupBy := groupBySQL(q.Scope)
	if groupBy != "" {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(groupBy)
	}

	if q.Scope.Limit >= 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(q.Scope.Limit))
	}

	return sb.String(), nil
}

func groupBySQL(scope olap.QueryScope) string {
	switch {
	case len(scope.GroupingSets) > 0:
		sets := make([]string, len(scope.GroupingSets))
		for i, gs := range scope.GroupingSets {
			quoted := make([]string, len(gs))
			for j, c := range gs {
				quoted[j] = quoteIdent(c)
			}
			sets[i] = "(" + strings.Join(quoted, ", ") + ")"
		}
		return "GROUPING SETS (" + strings.Join(sets, ", ") + ")"
	case len(scope.RollupColumns) > 0:
		quoted := make([]string, len(scope.RollupColumns))
		for i, c := range scope.RollupColumns {
			quoted[i] = quoteIdent(c)
		}
		return "ROLLUP (" + strings.Join(quoted, ", ") + ")"
	case len(scope.Columns) > 0:
		quoted := make([]string, len(scope.Columns))
		for i, c := range scope.Columns {
			quoted[i] = quoteIdent(c)
		}
		return strings.Join(quoted, ", ")
	default:
		return ""
	}
}

func measureSQL(m olap.Measure) (string, error) {
	pm, ok := m.(*olap.PrimitiveMeasure)
	if !ok {
		return "", fmt.Errorf("olap/backend: measure %q is not a backend-computable primitive", m.Alias())
	}

	var expr string
	switch {
	case pm.Grouping:
		expr = fmt.Sprintf("GROUPING(%s)", quoteIdent(pm.Field))
	case pm.Function == olap.AggCount && pm.Field == "*":
		expr = "COUNT(*)"
	default:
		expr = fmt.Sprintf("%s(%s)", string(pm.Function), quoteIdent(pm.Field))
	}
	if pm.Filter != "" {
		expr = fmt.Sprintf("%s FILTER (WHERE %s)", expr, pm.Filter)
	}
	return expr + " AS " + quoteIdent(pm.Alias()), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ---- loader.DataSink: ingestion side-channel used by the Loader ----

func (e *DuckDBEngine) Create(ctx context.Context, table string, fields []olap.Field) error {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = quoteIdent(f.Name) + " " + duckDBType(f.Type)
	}
	sqlText := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
	if _, err := e.db.ExecContext(ctx, sqlText); err != nil {
		if loader.IsTableExistsError(err) {
			return loader.ErrTableExists
		}
		return err
	}
	return nil
}

func (e *DuckDBEngine) Drop(ctx context.Context, table string) error {
	_, err := e.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table))
	return err
}

func (e *DuckDBEngine) Insert(ctx context.Context, table string, fields []olap.Field, rows []loader.Row) error {
	if len(rows) == 0 {
		return nil
	}
	names := make([]string, len(fields))
	placeholders := make([]string, len(fields))
	for i, f := range fields {
		names[i] = quoteIdent(f.Name)
		placeholders[i] = "?"
	}
	stmtSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(names, ", "), strings.Join(placeholders, ", "))

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		args := make([]interface{}, len(fields))
		for i, f := range fields {
			args[i] = r[f.Name]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func duckDBType(t olap.FieldType) string {
	switch t {
	case olap.FieldTypeInteger:
		return "BIGINT"
	case olap.FieldTypeFloating:
		return "DOUBLE"
	case olap.FieldTypeBoolean:
		return "BOOLEAN"
	case olap.FieldTypeDate:
		return "DATE"
	case olap.FieldTypeDatetime:
		return "TIMESTAMP"
	case olap.FieldTypeRepeatedInteger:
		return "BIGINT[]"
	case olap.FieldTypeRepeatedString:
		return "VARCHAR[]"
	case olap.FieldTypeOpaque:
		return "JSON"
	default:
		return "VARCHAR"
	}
}
