package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"olapcore/internal/olap"
)

// IntrospectCatalog builds a SchemaCatalog for tables by running DESCRIBE
// against the open DuckDB connection. Callers typically use this once at
// startup rather than hand-rolling a SchemaCatalog.
func IntrospectCatalog(ctx context.Context, db *sql.DB, tables []string) (olap.SchemaCatalog, error) {
	cat := olap.MapCatalog{}
	for _, table := range tables {
		store, err := describeTable(ctx, db, table)
		if err != nil {
			return nil, fmt.Errorf("describe %q: %w", table, err)
		}
		cat[table] = store
	}
	return cat, nil
}

func describeTable(ctx context.Context, db *sql.DB, table string) (olap.Store, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("DESCRIBE %s", quoteIdent(table)))
	if err != nil {
		return olap.Store{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return olap.Store{}, err
	}

	var fields []olap.Field
	for rows.Next() {
		var name, colType string
		dest := make([]interface{}, len(cols))
		dest[0], dest[1] = &name, &colType
		for i := 2; i < len(cols); i++ {
			var ignored interface{}
			dest[i] = &ignored
		}
		if err := rows.Scan(dest...); err != nil {
			return olap.Store{}, err
		}
		fields = append(fields, olap.Field{Name: name, Type: duckTypeToFieldType(colType)})
	}
	return olap.Store{Name: table, Fields: fields}, rows.Err()
}

func duckTypeToFieldType(t string) olap.FieldType {
	t = strings.ToUpper(t)
	switch {
	case strings.HasSuffix(t, "[]"):
		if strings.Contains(t, "INT") {
			return olap.FieldTypeRepeatedInteger
		}
		return olap.FieldTypeRepeatedString
	case strings.Contains(t, "INT"):
		return olap.FieldTypeInteger
	case strings.Contains(t, "DOUBLE"), strings.Contains(t, "FLOAT"), strings.Contains(t, "DECIMAL"):
		return olap.FieldTypeFloating
	case strings.Contains(t, "BOOL"):
		return olap.FieldTypeBoolean
	case strings.Contains(t, "TIMESTAMP"):
		return olap.FieldTypeDatetime
	case strings.Contains(t, "DATE"):
		return olap.FieldTypeDate
	default:
		return olap.FieldTypeString
	}
}
