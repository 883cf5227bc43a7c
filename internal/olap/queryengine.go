package olap

import "context"

// DatabaseQuery is what the core asks a QueryEngine to materialize: a
// scope plus the list of primitive measures requested at it, in request
// order.
type DatabaseQuery struct {
	Scope    QueryScope
	Measures []Measure
}

// QueryEngine is the sole external collaborator for backend storage/SQL
// generation. The core never builds SQL itself; it only describes scopes
// and measures and reads back columnar tables.
type QueryEngine interface {
	// Execute returns a table whose dimension columns are exactly the
	// scope's grouping columns, followed by one column per requested
	// measure in request order, with null for rollup/grouping-set
	// super-aggregates.
	Execute(ctx context.Context, q DatabaseQuery) (Table, error)

	// ExecuteRawSQL is a pass-through escape hatch for callers that already
	// have backend-native SQL.
	ExecuteRawSQL(ctx context.Context, sql string) (Table, error)

	// Datastore exposes the schema catalog the Resolver consults.
	Datastore() SchemaCatalog
}
