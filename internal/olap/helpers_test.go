package olap

import (
	"context"
	"sync/atomic"
)

// fakeQueryEngine is a canned-response QueryEngine test double: each call
// is recorded and answered from a scope-keyed table of pre-seeded
// responses, so tests can assert exactly what the core asked the backend
// for and feed back whatever rows a scenario needs.
type fakeQueryEngine struct {
	catalog   SchemaCatalog
	responses map[string]*ColumnarTable // scope.key() -> canned table
	calls     int32
}

func newFakeQueryEngine(catalog SchemaCatalog) *fakeQueryEngine {
	return &fakeQueryEngine{catalog: catalog, responses: map[string]*ColumnarTable{}}
}

func (f *fakeQueryEngine) seed(scope QueryScope, tbl *ColumnarTable) {
	f.responses[scope.key()] = tbl
}

func (f *fakeQueryEngine) Execute(_ context.Context, q DatabaseQuery) (Table, error) {
	atomic.AddInt32(&f.calls, 1)
	tbl, ok := f.responses[q.Scope.key()]
	if !ok {
		return NewColumnarTable(nil, nil, nil), nil
	}
	return tbl.Clone(), nil
}

func (f *fakeQueryEngine) ExecuteRawSQL(context.Context, string) (Table, error) {
	return NewColumnarTable(nil, nil, nil), nil
}

func (f *fakeQueryEngine) Datastore() SchemaCatalog { return f.catalog }

func (f *fakeQueryEngine) callCount() int { return int(atomic.LoadInt32(&f.calls)) }

func testCatalog() SchemaCatalog {
	return MapCatalog{
		"sales": Store{
			Name: "sales",
			Fields: []Field{
				{Name: "region", Type: FieldTypeString},
				{Name: "quarter", Type: FieldTypeString},
				{Name: "amount", Type: FieldTypeFloating},
				{Name: "cost", Type: FieldTypeFloating},
			},
		},
	}
}
