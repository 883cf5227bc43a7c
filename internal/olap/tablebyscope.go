package olap

// TableByScope maps a QueryScope to its materialized table. QueryScope is
// not itself a valid Go map key (it embeds slices), so lookups go through
// the scope's canonical fingerprint.
type TableByScope struct {
	tables map[string]*ColumnarTable
	scopes map[string]QueryScope
}

func NewTableByScope() *TableByScope {
	return &TableByScope{tables: map[string]*ColumnarTable{}, scopes: map[string]QueryScope{}}
}

func (t *TableByScope) Get(s QueryScope) (*ColumnarTable, bool) {
	tbl, ok := t.tables[s.key()]
	return tbl, ok
}

func (t *TableByScope) Set(s QueryScope, tbl *ColumnarTable) {
	k := s.key()
	t.tables[k] = tbl
	t.scopes[k] = s
}

func (t *TableByScope) Scopes() []QueryScope {
	out := make([]QueryScope, 0, len(t.scopes))
	for _, s := range t.scopes {
		out = append(out, s)
	}
	return out
}
