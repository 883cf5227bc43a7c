package olap

// Resolver binds a raw QueryDTO against a schema catalog, producing typed
// columns, the compiled measure map (keyed by alias), and the root
// QueryScope. It is the only component allowed to consult the catalog.
type Resolver struct {
	columns      []Field
	groupColumns []Field
	measures     map[string]Measure
	scope        QueryScope
}

// NewResolver resolves query against catalog, or returns an
// *UnknownFieldError / *TypeMismatchError / *UnresolvedMeasureError.
func NewResolver(query QueryDTO, catalog SchemaCatalog) (*Resolver, error) {
	stores := catalog.StoresByName()
	store, ok := stores[query.Table]
	if !ok {
		return nil, ErrUnknownField("unknown table %q", query.Table)
	}

	var columns []Field
	for _, c := range query.Columns {
		f, ok := store.FieldByName(c)
		if !ok {
			return nil, ErrUnknownField("unknown column %q on table %q", c, query.Table)
		}
		columns = append(columns, f)
	}

	for _, j := range query.Joins {
		if _, ok := stores[j.ToTable]; !ok {
			return nil, ErrUnknownField("unknown join table %q", j.ToTable)
		}
	}

	measures := map[string]Measure{}
	for _, m := range query.Measures {
		if _, dup := measures[m.Alias()]; dup {
			return nil, ErrValidation("duplicate measure alias %q", m.Alias())
		}
		measures[m.Alias()] = m
	}
	if err := validateMeasureFields(query.Measures, store, measures); err != nil {
		return nil, err
	}

	for _, rc := range query.RollupColumns {
		if _, ok := store.FieldByName(rc); !ok {
			return nil, ErrUnknownField("unknown rollup column %q", rc)
		}
	}
	for _, gs := range query.GroupingSets {
		for _, c := range gs {
			if _, ok := store.FieldByName(c); !ok {
				return nil, ErrUnknownField("unknown grouping-set column %q", c)
			}
		}
	}

	scope := QueryScope{
		TableRef:      query.Table,
		Joins:         query.Joins,
		Columns:       append([]string(nil), query.Columns...),
		RollupColumns: append([]string(nil), query.RollupColumns...),
		GroupingSets:  query.GroupingSets,
		Filters:       append([]string(nil), query.Filters...),
		Limit:         query.Limit,
	}

	return &Resolver{
		columns:      columns,
		groupColumns: columns,
		measures:     measures,
		scope:        scope,
	}, nil
}

func (r *Resolver) Columns() []Field             { return r.columns }
func (r *Resolver) GroupColumns() []Field        { return r.groupColumns }
func (r *Resolver) Measures() map[string]Measure { return r.measures }
func (r *Resolver) Scope() QueryScope            { return r.scope }

// validateMeasureFields type-checks primitive measures against the schema
// and resolves computed/comparison operand references, recursing through
// the measure tree.
func validateMeasureFields(measures []Measure, store Store, known map[string]Measure) error {
	for _, m := range measures {
		if err := validateMeasure(m, store, known); err != nil {
			return err
		}
	}
	return nil
}

func validateMeasure(m Measure, store Store, known map[string]Measure) error {
	switch mm := m.(type) {
	case *PrimitiveMeasure:
		if mm.Field == "*" {
			return nil
		}
		f, ok := store.FieldByName(mm.Field)
		if !ok {
			return ErrUnknownField("unknown field %q referenced by measure %q", mm.Field, mm.Alias())
		}
		switch mm.Function {
		case AggSum, AggAvg, AggMin, AggMax:
			if f.Type == FieldTypeString || f.Type == FieldTypeBoolean {
				return ErrTypeMismatch("measure %q: %s is not numeric", mm.Alias(), mm.Field)
			}
		}
		return nil
	case *ComputedMeasure:
		if err := validateMeasure(mm.Left, store, known); err != nil {
			return err
		}
		return validateMeasure(mm.Right, store, known)
	case *ComparisonMeasure:
		if _, ok := store.FieldByName(mm.ShiftField); !ok {
			return ErrUnknownField("unknown shift field %q referenced by measure %q", mm.ShiftField, mm.Alias())
		}
		return validateMeasure(mm.Base, store, known)
	case *ConstantMeasure:
		return nil
	default:
		return ErrUnresolvedMeasure("unresolved measure kind for alias %q", m.Alias())
	}
}
