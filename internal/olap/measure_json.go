package olap

import (
	"encoding/json"
	"fmt"
)

// measureEnvelope is the wire representation of a Measure: a "kind"
// discriminator plus the concrete variant's fields, flattened. This lets a
// QueryDTO travel over JSON (e.g. the httpapi package's POST /query body)
// without a class hierarchy on the wire, mirroring the in-process tagged
// union in Kind().
type measureEnvelope struct {
	Kind MeasureKind `json:"kind"`

	AliasName string `json:"aliasName,omitempty"`

	// PrimitiveMeasure
	Field    string              `json:"field,omitempty"`
	Function AggregationFunction `json:"function,omitempty"`
	Filter   string              `json:"filter,omitempty"`
	Grouping bool                `json:"grouping,omitempty"`

	// ComputedMeasure
	Operator BinaryOperator   `json:"operator,omitempty"`
	Left     *measureEnvelope `json:"left,omitempty"`
	Right    *measureEnvelope `json:"right,omitempty"`
	Ratio    bool             `json:"ratio,omitempty"`

	// ComparisonMeasure
	Base       *measureEnvelope  `json:"base,omitempty"`
	Reference  ReferencePosition `json:"reference,omitempty"`
	ShiftField string            `json:"shiftField,omitempty"`

	// ConstantMeasure
	Value interface{} `json:"value,omitempty"`
}

func toEnvelope(m Measure) *measureEnvelope {
	if m == nil {
		return nil
	}
	switch v := m.(type) {
	case *PrimitiveMeasure:
		return &measureEnvelope{
			Kind: KindPrimitive, AliasName: v.AliasName, Field: v.Field,
			Function: v.Function, Filter: v.Filter, Grouping: v.Grouping,
		}
	case *ComputedMeasure:
		return &measureEnvelope{
			Kind: KindComputed, AliasName: v.AliasName, Operator: v.Operator,
			Left: toEnvelope(v.Left), Right: toEnvelope(v.Right), Ratio: v.Ratio,
		}
	case *ComparisonMeasure:
		return &measureEnvelope{
			Kind: KindComparison, AliasName: v.AliasName, Base: toEnvelope(v.Base),
			Reference: v.Reference, ShiftField: v.ShiftField, Operator: v.Operator,
		}
	case *ConstantMeasure:
		return &measureEnvelope{Kind: KindConstant, AliasName: v.AliasName, Value: v.Value}
	default:
		return nil
	}
}

func (e *measureEnvelope) toMeasure() (Measure, error) {
	if e == nil {
		return nil, nil
	}
	switch e.Kind {
	case KindPrimitive:
		return &PrimitiveMeasure{AliasName: e.AliasName, Field: e.Field, Function: e.Function, Filter: e.Filter, Grouping: e.Grouping}, nil
	case KindComputed:
		left, err := e.Left.toMeasure()
		if err != nil {
			return nil, err
		}
		right, err := e.Right.toMeasure()
		if err != nil {
			return nil, err
		}
		return &ComputedMeasure{AliasName: e.AliasName, Operator: e.Operator, Left: left, Right: right, Ratio: e.Ratio}, nil
	case KindComparison:
		base, err := e.Base.toMeasure()
		if err != nil {
			return nil, err
		}
		return &ComparisonMeasure{AliasName: e.AliasName, Base: base, Reference: e.Reference, ShiftField: e.ShiftField, Operator: e.Operator}, nil
	case KindConstant:
		return &ConstantMeasure{AliasName: e.AliasName, Value: e.Value}, nil
	default:
		return nil, fmt.Errorf("unknown measure kind %d for alias %q", e.Kind, e.AliasName)
	}
}

// MarshalJSON implements json.Marshaler via the measureEnvelope wire format.
func (m *PrimitiveMeasure) MarshalJSON() ([]byte, error)  { return json.Marshal(toEnvelope(m)) }
func (m *ComputedMeasure) MarshalJSON() ([]byte, error)   { return json.Marshal(toEnvelope(m)) }
func (m *ComparisonMeasure) MarshalJSON() ([]byte, error) { return json.Marshal(toEnvelope(m)) }
func (m *ConstantMeasure) MarshalJSON() ([]byte, error)   { return json.Marshal(toEnvelope(m)) }

// unmarshalMeasure decodes one wire-format measure, dispatching on "kind".
func unmarshalMeasure(raw json.RawMessage) (Measure, error) {
	var env measureEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return env.toMeasure()
}

// queryDTOWire mirrors QueryDTO but with Measures as raw JSON so each
// element's concrete Measure type can be resolved via its "kind" tag.
type queryDTOWire struct {
	Table         string
	Joins         []Join
	Columns       []string
	Measures      []json.RawMessage
	Filters       []string
	RollupColumns []string
	GroupingSets  [][]string
	Limit         int
	CacheMode     CacheAction
	Group         *GroupColumnSet
	OrderBy       []ColumnOrderSpec
}

// UnmarshalJSON implements json.Unmarshaler, resolving each Measures element
// to its concrete type via the "kind" discriminator.
func (q *QueryDTO) UnmarshalJSON(data []byte) error {
	var wire queryDTOWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*q = QueryDTO{
		Table: wire.Table, Joins: wire.Joins, Columns: wire.Columns,
		Filters: wire.Filters, RollupColumns: wire.RollupColumns,
		GroupingSets: wire.GroupingSets, Limit: wire.Limit, CacheMode: wire.CacheMode,
		Group: wire.Group, OrderBy: wire.OrderBy,
	}
	if q.Limit == 0 {
		// JSON omits zero-value fields on the wire; this DTO's convention is
		// that a negative Limit means "use the executor's default", so an
		// absent/zero limit in the request body is treated the same way.
		q.Limit = -1
	}
	if wire.Measures == nil {
		return nil
	}
	q.Measures = make([]Measure, len(wire.Measures))
	for i, raw := range wire.Measures {
		m, err := unmarshalMeasure(raw)
		if err != nil {
			return fmt.Errorf("measure %d: %w", i, err)
		}
		q.Measures[i] = m
	}
	return nil
}
