package olap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueryDTO_JSONRoundTrip_PrimitiveMeasure(t *testing.T) {
	query := QueryDTO{
		Table:   "sales",
		Columns: []string{"region"},
		Measures: []Measure{
			&PrimitiveMeasure{AliasName: "revenue", Field: "amount", Function: AggSum},
		},
		Limit: 50,
	}

	data, err := json.Marshal(query)
	require.NoError(t, err)

	var out QueryDTO
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, "sales", out.Table)
	require.Len(t, out.Measures, 1)
	pm, ok := out.Measures[0].(*PrimitiveMeasure)
	require.True(t, ok)
	require.Equal(t, "revenue", pm.AliasName)
	require.Equal(t, AggSum, pm.Function)
	require.Equal(t, 50, out.Limit)
}

func TestQueryDTO_JSONRoundTrip_ComputedAndComparisonMeasure(t *testing.T) {
	query := QueryDTO{
		Table: "sales",
		Measures: []Measure{
			&ComputedMeasure{
				AliasName: "margin",
				Operator:  OpDivide,
				Left:      &PrimitiveMeasure{AliasName: "revenue", Field: "amount", Function: AggSum},
				Right:     &PrimitiveMeasure{AliasName: "cost", Field: "cost", Function: AggSum},
				Ratio:     true,
			},
			&ComparisonMeasure{
				AliasName:  "growth",
				Base:       &PrimitiveMeasure{AliasName: "revenue", Field: "amount", Function: AggSum},
				Reference:  RefPreviousPeriod,
				ShiftField: "quarter",
				Operator:   OpMinus,
			},
		},
		Limit: -1,
	}

	data, err := json.Marshal(query)
	require.NoError(t, err)

	var out QueryDTO
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Measures, 2)

	cm, ok := out.Measures[0].(*ComputedMeasure)
	require.True(t, ok)
	require.True(t, cm.Ratio)
	require.Equal(t, "revenue", cm.Left.Alias())
	require.Equal(t, "cost", cm.Right.Alias())

	comp, ok := out.Measures[1].(*ComparisonMeasure)
	require.True(t, ok)
	require.Equal(t, RefPreviousPeriod, comp.Reference)
	require.Equal(t, "quarter", comp.ShiftField)
}

func TestQueryDTO_UnmarshalJSON_MissingLimitDefaultsNegative(t *testing.T) {
	var out QueryDTO
	require.NoError(t, json.Unmarshal([]byte(`{"table":"sales"}`), &out))
	require.Equal(t, -1, out.Limit)
}

func TestQueryDTO_UnmarshalJSON_UnknownMeasureKindErrors(t *testing.T) {
	var out QueryDTO
	err := json.Unmarshal([]byte(`{"table":"sales","Measures":[{"kind":99,"aliasName":"x"}]}`), &out)
	require.Error(t, err)
}
