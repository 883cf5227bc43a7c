package olap

// DefaultTotalMarker is the sentinel substituted for a null grouping cell
// produced by a ROLLUP/GROUPING-SETS super-aggregate row. Per-field
// overrides can be supplied via TotalMarkers on the PostProcessor.
const DefaultTotalMarker = "Total"

// TotalMarkerFor returns the configured total marker for a field, falling
// back to DefaultTotalMarker.
func TotalMarkerFor(overrides map[string]interface{}, field string) interface{} {
	if overrides != nil {
		if v, ok := overrides[field]; ok {
			return v
		}
	}
	return DefaultTotalMarker
}
