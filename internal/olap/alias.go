package olap

import "strings"

// groupingAliasPrefix is the exact schema for synthetic GROUPING(...)
// measure aliases. Any alias with this prefix is never cached.
const groupingAliasPrefix = "___grouping___"

// groupingAlias builds the synthetic alias for a GROUPING(field) measure.
func groupingAlias(field string) string {
	return groupingAliasPrefix + field
}

// extractFieldFromGroupingAlias returns the field name embedded in a
// grouping alias, or "" if alias does not match the pattern.
func extractFieldFromGroupingAlias(alias string) string {
	if strings.HasPrefix(alias, groupingAliasPrefix) {
		return strings.TrimPrefix(alias, groupingAliasPrefix)
	}
	return ""
}
