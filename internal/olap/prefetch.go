package olap

import "sort"

// scopePrereq pairs a scope with the measures prerequisites() declared for
// it.
type scopePrereq struct {
	Scope    QueryScope
	Measures []Measure
}

// scopedMeasures is the per-scope prerequisite set prerequisites() builds
// up. QueryScope is not itself a valid Go map key (it embeds slices, see
// scope.go's key()), so scopes are indexed by their string fingerprint
// here, mirroring TableByScope's own workaround.
type scopedMeasures struct {
	scopes   map[string]QueryScope
	measures map[string][]Measure
}

func newScopedMeasures() *scopedMeasures {
	return &scopedMeasures{scopes: map[string]QueryScope{}, measures: map[string][]Measure{}}
}

func (s *scopedMeasures) add(scope QueryScope, ms ...Measure) {
	k := scope.key()
	s.scopes[k] = scope
	s.measures[k] = append(s.measures[k], ms...)
}

// entries returns each distinct scope alongside its declared measures,
// ordered by scope fingerprint so that callers see the same order on every
// run.
func (s *scopedMeasures) entries() []scopePrereq {
	keys := make([]string, 0, len(s.scopes))
	for k := range s.scopes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]scopePrereq, 0, len(keys))
	for _, k := range keys {
		out = append(out, scopePrereq{s.scopes[k], s.measures[k]})
	}
	return out
}

// prerequisites dispatches on a compiled measure's kind and returns the
// sub-scopes and sub-measures it immediately requires:
//
//   - primitive aggregate: the current scope with no further measures (the
//     node itself is what gets fetched).
//   - computed (binary op): its primitive operands at the current scope;
//     an operand that is not primitive contributes its own prerequisites.
//   - comparison/window: the base measure at the current scope AND at a
//     shifted scope (a base that is not primitive contributes its own
//     prerequisites at both scopes).
//   - constant: no prerequisites.
//
// The visitor never executes anything; it only declares requirements. The
// graph builder (graph.go) closes the transitive closure by re-applying
// this function to each newly discovered node until a fixpoint.
func prerequisites(m Measure, scope QueryScope) *scopedMeasures {
	out := newScopedMeasures()
	switch mm := m.(type) {
	case *PrimitiveMeasure:
		out.add(scope)

	case *ComputedMeasure:
		for _, op := range []Measure{mm.Left, mm.Right} {
			if IsPrimitive(op) {
				out.add(scope, op)
			} else {
				mergePrereqs(out, prerequisites(op, scope))
			}
		}

	case *ComparisonMeasure:
		for _, s := range []QueryScope{scope, shiftedScope(scope, mm.ShiftField)} {
			if IsPrimitive(mm.Base) {
				out.add(s, mm.Base)
			} else {
				mergePrereqs(out, prerequisites(mm.Base, s))
			}
		}

	case *ConstantMeasure:
		// no prerequisites

	default:
		// no prerequisites
	}
	return out
}

// shiftedScope produces the scope a comparison measure's reference value is
// read from. The reference-position transformation used here keeps the
// same grouping dimensions and filters but marks the field being shifted;
// evaluator.go interprets the shift at evaluation time by looking up the
// adjacent row in the reference dimension's ordering. Tagging the scope
// with a virtual table entry keeps shifted and unshifted scopes from
// colliding as cache/graph keys even when every other field is identical.
func shiftedScope(scope QueryScope, shiftField string) QueryScope {
	shifted := scope
	shifted.VirtualTables = append(append([]string(nil), scope.VirtualTables...), "shift:"+shiftField)
	return shifted
}

func mergePrereqs(dst, src *scopedMeasures) {
	for k, scope := range src.scopes {
		dst.scopes[k] = scope
		dst.measures[k] = append(dst.measures[k], src.measures[k]...)
	}
}
