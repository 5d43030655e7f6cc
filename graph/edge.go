package graph

const wildcardFrom = "*"

// Edge is a directed, conditional, priority-ordered link between two nodes.
// From == "*" matches any current node. Condition nil is treated as
// unconditionally true. IsFallback marks an edge as a last-resort route,
// used only when no non-fallback edge's Condition matches.
type Edge struct {
	From       string
	To         string
	Condition  Predicate
	Priority   int
	IsFallback bool
}

// Predicate evaluates a Message to decide whether an Edge should be taken.
// Predicates should be pure: deterministic, no side effects.
type Predicate func(m Message) bool

// matches reports whether e originates at currentNodeID and its condition
// (if any) is satisfied by m.
func (e Edge) matches(currentNodeID string, m Message) bool {
	if e.From != currentNodeID && e.From != wildcardFrom {
		return false
	}
	if e.Condition == nil {
		return true
	}
	return e.Condition(m)
}

// resolveEdge implements the edge resolver from spec.md §4.4: collect edges
// leaving currentNodeID (including wildcard edges), partition fallback from
// non-fallback, and return the lowest-priority match among non-fallback
// edges whose condition holds; failing that, the lowest-priority fallback
// edge unconditionally; failing that, report no route.
//
// Ties in priority resolve in the order the edges were declared on the
// Graph (open question (i): a wildcard edge participates in priority
// ordering like any other edge, it is not demoted to last resort).
func resolveEdge(edges []Edge, currentNodeID string, m Message) (Edge, bool) {
	var candidates, fallbacks []Edge
	for _, e := range edges {
		if e.From != currentNodeID && e.From != wildcardFrom {
			continue
		}
		if e.IsFallback {
			fallbacks = append(fallbacks, e)
		} else {
			candidates = append(candidates, e)
		}
	}

	if best, ok := firstMatchByPriority(candidates, m); ok {
		return best, true
	}
	if len(fallbacks) == 0 {
		return Edge{}, false
	}
	return lowestPriority(fallbacks), true
}

// firstMatchByPriority returns the lowest-priority edge among edges whose
// Condition matches m, preserving original slice order as the tiebreak for
// equal priorities (a stable sort would also do this; a linear scan keeping
// the best-so-far is simpler and just as correct for the sizes involved).
func firstMatchByPriority(edges []Edge, m Message) (Edge, bool) {
	var best Edge
	found := false
	for _, e := range edges {
		if e.Condition != nil && !e.Condition(m) {
			continue
		}
		if !found || e.Priority < best.Priority {
			best = e
			found = true
		}
	}
	return best, found
}

func lowestPriority(edges []Edge) Edge {
	best := edges[0]
	for _, e := range edges[1:] {
		if e.Priority < best.Priority {
			best = e
		}
	}
	return best
}
