package engine

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gobwas/glob"
)

// Filter restricts reconciliation to a set of project names.
// A nil Filter matches every project.
type Filter = mapset.Set[string]

// NewFilter returns a filter matching exactly names. With no names it returns nil.
func NewFilter(names ...string) Filter {
	if len(names) == 0 {
		return nil
	}
	return mapset.NewSet(names...)
}

// ExpandFilter resolves glob patterns against the union of the current and
// previous project names. Patterns that match nothing are returned as unmatched.
func ExpandFilter(patterns []string, current, previous map[string]*Project) (Filter, []string, error) {
	if len(patterns) == 0 {
		return nil, nil, nil
	}

	known := mapset.NewSet[string]()
	for name := range current {
		known.Add(name)
	}
	for name := range previous {
		known.Add(name)
	}

	selected := mapset.NewSet[string]()
	var unmatched []string
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, nil, NewConfigError("invalid project pattern "+pattern, err)
		}
		matched := false
		for name := range known.Iter() {
			if g.Match(name) {
				selected.Add(name)
				matched = true
			}
		}
		if !matched {
			unmatched = append(unmatched, pattern)
		}
	}
	return selected, unmatched, nil
}

func inFilter(filter Filter, name string) bool {
	return filter == nil || filter.Contains(name)
}

// Compare classifies every project in scope of filter by how it differs from
// the previous snapshot. Unchanged projects are omitted.
func Compare(current, previous map[string]*Project, filter Filter) map[string]ConfigChange {
	changes := make(map[string]ConfigChange)

	for name, cur := range current {
		if !inFilter(filter, name) {
			continue
		}
		prev, ok := previous[name]
		if !ok {
			changes[name] = ChangeAdded
			continue
		}
		if !cur.Equal(prev) {
			changes[name] = ChangeChanged
		}
	}

	for name := range previous {
		if !inFilter(filter, name) {
			continue
		}
		if _, ok := current[name]; !ok {
			changes[name] = ChangeRemoved
		}
	}

	return changes
}

// PlanPhases maps every change to the ordered phases it requires.
func PlanPhases(changes map[string]ConfigChange) map[string][]Phase {
	phases := make(map[string][]Phase, len(changes))
	for name, change := range changes {
		phases[name] = change.Phases()
	}
	return phases
}

// RetryPhases returns the phases needed to resume unchanged projects whose
// last apply failed. Projects listed in changes are skipped.
func RetryPhases(current, previous map[string]*Project, changes map[string]ConfigChange, filter Filter) map[string][]Phase {
	retries := make(map[string][]Phase)
	for name, prev := range previous {
		if !inFilter(filter, name) {
			continue
		}
		if _, changed := changes[name]; changed {
			continue
		}
		if _, declared := current[name]; !declared {
			continue
		}
		if phases := prev.Status.RetryPhases(); len(phases) > 0 {
			retries[name] = phases
		}
	}
	return retries
}

// sortedNames returns the keys of m in ascending order.
func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
