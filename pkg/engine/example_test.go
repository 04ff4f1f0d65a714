package engine_test

import (
	"fmt"

	"github.com/openfroyo/stead/pkg/engine"
)

// Example_reconcile shows how declared projects are compared with the last
// snapshot and mapped to lifecycle phases.
func Example_reconcile() {
	previous := map[string]*engine.Project{
		"api":    {Name: "api", Phases: engine.Phases{Build: []string{"make"}}},
		"legacy": {Name: "legacy"},
	}
	current := map[string]*engine.Project{
		"api": {Name: "api", Phases: engine.Phases{Build: []string{"make release"}}},
		"web": {Name: "web"},
	}

	changes := engine.Compare(current, previous, nil)
	phases := engine.PlanPhases(changes)

	for _, name := range []string{"api", "legacy", "web"} {
		fmt.Printf("%s: %s %v\n", name, changes[name], phases[name])
	}
	// Output:
	// api: changed [teardown setup build start]
	// legacy: removed [stop teardown]
	// web: added [setup build start]
}
