package engine

import (
	"github.com/openfroyo/convergo/pkg/diff"
	"github.com/openfroyo/convergo/pkg/generation"
	"github.com/openfroyo/convergo/pkg/manager"
)

// PlanBuild computes the manager calls that move the system from built to
// curr. A nil built means nothing has been built yet, so every item of curr
// is added.
//
// Managers of curr are visited in build order. Each gets at most one remove
// call followed by at most one add call. Managers only present in built are
// visited afterwards, in their own build order, and lose every item.
func PlanBuild(built *generation.Generation, curr generation.Generation, order generation.ManagerOrder) Plan {
	if built == nil {
		return planFull(curr, order)
	}

	plan := Plan{}
	for _, name := range generation.Order(curr, order) {
		adds, removes := diff.Split(diff.History(built.Items(name), curr.Items(name)))
		if len(removes) > 0 {
			plan.Steps = append(plan.Steps, Step{Manager: name, Action: manager.ActionRemove, Items: removes})
		}
		if len(adds) > 0 {
			plan.Steps = append(plan.Steps, Step{Manager: name, Action: manager.ActionAdd, Items: adds})
		}
	}

	dropped := generation.New()
	for name, set := range built.Managers {
		if _, ok := curr.Managers[name]; !ok {
			dropped.Managers[name] = set
		}
	}
	for _, name := range generation.Order(dropped, order) {
		if items := generation.Dedup(dropped.Items(name)); len(items) > 0 {
			plan.Steps = append(plan.Steps, Step{Manager: name, Action: manager.ActionRemove, Items: items})
		}
	}

	return plan
}

func planFull(curr generation.Generation, order generation.ManagerOrder) Plan {
	plan := Plan{First: true}
	for _, name := range generation.Order(curr, order) {
		if items := generation.Dedup(curr.Items(name)); len(items) > 0 {
			plan.Steps = append(plan.Steps, Step{Manager: name, Action: manager.ActionAdd, Items: items})
		}
	}
	return plan
}
