package sla

import (
	"fmt"
	"maps"
	"slices"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
)

// Check reports configuration problems that do not stop the table from
// loading but usually indicate a mistake in the policy file. Problems come
// out in a stable order: defaults, then categories alphabetically.
func (t *Table) Check() []string {
	var problems []string

	for _, p := range request.Priorities {
		if _, ok := t.policies[key{priority: p}]; !ok {
			problems = append(problems, fmt.Sprintf("missing default policy for priority %s", p))
		}
	}

	categories := map[string]struct{}{"": {}}
	for k := range t.policies {
		categories[k.category] = struct{}{}
	}
	for _, category := range slices.Sorted(maps.Keys(categories)) {
		var prev *Policy
		for _, priority := range request.Priorities {
			cur, _, err := t.Lookup(priority, category)
			if err != nil {
				continue
			}
			if prev != nil {
				if cur.AcceptWithinMin < prev.AcceptWithinMin ||
					cur.ArriveWithinMin < prev.ArriveWithinMin ||
					cur.CompleteWithinMin < prev.CompleteWithinMin {
					problems = append(problems, fmt.Sprintf(
						"%s: %s has a tighter budget than %s", displayCategory(category), cur.Priority, prev.Priority))
				}
			}
			p := cur
			prev = &p
		}
	}

	for _, p := range t.Policies() {
		if p.AcceptWithinMin > p.ArriveWithinMin || p.ArriveWithinMin > p.CompleteWithinMin {
			problems = append(problems, fmt.Sprintf(
				"%s/%s: expected accept <= arrive <= complete", p.Priority, displayCategory(p.Category)))
		}
	}
	return problems
}
