// Package changeset computes and applies the difference between a
// repository version and a desired listing.
package changeset

import (
	"errors"
	"fmt"
	"sort"

	"pulpfile/pkg/core"
)

var ErrMissingUnit = errors.New("no stored unit for planned addition")

// Plan is what turns a base content set into the next one.
type Plan struct {
	// Add lists entries not present in the base by natural key.
	Add []core.ManifestEntry
	// Remove lists base units that leave the set. In additive mode it
	// only holds units displaced by a new digest at the same path.
	Remove []core.FileContent
}

func (p *Plan) Empty() bool {
	return len(p.Add) == 0 && len(p.Remove) == 0
}

// Compute compares base against the remote listing. With mirror set, base
// units the remote no longer lists are removed; otherwise they stay. A
// listed path whose digest changed always replaces the old unit.
func Compute(base *core.ContentSet, listing []core.ManifestEntry, mirror bool) *Plan {
	plan := &Plan{}
	listed := make(map[string]struct{}, len(listing))

	// 1. additions and replacements
	for _, e := range listing {
		listed[e.RelativePath] = struct{}{}
		if base.Has(e.Key()) {
			continue
		}
		plan.Add = append(plan.Add, e)
		if old, ok := base.Get(e.RelativePath); ok {
			plan.Remove = append(plan.Remove, old)
		}
	}

	// 2. mirror removals
	if mirror {
		for _, u := range base.Units() {
			if _, ok := listed[u.RelativePath]; !ok {
				plan.Remove = append(plan.Remove, u)
			}
		}
	}

	sort.Slice(plan.Add, func(i, j int) bool { return plan.Add[i].RelativePath < plan.Add[j].RelativePath })
	sort.Slice(plan.Remove, func(i, j int) bool { return plan.Remove[i].RelativePath < plan.Remove[j].RelativePath })
	return plan
}

// Apply builds the next content set. stored maps every planned addition to
// its stored unit.
func Apply(base *core.ContentSet, plan *Plan, stored map[core.Key]core.FileContent) (*core.ContentSet, error) {
	next := base.Clone()
	for _, u := range plan.Remove {
		next.Remove(u.RelativePath)
	}
	for _, e := range plan.Add {
		u, ok := stored[e.Key()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingUnit, e.Key())
		}
		next.Put(u)
	}
	return next, nil
}

// Modify applies explicit additions and removals. Removals go first; an
// added unit replaces whatever held its path. Two additions for one path
// are rejected.
func Modify(base *core.ContentSet, add []core.FileContent, remove []core.Key) (*core.ContentSet, error) {
	next := base.Clone()
	for _, k := range remove {
		if next.Has(k) {
			next.Remove(k.Path)
		}
	}
	seen := make(map[string]struct{}, len(add))
	for _, u := range add {
		if _, dup := seen[u.RelativePath]; dup {
			return nil, fmt.Errorf("%w: %s", core.ErrDuplicatePath, u.RelativePath)
		}
		seen[u.RelativePath] = struct{}{}
		next.Put(u)
	}
	return next, nil
}
