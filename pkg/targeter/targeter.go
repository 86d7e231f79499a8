package targeter

import (
	"context"
	"sort"

	"github.com/pioreactor/cluster-core/pkg/apierror"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// LeaderUnit is the pseudo-unit name representing the leader itself,
// which is never returned by the store's worker inventory but may need
// to be folded into the target set (e.g. cluster-wide system ops).
const LeaderUnit = "$leader"

// Inventory is the subset of pkg/store.Store the Targeter needs. Kept
// narrow and local so this package has no import-time dependency on the
// store's SQL concerns, and so tests can supply a fake.
type Inventory interface {
	ListWorkers(ctx context.Context) ([]*types.Worker, error)
	ListActiveWorkers(ctx context.Context) ([]*types.Worker, error)
	ActiveWorkersInExperiment(ctx context.Context, experiment string) ([]string, error)
}

// Targeter resolves a request's targeting options into a concrete,
// sorted set of unit names. It is a pure function of its inputs and the
// inventory snapshot; it has no state of its own.
type Targeter struct {
	inventory Inventory
}

// New returns a Targeter reading worker inventory from inventory.
func New(inventory Inventory) *Targeter {
	return &Targeter{inventory: inventory}
}

// Resolve implements the deterministic six-step targeting algorithm.
func (t *Targeter) Resolve(ctx context.Context, opts types.TargetingOptions) ([]string, error) {
	// Step 1: expand experiments_opt to active workers; empty expansion is a 400.
	var experimentSet map[string]bool
	if len(opts.Experiments) > 0 {
		experimentSet = make(map[string]bool)
		for _, exp := range opts.Experiments {
			units, err := t.inventory.ActiveWorkersInExperiment(ctx, exp)
			if err != nil {
				return nil, apierror.Wrap(apierror.KindInternal, "resolve experiment targets", err)
			}
			if len(units) == 0 {
				return nil, apierror.Validationf("experiment %q has no active workers assigned", exp)
			}
			for _, u := range units {
				experimentSet[u] = true
			}
		}
	}

	// Step 2: inventory base.
	var base []string
	if opts.ActiveOnly {
		workers, err := t.inventory.ListActiveWorkers(ctx)
		if err != nil {
			return nil, apierror.Wrap(apierror.KindInternal, "list active workers", err)
		}
		base = unitNames(workers)
	} else {
		workers, err := t.inventory.ListWorkers(ctx)
		if err != nil {
			return nil, apierror.Wrap(apierror.KindInternal, "list workers", err)
		}
		base = unitNames(workers)
	}
	baseSet := toSet(base)

	// Step 3: start with inventory base, or the explicit unit set
	// (optionally filtered against the inventory).
	var working map[string]bool
	if len(opts.Units) == 0 {
		working = baseSet
	} else {
		working = make(map[string]bool)
		for _, u := range opts.Units {
			if u == types.BroadcastUnit {
				for w := range baseSet {
					working[w] = true
				}
				continue
			}
			if opts.FilterNonWorkers && !baseSet[u] {
				continue
			}
			working[u] = true
		}
	}

	// Step 4: combine with experiment set per precedence.
	working = combine(working, experimentSet, opts.Precedence)

	// Step 5: add/remove leader per include_leader (nil = follow inventory).
	if opts.IncludeLeader != nil {
		if *opts.IncludeLeader {
			working[LeaderUnit] = true
		} else {
			delete(working, LeaderUnit)
		}
	}

	// Step 6: empty result is a 400; otherwise sorted tuple.
	if len(working) == 0 {
		return nil, apierror.Validationf("targeting resolved to an empty unit set")
	}
	out := make([]string, 0, len(working))
	for u := range working {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func unitNames(workers []*types.Worker) []string {
	out := make([]string, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.PioreactorUnit)
	}
	return out
}

func toSet(units []string) map[string]bool {
	out := make(map[string]bool, len(units))
	for _, u := range units {
		out[u] = true
	}
	return out
}

// combine folds the experiment-derived unit set into working per the
// requested precedence. A nil experimentSet (no experiments_opt given)
// leaves working untouched regardless of precedence.
func combine(working, experimentSet map[string]bool, precedence types.TargetingPrecedence) map[string]bool {
	if experimentSet == nil {
		return working
	}
	switch precedence {
	case types.PrecedenceUnits:
		return working
	case types.PrecedenceExperiments:
		return experimentSet
	case types.PrecedenceIntersection, "":
		out := make(map[string]bool)
		for u := range working {
			if experimentSet[u] {
				out[u] = true
			}
		}
		return out
	default:
		return working
	}
}

// ValidateRunTargeting rejects $broadcast combined with $experiment for
// run (mutating) operations — see design decision on this open question.
func ValidateRunTargeting(unit, experiment string) error {
	if unit == types.BroadcastUnit && experiment == types.UniversalExperiment {
		return apierror.Validationf("cannot combine %s with %s for a run operation; specify a concrete experiment", types.BroadcastUnit, types.UniversalExperiment)
	}
	return nil
}
