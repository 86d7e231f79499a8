/*
Package targeter resolves a request's targeting options — explicit
units, explicit experiments, active-only, include-leader,
filter-non-workers, and a precedence rule — into one concrete, sorted
set of unit names.

Targeter.Resolve is a pure function of its inputs plus a read-only
inventory snapshot (pkg/store, through the narrow Inventory interface):
it never mutates state and never talks to the Bus or UnitClient itself.
Every LeaderAPI handler that fans a call out to units calls Resolve
exactly once, so the six-step algorithm here is the only place
targeting defaults are decided — handlers never apply their own
fallback logic.

An empty resolved set and an empty experiment expansion are both
reported as *apierror.Error with KindValidation (HTTP 400), matching
the "impossible targeting" edge case.
*/
package targeter
