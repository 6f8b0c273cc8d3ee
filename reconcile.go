package bitemporal

import "sort"

// groupOutcome is what reconciling one identity group produces: the
// source-batch indices of current rows to expire, and the new rows to
// insert. Both sides feed postprocess.go once every group has run.
type groupOutcome struct {
	expireIndex []int
	inserts     []row
	err         error
}

// reconcileGroup dispatches to the delta or full-state algorithm
// depending on opts.Mode. It is the unit of work the adaptive scheduler
// (schedule.go) fans out across identity groups.
func reconcileGroup(g *identityGroup, opts *Options) groupOutcome {
	switch opts.Mode {
	case ModeFullState:
		return reconcileFullState(g, opts)
	default:
		return reconcileDelta(g.current, g.updates, opts)
	}
}

// reconcileDelta layers updates incrementally on top of the current
// active timeline. current must already satisfy the non-overlap
// invariant (checked by the engine before dispatch); updates need not be
// sorted or conflated unless the caller has already done so.
func reconcileDelta(current, updates []row, opts *Options) groupOutcome {
	active := make([]row, 0, len(current))
	for _, c := range current {
		if c.active(opts.Sentinel) {
			active = append(active, c)
		}
	}

	overlapping := make([]row, 0, len(updates))
	disjoint := make([]row, 0, len(updates))
	affected := newAffectedMask(len(active))

	for _, u := range updates {
		touches := false
		for i, c := range active {
			if intersects(c, u) {
				affected.set(i)
				touches = true
			}
		}
		if touches {
			overlapping = append(overlapping, u)
		} else {
			disjoint = append(disjoint, u)
		}
	}

	var inserts []row
	var expireIdx []int

	// Step 1: disjoint updates pass straight through as new facts.
	for _, u := range disjoint {
		inserts = append(inserts, u)
	}

	var affectedRows []row
	affected.forEach(func(i int) {
		c := active[i]
		affectedRows = append(affectedRows, c)
		expireIdx = append(expireIdx, c.sourceIndex)
	})

	if len(overlapping) == 0 && len(affectedRows) == 0 {
		return groupOutcome{expireIndex: expireIdx, inserts: inserts}
	}

	segments := buildSegments(affectedRows, overlapping, opts.SystemDate)
	segments = conflateAdjacentNoAsOf(segments)
	segments = collapseTrivialEchoes(segments, affectedRows, &expireIdx)

	inserts = append(inserts, segments...)
	return groupOutcome{expireIndex: expireIdx, inserts: inserts}
}

// buildSegments walks the sorted set of boundary points contributed by
// affected current rows and overlapping updates and, for each resulting
// sub-interval, picks its winning value: the overlapping update with the
// latest as_of_from wins, ties broken by input order, falling back to
// the affected current row's own value, re-stamped with the as_of_from
// of whichever update caused it to become affected, when no update
// covers that sub-interval. systemDate is the batch timestamp stamped
// onto new material originating from a winning update (spec §4.5.a
// Step 4); it is distinct from the update's own as_of_from, which only
// governs Step 3's winner tie-break among overlapping updates.
func buildSegments(affectedCurrent, overlapping []row, systemDate int64) []row {
	points := boundaryPoints(affectedCurrent, overlapping)
	var segments []row

	for i := 0; i+1 < len(points); i++ {
		start, end := points[i], points[i+1]
		if start >= end {
			continue
		}

		var covering []row
		for _, u := range overlapping {
			if u.effectiveFrom <= start && u.effectiveTo >= end {
				covering = append(covering, u)
			}
		}
		if len(covering) > 0 {
			w := pickWinner(covering)
			seg := w
			seg.effectiveFrom = start
			seg.effectiveTo = end
			seg.asOfFrom = systemDate
			seg.asOfTo = w.asOfTo
			segments = append(segments, seg)
			continue
		}

		var coveringCurrent *row
		for i := range affectedCurrent {
			c := affectedCurrent[i]
			if c.effectiveFrom <= start && c.effectiveTo >= end {
				coveringCurrent = &affectedCurrent[i]
				break
			}
		}
		if coveringCurrent == nil {
			continue // gap not covered by anything, nothing to emit
		}

		var triggers []row
		for _, u := range overlapping {
			if intersects(*coveringCurrent, u) {
				triggers = append(triggers, u)
			}
		}
		if len(triggers) == 0 {
			continue // defensive: should be unreachable given affected implies a trigger exists
		}
		trigger := pickWinner(triggers)

		seg := *coveringCurrent
		seg.effectiveFrom = start
		seg.effectiveTo = end
		seg.asOfFrom = trigger.asOfFrom
		segments = append(segments, seg)
	}
	return segments
}

func boundaryPoints(affectedCurrent, overlapping []row) []int64 {
	set := make(map[int64]struct{}, 2*(len(affectedCurrent)+len(overlapping)))
	for _, c := range affectedCurrent {
		set[c.effectiveFrom] = struct{}{}
		set[c.effectiveTo] = struct{}{}
	}
	for _, u := range overlapping {
		set[u.effectiveFrom] = struct{}{}
		set[u.effectiveTo] = struct{}{}
	}
	points := make([]int64, 0, len(set))
	for p := range set {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })
	return points
}

// pickWinner applies the tie-break rule among candidates covering the
// same sub-interval: the candidate with the latest as_of_from wins;
// ties are broken by input order, lowest (earliest-seen) wins.
func pickWinner(candidates []row) row {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.asOfFrom > best.asOfFrom || (c.asOfFrom == best.asOfFrom && c.inputOrder < best.inputOrder) {
			best = c
		}
	}
	return best
}

// conflateAdjacentNoAsOf fuses adjacent segments that share a
// fingerprint and as_of_from. Requiring same as_of_from preserves
// distinct as-of provenance across a fused boundary, so two segments
// that happen to carry the same value but were established at
// different times remain separate audit rows.
func conflateAdjacentNoAsOf(segments []row) []row {
	return conflateAdjacent(segments, true)
}

// collapseTrivialEchoes drops an emitted insert that is identical to an
// affected current row it is re-covering, along with that row's expire
// entry, since nothing actually changed. Identical is read here as
// identity + fingerprint + effective interval equality, not also
// as_of interval equality: a segment's as_of_from is, by construction,
// always freshly stamped (either the system date for a brand-new update
// value, or the triggering update's as_of_from for a re-emitted slice),
// so requiring as_of equality too would make this unreachable even for
// a genuine full reassertion where nothing actually changed.
func collapseTrivialEchoes(segments, affectedCurrent []row, expireIdx *[]int) []row {
	if len(affectedCurrent) == 0 {
		return segments
	}
	consumed := make(map[int]bool, len(affectedCurrent))
	kept := segments[:0:0]
	for _, seg := range segments {
		dropped := false
		for i, c := range affectedCurrent {
			if consumed[i] {
				continue
			}
			if seg.fingerprint == c.fingerprint &&
				seg.effectiveFrom == c.effectiveFrom &&
				seg.effectiveTo == c.effectiveTo {
				consumed[i] = true
				dropped = true
				break
			}
		}
		if !dropped {
			kept = append(kept, seg)
		}
	}
	if len(consumed) == 0 {
		return segments
	}
	filtered := (*expireIdx)[:0]
	ci := 0
	for _, idx := range *expireIdx {
		for ci < len(affectedCurrent) && affectedCurrent[ci].sourceIndex != idx {
			ci++
		}
		if ci < len(affectedCurrent) && consumed[ci] {
			continue
		}
		filtered = append(filtered, idx)
	}
	*expireIdx = filtered
	return kept
}

// reconcileFullState treats updates as the complete desired state for
// every identity present in them.
func reconcileFullState(g *identityGroup, opts *Options) groupOutcome {
	if len(g.updates) == 0 {
		return tombstone(g, opts)
	}
	if len(g.current) == 0 {
		// Pure insert: nothing to reconcile against.
		return groupOutcome{inserts: append([]row(nil), g.updates...)}
	}

	active := make([]row, 0, len(g.current))
	for _, c := range g.current {
		if c.active(opts.Sentinel) {
			active = append(active, c)
		}
	}

	bypassedCurrent := make(map[int]bool)
	var remainingUpdates []row
	for _, u := range g.updates {
		matched := false
		for i, c := range active {
			if bypassedCurrent[i] {
				continue
			}
			if u.effectiveFrom == c.effectiveFrom && u.effectiveTo == c.effectiveTo && u.fingerprint == c.fingerprint {
				bypassedCurrent[i] = true
				matched = true
				break
			}
		}
		if !matched {
			remainingUpdates = append(remainingUpdates, u)
		}
	}

	var remainingCurrent []row
	for i, c := range active {
		if !bypassedCurrent[i] {
			remainingCurrent = append(remainingCurrent, c)
		}
	}

	if len(remainingCurrent) == 0 && len(remainingUpdates) == 0 {
		return groupOutcome{}
	}
	return reconcileDelta(remainingCurrent, remainingUpdates, opts)
}

// tombstone closes out an identity that disappeared entirely from the
// updates batch: the row whose effective interval is still open (or, if
// none is open, the one with the greatest effective_to) is expired and
// re-emitted with effective_to pulled in to the system date.
func tombstone(g *identityGroup, opts *Options) groupOutcome {
	var target *row
	for i := range g.current {
		c := &g.current[i]
		if !c.active(opts.Sentinel) {
			continue
		}
		if target == nil {
			target = c
			continue
		}
		if c.effectiveTo == opts.Sentinel || c.effectiveTo > target.effectiveTo {
			target = c
		}
	}
	if target == nil {
		return groupOutcome{}
	}
	closed := *target
	closed.effectiveTo = opts.SystemDate
	closed.asOfFrom = opts.SystemDate
	closed.asOfTo = opts.Sentinel
	return groupOutcome{
		expireIndex: []int{target.sourceIndex},
		inserts:     []row{closed},
	}
}
