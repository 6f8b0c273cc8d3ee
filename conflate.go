package bitemporal

import "sort"

// conflateAdjacent merges consecutive rows in rows that share a value
// fingerprint and whose effective intervals touch (rows[i].effectiveTo
// == rows[i+1].effectiveFrom). rows need not already be sorted by
// effectiveFrom; conflateAdjacent sorts a copy first. requireSameAsOf
// additionally requires matching as_of_from before two rows are
// considered the same assertion; callers that merge purely on value and
// adjacency (spec §4.4's input conflator, and C7's final cross-group
// tidy-up) pass false.
//
// The merged row keeps the first contributing row's idValues, asOfFrom,
// asOfTo, fingerprint, and inputOrder, and the last contributing row's
// effectiveTo, mirroring original_source/src/conflation.rs's
// simple_conflate_batches, which keeps the first batch's metadata and
// simply extends its effective range.
func conflateAdjacent(rows []row, requireSameAsOf bool) []row {
	if len(rows) < 2 {
		return rows
	}
	sorted := append([]row(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].effectiveFrom < sorted[j].effectiveFrom
	})

	out := make([]row, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if cur.effectiveTo == next.effectiveFrom &&
			cur.fingerprint == next.fingerprint &&
			(!requireSameAsOf || cur.asOfFrom == next.asOfFrom) {
			cur.effectiveTo = next.effectiveTo
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}

// conflateGroupUpdates runs on one identity group's update rows before
// reconciliation (C4). Spec §4.4's merge condition is purely
// `value_hash[i] == value_hash[i+1]` and `effective_to[i] ==
// effective_from[i+1]` — as_of_from plays no part, matching
// original_source/src/conflation.rs::can_merge_batches, which excludes
// as_of_from/as_of_to from its equality check entirely. This is
// deliberately the opposite predicate from conflateAdjacentNoAsOf
// (reconcile.go's Step-4 segment fusion), which does require matching
// as_of_from to preserve distinct audit provenance across a fused
// boundary; C4 runs before any as_of_from is assigned by reconciliation,
// so there is no provenance yet to protect.
func conflateGroupUpdates(updates []row) []row {
	return conflateAdjacent(updates, false)
}
