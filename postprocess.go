package bitemporal

import "sort"

// postProcess implements spec §4.7: deduplicate inserts that more than
// one identity group might otherwise emit redundantly, fuse any
// temporally-adjacent equal-valued inserts that slipped past each
// group's own per-group fusion (C4/Step 4 only see their own group's
// rows), and sort the final list into a deterministic order.
func postProcess(inserts []row) []row {
	inserts = dedupeInserts(inserts)
	inserts = conflateAcrossGroups(inserts)
	sortInserts(inserts)
	return inserts
}

// dedupeInserts drops exact duplicates: same identity, same effective
// interval, same fingerprint. Two groups cannot normally emit the same
// insert, but a caller that conflates inputs across repeated
// ComputeChanges calls on overlapping batches can end up with one, and
// spec §6 P2 (determinism) requires the result to be a set, not a
// multiset, along this axis.
func dedupeInserts(inserts []row) []row {
	type key struct {
		id   string
		from int64
		to   int64
		fp   string
	}
	seen := make(map[key]bool, len(inserts))
	out := inserts[:0:0]
	for _, r := range inserts {
		k := key{id: r.idKey, from: r.effectiveFrom, to: r.effectiveTo, fp: r.fingerprint}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// conflateAcrossGroups re-groups the final insert set by identity and
// fuses adjacent equal-valued segments, without requiring matching
// as_of_from: at this stage the goal is a tidy final effective-axis
// timeline, not preserving per-group audit boundaries (that distinction
// is already captured correctly within reconcileDelta's own fusion
// pass).
func conflateAcrossGroups(inserts []row) []row {
	byIdentity := make(map[string][]row)
	var order []string
	for _, r := range inserts {
		if _, ok := byIdentity[r.idKey]; !ok {
			order = append(order, r.idKey)
		}
		byIdentity[r.idKey] = append(byIdentity[r.idKey], r)
	}

	out := make([]row, 0, len(inserts))
	for _, id := range order {
		out = append(out, conflateAdjacent(byIdentity[id], false)...)
	}
	return out
}

// sortInserts establishes the deterministic output order spec §6 P8
// requires: identity key first, then effective_from.
func sortInserts(inserts []row) {
	sort.SliceStable(inserts, func(i, j int) bool {
		if inserts[i].idKey != inserts[j].idKey {
			return inserts[i].idKey < inserts[j].idKey
		}
		return inserts[i].effectiveFrom < inserts[j].effectiveFrom
	})
}
