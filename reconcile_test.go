package bitemporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSentinel = int64(99999)

func valA() []scalar { return []scalar{{kind: scalarString, s: "A"}} }
func valB() []scalar { return []scalar{{kind: scalarString, s: "B"}} }

func activeCurrent(sourceIndex int, from, to int64, fp string) row {
	return row{
		idKey: "id-1", effectiveFrom: from, effectiveTo: to,
		asOfFrom: 1, asOfTo: testSentinel, fingerprint: fp,
		values: valA(), side: sideCurrent, sourceIndex: sourceIndex,
	}
}

func update(from, to, asOf int64, fp string, order int) row {
	return row{
		idKey: "id-1", effectiveFrom: from, effectiveTo: to,
		asOfFrom: asOf, asOfTo: testSentinel, fingerprint: fp,
		values: valB(), side: sideUpdate, sourceIndex: order, inputOrder: order,
	}
}

func baseOpts() *Options {
	o := NewOptions([]string{"id"}, []string{"value"})
	o.SystemDate = 500
	o.Sentinel = testSentinel
	return o
}

func TestReconcileDeltaFullOverlapReplacesValue(t *testing.T) {
	current := []row{activeCurrent(0, 0, 100, "A")}
	updates := []row{update(0, 100, 500, "B", 0)}

	out := reconcileDelta(current, updates, baseOpts())
	require.NoError(t, out.err)
	assert.Equal(t, []int{0}, out.expireIndex)
	require.Len(t, out.inserts, 1)
	assert.Equal(t, "B", out.inserts[0].fingerprint)
	assert.Equal(t, int64(0), out.inserts[0].effectiveFrom)
	assert.Equal(t, int64(100), out.inserts[0].effectiveTo)
	assert.Equal(t, int64(500), out.inserts[0].asOfFrom)
}

// TestReconcileDeltaCoveringSegmentStampsSystemDateNotUpdateAsOf covers
// spec §4.5.a Step 4: new material originating from a winning update is
// stamped with the batch's system date, not the update's own
// as_of_from, which instead only governs Step 3's tie-break among
// overlapping updates and can legitimately differ from the call's
// SystemDate.
func TestReconcileDeltaCoveringSegmentStampsSystemDateNotUpdateAsOf(t *testing.T) {
	current := []row{activeCurrent(0, 0, 100, "A")}
	updates := []row{update(0, 100, 300, "B", 0)}

	opts := baseOpts()
	opts.SystemDate = 500
	out := reconcileDelta(current, updates, opts)
	require.NoError(t, out.err)
	require.Len(t, out.inserts, 1)
	assert.Equal(t, int64(500), out.inserts[0].asOfFrom, "covering segment is stamped with SystemDate, not the update's own as_of_from (300)")
}

func TestReconcileDeltaPartialOverlapSplitsIntoThreeSegments(t *testing.T) {
	current := []row{activeCurrent(0, 0, 100, "A")}
	updates := []row{update(50, 80, 500, "B", 0)}

	out := reconcileDelta(current, updates, baseOpts())
	require.NoError(t, out.err)
	assert.Equal(t, []int{0}, out.expireIndex)
	require.Len(t, out.inserts, 3)

	byRange := map[[2]int64]row{}
	for _, r := range out.inserts {
		byRange[[2]int64{r.effectiveFrom, r.effectiveTo}] = r
	}
	require.Contains(t, byRange, [2]int64{0, 50})
	require.Contains(t, byRange, [2]int64{50, 80})
	require.Contains(t, byRange, [2]int64{80, 100})

	assert.Equal(t, "A", byRange[[2]int64{0, 50}].fingerprint)
	assert.Equal(t, "B", byRange[[2]int64{50, 80}].fingerprint)
	assert.Equal(t, "A", byRange[[2]int64{80, 100}].fingerprint)
	assert.Equal(t, int64(500), byRange[[2]int64{0, 50}].asOfFrom, "re-emitted slice inherits the triggering update's as_of_from")
}

func TestReconcileDeltaDisjointUpdateLeavesCurrentUntouched(t *testing.T) {
	current := []row{activeCurrent(0, 0, 10, "A")}
	updates := []row{update(20, 30, 500, "B", 0)}

	out := reconcileDelta(current, updates, baseOpts())
	assert.Empty(t, out.expireIndex)
	require.Len(t, out.inserts, 1)
	assert.Equal(t, int64(20), out.inserts[0].effectiveFrom)
}

func TestReconcileDeltaAdjacentUpdateIsDisjointNotOverlap(t *testing.T) {
	current := []row{activeCurrent(0, 0, 10, "A")}
	updates := []row{update(10, 20, 500, "B", 0)}

	out := reconcileDelta(current, updates, baseOpts())
	assert.Empty(t, out.expireIndex, "boundary-touching update must not mark the current row affected")
}

func TestReconcileDeltaTrivialEchoDropsBoth(t *testing.T) {
	current := []row{activeCurrent(0, 0, 50, "A")}
	updates := []row{update(0, 50, 500, "A", 0)}

	out := reconcileDelta(current, updates, baseOpts())
	assert.Empty(t, out.expireIndex, "no-op reassertion drops the expire entry too")
	assert.Empty(t, out.inserts)
}

func TestReconcileDeltaTieBreakByInputOrder(t *testing.T) {
	current := []row{activeCurrent(0, 0, 50, "A")}
	u1 := update(0, 50, 500, "B", 0)
	u2 := update(0, 50, 500, "C", 1)
	out := reconcileDelta(current, []row{u1, u2}, baseOpts())
	require.Len(t, out.inserts, 1)
	assert.Equal(t, "B", out.inserts[0].fingerprint, "equal as_of_from ties broken toward the earlier input order")
}

func TestReconcileFullStateBypassesExactMatch(t *testing.T) {
	g := &identityGroup{
		key:     "id-1",
		current: []row{activeCurrent(0, 0, 50, "A")},
		updates: []row{update(0, 50, 500, "A", 0)},
	}
	out := reconcileFullState(g, baseOpts())
	assert.Empty(t, out.expireIndex)
	assert.Empty(t, out.inserts)
}

func TestReconcileFullStateTombstonesMissingIdentity(t *testing.T) {
	g := &identityGroup{
		key:     "id-1",
		current: []row{activeCurrent(0, 0, testSentinel, "A")},
	}
	opts := baseOpts()
	out := reconcileFullState(g, opts)
	require.Len(t, out.expireIndex, 1)
	require.Len(t, out.inserts, 1)
	assert.Equal(t, opts.SystemDate, out.inserts[0].effectiveTo)
	assert.Equal(t, opts.SystemDate, out.inserts[0].asOfFrom)
}

func TestReconcileFullStatePureInsertForNewIdentity(t *testing.T) {
	g := &identityGroup{
		key:     "id-1",
		updates: []row{update(0, 50, 500, "A", 0)},
	}
	out := reconcileFullState(g, baseOpts())
	assert.Empty(t, out.expireIndex)
	require.Len(t, out.inserts, 1)
}
