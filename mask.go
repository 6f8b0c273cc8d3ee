package bitemporal

import "github.com/esdb/biter"

// affectedMask marks which current rows in one identity group intersect
// at least one overlapping update (spec §4.5.a Step 2). Groups of 64
// rows or fewer use a single biter.Bits word, the same fixed-width
// bitset the teacher uses to mark matching slots within a 64-row chunk
// (chunk.go's searchForward); larger groups - rare, since a group is all
// rows sharing one identity - fall back to a plain []bool, since
// biter.Bits has no multi-word variant in the teacher's vocabulary.
type affectedMask struct {
	bits biter.Bits
	wide []bool
}

func newAffectedMask(n int) *affectedMask {
	if n <= 64 {
		return &affectedMask{}
	}
	return &affectedMask{wide: make([]bool, n)}
}

func (m *affectedMask) set(i int) {
	if m.wide != nil {
		m.wide[i] = true
		return
	}
	m.bits |= biter.SetBits[biter.Slot(i)]
}

func (m *affectedMask) get(i int) bool {
	if m.wide != nil {
		return m.wide[i]
	}
	return m.bits&biter.SetBits[biter.Slot(i)] != 0
}

// forEach calls fn with the index of every set bit, in ascending order,
// using biter's ScanForward iterator idiom for the narrow case.
func (m *affectedMask) forEach(fn func(i int)) {
	if m.wide != nil {
		for i, set := range m.wide {
			if set {
				fn(i)
			}
		}
		return
	}
	next := m.bits.ScanForward()
	for {
		slot := next()
		if slot == biter.NotFound {
			return
		}
		fn(int(slot))
	}
}
