package bitemporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyBuilderStability(t *testing.T) {
	kb := &keyBuilder{}
	k1 := kb.build([]scalar{{kind: scalarString, s: "acct-1"}, {kind: scalarInt, i: 7}})
	k2 := kb.build([]scalar{{kind: scalarString, s: "acct-1"}, {kind: scalarInt, i: 7}})
	assert.Equal(t, k1, k2)
}

func TestKeyBuilderDistinguishesFieldBoundaries(t *testing.T) {
	kb := &keyBuilder{}
	k1 := kb.build([]scalar{{kind: scalarString, s: "ab"}, {kind: scalarString, s: "c"}})
	k2 := kb.build([]scalar{{kind: scalarString, s: "a"}, {kind: scalarString, s: "bc"}})
	assert.NotEqual(t, k1, k2)
}

func TestKeyBuilderReuseDoesNotAliasPriorResult(t *testing.T) {
	kb := &keyBuilder{}
	first := kb.build([]scalar{{kind: scalarString, s: "first"}})
	_ = kb.build([]scalar{{kind: scalarString, s: "completely-different-and-longer"}})
	assert.Equal(t, "first\x1f", first, "earlier returned key must survive buffer reuse")
}
