package bitemporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintDeterministic(t *testing.T) {
	h := newFingerprintHasher(HashFast64)
	values := []scalar{{kind: scalarString, s: "blue"}, {kind: scalarInt, i: 42}}
	assert.Equal(t, h.fingerprint(values), h.fingerprint(values))
}

func TestFingerprintDistinguishesNullFromZero(t *testing.T) {
	h := newFingerprintHasher(HashFast64)
	null := []scalar{nullScalar()}
	zero := []scalar{{kind: scalarInt, i: 0}}
	assert.NotEqual(t, h.fingerprint(null), h.fingerprint(zero))
}

func TestFingerprintFloatsDoNotCollapseToInt(t *testing.T) {
	h := newFingerprintHasher(HashFast64)
	asFloat := []scalar{{kind: scalarFloat, f: 4.0}}
	asInt := []scalar{{kind: scalarInt, i: 4}}
	assert.NotEqual(t, h.fingerprint(asFloat), h.fingerprint(asInt),
		"spec's bit-pattern canonicalization keeps float and int encodings distinct")
}

func TestFingerprintCrypto256DiffersFromFast64(t *testing.T) {
	values := []scalar{{kind: scalarString, s: "x"}}
	fast := newFingerprintHasher(HashFast64).fingerprint(values)
	crypto := newFingerprintHasher(HashCrypto256).fingerprint(values)
	assert.NotEqual(t, fast, crypto)
	assert.Len(t, crypto, 64) // hex-encoded sha256
}

func TestComputeFingerprintsFillsEveryRow(t *testing.T) {
	rows := []row{
		{values: []scalar{{kind: scalarInt, i: 1}}},
		{values: []scalar{{kind: scalarInt, i: 2}}},
	}
	computeFingerprints(rows, HashFast64)
	assert.NotEmpty(t, rows[0].fingerprint)
	assert.NotEmpty(t, rows[1].fingerprint)
	assert.NotEqual(t, rows[0].fingerprint, rows[1].fingerprint)
}
