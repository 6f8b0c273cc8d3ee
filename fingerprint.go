package bitemporal

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spaolacci/murmur3"
)

// nullMarker is the byte sequence hashed in place of a NULL cell. It
// differs from the encoding of any integer, float or boolean cell;
// string cells are hashed as raw bytes with no length prefix, so a
// string holding exactly these bytes encodes the same (OPEN
// QUESTION DECISIONS #2, grounded on
// original_source/src/arrow_hash.rs::hash_array_value_direct's own
// b"NULL" marker).
var nullMarker = []byte("\x00NULL\x00")

// fingerprintHasher accumulates a value-columns fingerprint for one row.
// A fresh hasher is cheap (murmur3.New64 and sha256.New are both small
// stack-friendly allocations); computeFingerprints and AddHashColumn each
// create their own and use it on the calling goroutine, so no locking is
// needed.
type fingerprintHasher struct {
	algo HashAlgorithm
	buf  [8]byte
}

func newFingerprintHasher(algo HashAlgorithm) *fingerprintHasher {
	return &fingerprintHasher{algo: algo}
}

// fingerprint computes the hex-encoded digest of values in column order,
// matching the byte-for-byte encoding original_source/src/arrow_hash.rs
// uses per physical type: integers and floats are hashed as their
// little-endian 8-byte normalized form, booleans as a single byte,
// strings as their raw UTF-8
// bytes, floats that happen to be exact integers still hashed as floats
// rather than collapsed to their integer encoding (see DESIGN.md for
// why this departs from the Rust original's int-collapsing behavior).
func (h *fingerprintHasher) fingerprint(values []scalar) string {
	switch h.algo {
	case HashCrypto256:
		digest := sha256.New()
		for _, v := range values {
			digest.Write(h.encode(v))
		}
		return hex.EncodeToString(digest.Sum(nil))
	default:
		sum := murmur3.New64()
		for _, v := range values {
			sum.Write(h.encode(v))
		}
		return hex.EncodeToString(sum.Sum(nil))
	}
}

// encode renders one scalar into its canonical hash input bytes. Integer
// widths are all normalized to 8 bytes so that, e.g., an Int32 column
// holding 7 and an Int64 column holding 7 would hash identically if ever
// compared (they never are compared across schemas, but the
// normalization keeps the encoding independent of physical width, which
// is what lets a schema's column widen over time without silently
// changing every existing row's fingerprint).
func (h *fingerprintHasher) encode(v scalar) []byte {
	switch v.kind {
	case scalarNull:
		return nullMarker
	case scalarBool:
		if v.b {
			return []byte{1}
		}
		return []byte{0}
	case scalarInt:
		binary.LittleEndian.PutUint64(h.buf[:], uint64(v.i))
		return append([]byte(nil), h.buf[:]...)
	case scalarUint:
		binary.LittleEndian.PutUint64(h.buf[:], v.u)
		return append([]byte(nil), h.buf[:]...)
	case scalarFloat:
		// Raw IEEE-754 bit pattern, no normalization: -0.0 and 0.0
		// hash to different digests here, although Go's == treats them as
		// equal.
		bits := math.Float64bits(v.f)
		binary.LittleEndian.PutUint64(h.buf[:], bits)
		return append([]byte(nil), h.buf[:]...)
	case scalarString:
		return []byte(v.s)
	default:
		return nil
	}
}

// computeFingerprints fills in fingerprint for every row in rows using a
// hasher built for algo. Kept as a free function, not a method on row,
// so a caller that already holds a []row (engine.go's ComputeChanges)
// reuses one hasher across the whole slice.
func computeFingerprints(rows []row, algo HashAlgorithm) {
	h := newFingerprintHasher(algo)
	for i := range rows {
		rows[i].fingerprint = h.fingerprint(rows[i].values)
	}
}

// hashColumnType is the Arrow type AddHashColumn and the engine's own
// output batches use for the fingerprint column: a plain UTF-8 string of
// the hex digest, matching
// original_source/src/arrow_hash.rs::add_hash_column_arrow_direct's
// StringArray output.
var hashColumnType = arrow.BinaryTypes.String
