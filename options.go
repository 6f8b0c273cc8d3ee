package bitemporal

// UpdateMode selects how the timeline reconciler treats the updates batch.
// See spec §4.5 for the full semantics of each mode.
type UpdateMode uint8

const (
	// ModeDelta treats updates as incremental corrections layered on top
	// of the current active timeline (spec §4.5.a).
	ModeDelta UpdateMode = iota
	// ModeFullState treats updates as the entire desired state for every
	// identity present in them, tombstoning identities that dropped out
	// entirely (spec §4.5.b).
	ModeFullState
)

func (m UpdateMode) String() string {
	switch m {
	case ModeDelta:
		return "delta"
	case ModeFullState:
		return "full_state"
	default:
		return "unknown"
	}
}

// HashAlgorithm selects the fingerprint function used by C2.
type HashAlgorithm uint8

const (
	// HashFast64 is the default: a 64-bit murmur3 digest, hex-encoded.
	// Non-cryptographic, chosen for throughput over large batches.
	HashFast64 HashAlgorithm = iota
	// HashCrypto256 is a SHA-256 digest, hex-encoded, for callers that
	// need collision resistance across untrusted input.
	HashCrypto256
)

func (h HashAlgorithm) String() string {
	switch h {
	case HashFast64:
		return "fast64"
	case HashCrypto256:
		return "crypto256"
	default:
		return "unknown"
	}
}

// defaultSentinel is 2262-04-11, the last day representable by a
// nanosecond-precision pandas/Arrow timestamp, expressed as a day count
// from the Unix epoch. original_source/src/types.rs uses the same
// calendar instant (projected onto each axis's own unit) for both the
// effective and the as-of sentinel.
const defaultSentinel = 106751

// defaultParallelGroupThreshold and defaultParallelRowThreshold are the
// T_groups/T_rows knobs from spec §4.6: below both thresholds the
// scheduler runs identity groups sequentially on the calling goroutine;
// at or above either, it fans out across a worker pool.
const (
	defaultParallelGroupThreshold = 25
	defaultParallelRowThreshold   = 5000
	defaultConsolidationTarget    = 10000
)

// Options configures a single ComputeChanges call. The zero value is not
// directly usable; construct with NewOptions or call applyDefaults before
// use, the way the teacher's lstore.Config/blockManagerConfig structs are
// never used zero-valued either.
type Options struct {
	// IdentityColumns names the columns, taken together, that identify a
	// logical record. Required, non-empty.
	IdentityColumns []string
	// ValueColumns names the columns whose content participates in the
	// value fingerprint. Required, non-empty.
	ValueColumns []string

	// EffectiveFromColumn, EffectiveToColumn, AsOfFromColumn,
	// AsOfToColumn name the four bitemporal interval columns. All four
	// default to the conventional names below when left empty.
	EffectiveFromColumn string
	EffectiveToColumn   string
	AsOfFromColumn      string
	AsOfToColumn        string

	// HashColumn names the fingerprint column, default "value_hash".
	HashColumn string

	// Mode selects delta or full-state reconciliation (spec §4.5).
	Mode UpdateMode
	// HashAlgorithm selects the fingerprint function (spec §4.2).
	HashAlgorithm HashAlgorithm
	// ConflateInputs enables C4, pre-merging same-fingerprint
	// temporally-adjacent update rows within each identity group before
	// reconciliation (spec §4.4).
	ConflateInputs bool
	// IncludeExpiredRecords makes ComputeChanges also materialize the
	// rows being expired as a third output batch, for audit trails
	// (spec §4.9, grounded on original_source/processor.py's
	// get_expired_records).
	IncludeExpiredRecords bool

	// SystemDate is the as-of instant new and re-emitted rows are
	// stamped with, as an int64 in the internal unit (not a time.Time).
	// Required; it is also used as a tombstone's effective_to.
	SystemDate int64

	// Sentinel is the internal-unit value standing in for "open ended"
	// on both the effective and the as-of axis. Defaults to
	// defaultSentinel (see OPEN QUESTION DECISIONS #1).
	Sentinel int64

	// ParallelGroupThreshold and ParallelRowThreshold are T_groups and
	// T_rows from spec §4.6.
	ParallelGroupThreshold int
	ParallelRowThreshold   int
	// ConsolidationTargetRows is the target batch size for C8.
	ConsolidationTargetRows int
}

// NewOptions returns an Options with every default filled in, identity
// and value columns set from the arguments, and SystemDate left at the
// caller's responsibility to set before use.
func NewOptions(identityColumns, valueColumns []string) *Options {
	o := &Options{
		IdentityColumns: identityColumns,
		ValueColumns:    valueColumns,
	}
	o.applyDefaults()
	return o
}

// applyDefaults fills every zero-valued field with its default, mirroring
// the teacher's Config.applyDefaults convention (e.g.
// blockManagerConfig.applyDefaults in block_manager.go).
func (o *Options) applyDefaults() {
	if o.EffectiveFromColumn == "" {
		o.EffectiveFromColumn = "effective_from"
	}
	if o.EffectiveToColumn == "" {
		o.EffectiveToColumn = "effective_to"
	}
	if o.AsOfFromColumn == "" {
		o.AsOfFromColumn = "as_of_from"
	}
	if o.AsOfToColumn == "" {
		o.AsOfToColumn = "as_of_to"
	}
	if o.HashColumn == "" {
		o.HashColumn = "value_hash"
	}
	if o.Sentinel == 0 {
		o.Sentinel = defaultSentinel
	}
	if o.ParallelGroupThreshold == 0 {
		o.ParallelGroupThreshold = defaultParallelGroupThreshold
	}
	if o.ParallelRowThreshold == 0 {
		o.ParallelRowThreshold = defaultParallelRowThreshold
	}
	if o.ConsolidationTargetRows == 0 {
		o.ConsolidationTargetRows = defaultConsolidationTarget
	}
}

// validate checks option values that are not simply "use the default
// when zero" and returns a *ValueError describing the first problem.
func (o *Options) validate() error {
	if len(o.IdentityColumns) == 0 {
		return &ValueError{Option: "IdentityColumns", Value: "<empty>"}
	}
	if len(o.ValueColumns) == 0 {
		return &ValueError{Option: "ValueColumns", Value: "<empty>"}
	}
	if o.Mode != ModeDelta && o.Mode != ModeFullState {
		return &ValueError{Option: "Mode", Value: o.Mode.String()}
	}
	if o.HashAlgorithm != HashFast64 && o.HashAlgorithm != HashCrypto256 {
		return &ValueError{Option: "HashAlgorithm", Value: o.HashAlgorithm.String()}
	}
	if o.SystemDate <= 0 {
		return &ValueError{Option: "SystemDate", Value: "<=0"}
	}
	return nil
}
