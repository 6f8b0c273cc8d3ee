package bitemporal

import (
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/esdb/bitemporal/ref"
	"github.com/v2pro/plz/countlog"
)

// ChangeSet is the result of one ComputeChanges call: the row indices in
// the original current batch to expire, the new rows to insert (already
// consolidated into a small number of Arrow batches), and, optionally,
// a materialized audit view of the rows being expired.
type ChangeSet struct {
	ToExpire       []int
	ToInsert       []arrow.Record
	ExpiredRecords []arrow.Record
}

// Engine holds the layout cache across repeated ComputeChanges calls, so
// a long-lived caller processing many batches against the same schema
// pays the column-resolution cost once. A zero-value *Engine is not
// usable; use NewEngine.
type Engine struct {
	layouts *layoutCache
}

// NewEngine constructs an Engine with a layout cache sized for a modest
// number of distinct schema shapes; callers that process only ever one
// schema shape still benefit from the cache after its first call.
func NewEngine() *Engine {
	return &Engine{layouts: newLayoutCache(64)}
}

// ComputeChanges runs C1 through C9 over current and updates and returns
// the resulting ChangeSet. current and updates must conform to the same
// identity/value/temporal column contract described by opts; opts is
// mutated in place by applyDefaults on the caller's behalf.
func (e *Engine) ComputeChanges(current, updates arrow.Record, opts *Options) (*ChangeSet, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	countlog.Trace("event!engine.compute changes start",
		"currentRows", current.NumRows(), "updateRows", updates.NumRows(), "mode", opts.Mode.String())

	if err := validateSchemaAlignment(current.Schema(), updates.Schema()); err != nil {
		return nil, err
	}

	// current and updates are shared, immutable inputs: a caller may hold
	// the same current snapshot across several concurrent ComputeChanges
	// calls (e.g. fanning many update batches out against one reference
	// table), so each call acquires its own reference for the duration
	// of the decode and releases it once done reading columns.
	currentHandle := ref.NewRecordHandle("current", current)
	defer currentHandle.Release()
	updatesHandle := ref.NewRecordHandle("updates", updates)
	defer updatesHandle.Release()

	currentLayout, err := e.layouts.resolve(current.Schema(), opts)
	if err != nil {
		return nil, err
	}
	updatesLayout, err := e.layouts.resolve(updates.Schema(), opts)
	if err != nil {
		return nil, err
	}

	if !currentHandle.Acquire() {
		return nil, &InternalError{Where: "ComputeChanges", Reason: "current record released mid-call"}
	}
	currentRows, err := decodeRows(currentHandle.Record(), currentLayout, sideCurrent, opts)
	currentHandle.Release()
	if err != nil {
		return nil, err
	}
	if !updatesHandle.Acquire() {
		return nil, &InternalError{Where: "ComputeChanges", Reason: "updates record released mid-call"}
	}
	updateRows, err := decodeRows(updatesHandle.Record(), updatesLayout, sideUpdate, opts)
	updatesHandle.Release()
	if err != nil {
		return nil, err
	}

	if currentLayout.hashIndex < 0 {
		computeFingerprints(currentRows, opts.HashAlgorithm)
	}
	if updatesLayout.hashIndex < 0 {
		computeFingerprints(updateRows, opts.HashAlgorithm)
	}

	if err := validateCurrentInvariants(currentRows, opts); err != nil {
		return nil, err
	}

	groups := groupRows(currentRows, updateRows)
	if opts.ConflateInputs {
		for _, g := range groups {
			g.updates = conflateGroupUpdates(g.updates)
		}
	}
	keys := orderedKeys(groups)

	outcomes, err := dispatchGroups(groups, keys, opts)
	if err != nil {
		return nil, err
	}

	var expireIdx []int
	var inserts []row
	for _, o := range outcomes {
		expireIdx = append(expireIdx, o.expireIndex...)
		inserts = append(inserts, o.inserts...)
	}
	sort.Ints(expireIdx)

	inserts = postProcess(inserts)

	outSchema := outputSchema(current.Schema(), currentLayout, opts)
	insertBatches, err := materializeRows(inserts, outSchema, currentLayout, opts)
	if err != nil {
		return nil, err
	}
	consolidated, err := ConsolidateRecords(insertBatches, int64(opts.ConsolidationTargetRows))
	if err != nil {
		return nil, err
	}

	result := &ChangeSet{ToExpire: expireIdx, ToInsert: consolidated}

	if opts.IncludeExpiredRecords {
		expiredRows := make([]row, 0, len(expireIdx))
		bySource := make(map[int]row, len(currentRows))
		for _, r := range currentRows {
			bySource[r.sourceIndex] = r
		}
		for _, idx := range expireIdx {
			expiredRows = append(expiredRows, bySource[idx])
		}
		expiredBatches, err := materializeRows(expiredRows, current.Schema(), currentLayout, opts)
		if err != nil {
			return nil, err
		}
		result.ExpiredRecords, err = ConsolidateRecords(expiredBatches, int64(opts.ConsolidationTargetRows))
		if err != nil {
			return nil, err
		}
	}

	countlog.Trace("event!engine.compute changes done",
		"toExpire", len(result.ToExpire), "toInsert", len(inserts))
	return result, nil
}

func materializeRows(rows []row, schema *arrow.Schema, layout *columnLayout, opts *Options) ([]arrow.Record, error) {
	batches := make([]arrow.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := buildRowRecord(r, schema, layout, opts)
		if err != nil {
			return nil, err
		}
		batches = append(batches, rec)
	}
	return batches, nil
}

// decodeRows reads every row of record into the internal row
// representation, reusing an existing hash column verbatim when layout
// says one is present (C2's idempotence contract) and otherwise leaving
// fingerprint blank for computeFingerprints to fill in afterward.
func decodeRows(record arrow.Record, layout *columnLayout, side rowSide, opts *Options) ([]row, error) {
	n := int(record.NumRows())
	rows := make([]row, n)

	idCols := make([]arrow.Array, len(layout.idIndex))
	for i, idx := range layout.idIndex {
		idCols[i] = record.Column(idx)
	}
	valueCols := make([]arrow.Array, len(layout.valueIndex))
	for i, idx := range layout.valueIndex {
		valueCols[i] = record.Column(idx)
	}
	effFromCol := record.Column(layout.effectiveFrom.index)
	effToCol := record.Column(layout.effectiveTo.index)
	asOfFromCol := record.Column(layout.asOfFrom.index)
	asOfToCol := record.Column(layout.asOfTo.index)

	var hashCol arrow.Array
	if layout.hashIndex >= 0 {
		hashCol = record.Column(layout.hashIndex)
	}

	kb := &keyBuilder{}
	for i := 0; i < n; i++ {
		idValues := make([]scalar, len(idCols))
		for c, col := range idCols {
			v, err := readScalar(col, i)
			if err != nil {
				return nil, err
			}
			idValues[c] = v
		}
		values := make([]scalar, len(valueCols))
		for c, col := range valueCols {
			v, err := readScalar(col, i)
			if err != nil {
				return nil, err
			}
			values[c] = v
		}

		r := row{
			idValues:      idValues,
			idKey:         kb.build(idValues),
			values:        values,
			effectiveFrom: readTemporal(effFromCol, i, layout.effectiveFrom),
			effectiveTo:   readTemporal(effToCol, i, layout.effectiveTo),
			asOfFrom:      readTemporal(asOfFromCol, i, layout.asOfFrom),
			asOfTo:        readTemporal(asOfToCol, i, layout.asOfTo),
			side:          side,
			sourceIndex:   i,
			inputOrder:    i,
		}
		if hashCol != nil && !hashCol.IsNull(i) {
			if s, ok := hashCol.(interface{ Value(int) string }); ok {
				r.fingerprint = s.Value(i)
			}
		}
		rows[i] = r
	}
	return rows, nil
}

// validateCurrentInvariants checks spec §3's invariant 2: among the
// active rows (as_of_to == sentinel) of a single identity, effective
// intervals must not overlap.
func validateCurrentInvariants(currentRows []row, opts *Options) error {
	byIdentity := make(map[string][]row)
	for _, r := range currentRows {
		if r.effectiveFrom >= r.effectiveTo {
			return &InvariantError{IdentityKey: r.idKey, RowIndex: r.sourceIndex, Reason: "effective_from must precede effective_to"}
		}
		if r.asOfFrom >= r.asOfTo {
			return &InvariantError{IdentityKey: r.idKey, RowIndex: r.sourceIndex, Reason: "as_of_from must precede as_of_to"}
		}
		if r.active(opts.Sentinel) {
			byIdentity[r.idKey] = append(byIdentity[r.idKey], r)
		}
	}
	for id, rows := range byIdentity {
		sort.Slice(rows, func(i, j int) bool { return rows[i].effectiveFrom < rows[j].effectiveFrom })
		for i := 1; i < len(rows); i++ {
			if intersects(rows[i-1], rows[i]) {
				return &InvariantError{IdentityKey: id, RowIndex: rows[i].sourceIndex, Reason: "overlapping active effective intervals for the same identity"}
			}
		}
	}
	return nil
}

// AddHashColumn appends (or replaces) a value_hash column on record
// using opts' fingerprint algorithm over opts.ValueColumns, without
// running the rest of the engine and without requiring record to carry
// identity or temporal columns. Grounded on SPEC_FULL.md supplemented
// feature 1 / original_source/src/batch_utils.rs::add_hash_column:
// callers that call ComputeChanges repeatedly against a slowly-changing
// current batch can precompute and cache its fingerprints once here.
func AddHashColumn(record arrow.Record, opts *Options) (arrow.Record, error) {
	opts.applyDefaults()
	valueIndex, err := resolveColumns(record.Schema(), opts.ValueColumns)
	if err != nil {
		return nil, err
	}

	n := int(record.NumRows())
	if n == 0 {
		return nil, &ValueError{Option: "record", Value: "empty"}
	}
	valueCols := make([]arrow.Array, len(valueIndex))
	for i, idx := range valueIndex {
		valueCols[i] = record.Column(idx)
	}

	h := newFingerprintHasher(opts.HashAlgorithm)
	mem := memory.DefaultAllocator
	hashBuilder := array.NewStringBuilder(mem)
	defer hashBuilder.Release()

	for i := 0; i < n; i++ {
		values := make([]scalar, len(valueCols))
		for c, col := range valueCols {
			v, err := readScalar(col, i)
			if err != nil {
				return nil, err
			}
			values[c] = v
		}
		hashBuilder.Append(h.fingerprint(values))
	}
	hashArray := hashBuilder.NewArray()

	fields := record.Schema().Fields()
	hashIdx := fieldIndex(record.Schema(), opts.HashColumn)
	cols := make([]arrow.Array, len(fields))
	copy(cols, columnsOf(record))
	if hashIdx >= 0 {
		cols[hashIdx] = hashArray
		return array.NewRecord(record.Schema(), cols, record.NumRows()), nil
	}

	newFields := append(append([]arrow.Field(nil), fields...), arrow.Field{Name: opts.HashColumn, Type: hashColumnType, Nullable: false})
	newSchema := arrow.NewSchema(newFields, nil)
	cols = append(cols, hashArray)
	return array.NewRecord(newSchema, cols, record.NumRows()), nil
}

func columnsOf(record arrow.Record) []arrow.Array {
	cols := make([]arrow.Array, record.NumCols())
	for i := range cols {
		cols[i] = record.Column(i)
	}
	return cols
}
