package bitemporal

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// outputSchema returns the schema emitted batches use: the current
// batch's schema, plus a value_hash column if it is not already present.
func outputSchema(current *arrow.Schema, layout *columnLayout, opts *Options) *arrow.Schema {
	if layout.hashIndex >= 0 {
		return current
	}
	fields := append([]arrow.Field(nil), current.Fields()...)
	fields = append(fields, arrow.Field{Name: opts.HashColumn, Type: hashColumnType, Nullable: false})
	return arrow.NewSchema(fields, nil)
}

// buildRowRecord materializes one decoded row as a single-row
// arrow.Record against schema, using layout to place every column
// (identity, value, temporal, hash) back at its resolved position.
func buildRowRecord(r row, schema *arrow.Schema, layout *columnLayout, opts *Options) (arrow.Record, error) {
	mem := memory.DefaultAllocator
	cols := make([]arrow.Array, len(schema.Fields()))

	for i, idx := range layout.idIndex {
		arr, err := scalarArray(mem, schema.Field(idx).Type, r.idValues[i])
		if err != nil {
			return nil, err
		}
		cols[idx] = arr
	}
	for i, idx := range layout.valueIndex {
		arr, err := scalarArray(mem, schema.Field(idx).Type, r.values[i])
		if err != nil {
			return nil, err
		}
		cols[idx] = arr
	}
	cols[layout.effectiveFrom.index] = temporalArray(mem, layout.effectiveFrom, r.effectiveFrom)
	cols[layout.effectiveTo.index] = temporalArray(mem, layout.effectiveTo, r.effectiveTo)
	cols[layout.asOfFrom.index] = temporalArray(mem, layout.asOfFrom, r.asOfFrom)
	cols[layout.asOfTo.index] = temporalArray(mem, layout.asOfTo, r.asOfTo)

	hashIdx := layout.hashIndex
	if hashIdx < 0 {
		hashIdx = fieldIndex(schema, opts.HashColumn)
	}
	if hashIdx >= 0 {
		cols[hashIdx] = stringArray(mem, r.fingerprint)
	}

	for i, c := range cols {
		if c == nil {
			return nil, &InternalError{Where: "buildRowRecord", Reason: "unpopulated column " + schema.Field(i).Name}
		}
	}
	return array.NewRecord(schema, cols, 1), nil
}

func scalarArray(mem memory.Allocator, dt arrow.DataType, s scalar) (arrow.Array, error) {
	bld := array.NewBuilder(mem, dt)
	defer bld.Release()
	if err := appendScalar(bld, s); err != nil {
		return nil, err
	}
	return bld.NewArray(), nil
}

func temporalArray(mem memory.Allocator, tf temporalField, value int64) arrow.Array {
	bld := array.NewBuilder(mem, tf.typ)
	defer bld.Release()
	switch b := bld.(type) {
	case *array.Date32Builder:
		b.Append(encodeTemporal(value, tf).(arrow.Date32))
	case *array.Date64Builder:
		b.Append(encodeTemporal(value, tf).(arrow.Date64))
	case *array.TimestampBuilder:
		b.Append(encodeTemporal(value, tf).(arrow.Timestamp))
	}
	return bld.NewArray()
}

func stringArray(mem memory.Allocator, s string) arrow.Array {
	bld := array.NewStringBuilder(mem)
	defer bld.Release()
	bld.Append(s)
	return bld.NewArray()
}

// ConsolidateRecords packs a sequence of
// small record batches sharing one schema into a smaller number of
// batches of at most targetRows rows each. Already-large batches pass
// through unchanged; schema mismatch between any two input batches is a
// SchemaError, not a panic, since array.Concatenate itself offers no
// useful error message for that case.
func ConsolidateRecords(batches []arrow.Record, targetRows int64) ([]arrow.Record, error) {
	if len(batches) == 0 {
		return nil, nil
	}
	schema := batches[0].Schema()
	for _, b := range batches[1:] {
		if !schema.Equal(b.Schema()) {
			return nil, &SchemaError{Reason: "batches do not share a schema"}
		}
	}

	var out []arrow.Record
	var pending []arrow.Record
	var pendingRows int64

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if len(pending) == 1 {
			out = append(out, pending[0])
			pending = nil
			pendingRows = 0
			return nil
		}
		merged, err := concatRecords(schema, pending)
		if err != nil {
			return err
		}
		out = append(out, merged)
		pending = nil
		pendingRows = 0
		return nil
	}

	for _, b := range batches {
		if b.NumRows() >= targetRows {
			if err := flush(); err != nil {
				return nil, err
			}
			out = append(out, b)
			continue
		}
		if pendingRows+b.NumRows() > targetRows {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		pending = append(pending, b)
		pendingRows += b.NumRows()
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func concatRecords(schema *arrow.Schema, batches []arrow.Record) (arrow.Record, error) {
	numCols := len(schema.Fields())
	cols := make([]arrow.Array, numCols)
	var totalRows int64

	for i := range cols {
		colArrays := make([]arrow.Array, len(batches))
		for j, b := range batches {
			colArrays[j] = b.Column(i)
		}
		merged, err := array.Concatenate(colArrays, memory.DefaultAllocator)
		if err != nil {
			return nil, &SchemaError{Column: schema.Field(i).Name, Reason: err.Error()}
		}
		cols[i] = merged
	}
	for _, b := range batches {
		totalRows += b.NumRows()
	}
	return array.NewRecord(schema, cols, totalRows), nil
}
