package bitemporal

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String},
		{Name: "amount", Type: arrow.PrimitiveTypes.Float64},
		{Name: "effective_from", Type: arrow.FixedWidthTypes.Date32},
		{Name: "effective_to", Type: arrow.FixedWidthTypes.Date32},
		{Name: "as_of_from", Type: arrow.FixedWidthTypes.Timestamp_us},
		{Name: "as_of_to", Type: arrow.FixedWidthTypes.Timestamp_us},
	}, nil)
}

func testOpts() *Options {
	o := NewOptions([]string{"id"}, []string{"amount"})
	o.SystemDate = 1000
	return o
}

func TestResolveLayoutFindsEveryColumn(t *testing.T) {
	layout, err := resolveLayout(testSchema(), testOpts())
	require.NoError(t, err)
	assert.Equal(t, []int{0}, layout.idIndex)
	assert.Equal(t, []int{1}, layout.valueIndex)
	assert.Equal(t, 2, layout.effectiveFrom.index)
	assert.Equal(t, -1, layout.hashIndex)
}

func TestResolveLayoutMissingColumnIsSchemaError(t *testing.T) {
	o := NewOptions([]string{"nope"}, []string{"amount"})
	_, err := resolveLayout(testSchema(), o)
	require.Error(t, err)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "nope", se.Column)
}

func TestTemporalRoundTripDate32(t *testing.T) {
	schema := testSchema()
	tf, err := resolveTemporal(schema, "effective_from")
	require.NoError(t, err)

	mem := memory.DefaultAllocator
	b := array.NewDate32Builder(mem)
	defer b.Release()
	b.Append(arrow.Date32(19000))
	arr := b.NewArray()
	defer arr.Release()

	got := readTemporal(arr, 0, tf)
	assert.Equal(t, int64(19000), got)
	assert.Equal(t, arrow.Date32(19000), encodeTemporal(got, tf))
}

func TestTemporalRoundTripTimestampMicros(t *testing.T) {
	schema := testSchema()
	tf, err := resolveTemporal(schema, "as_of_from")
	require.NoError(t, err)

	mem := memory.DefaultAllocator
	b := array.NewTimestampBuilder(mem, arrow.FixedWidthTypes.Timestamp_us.(*arrow.TimestampType))
	defer b.Release()
	b.Append(arrow.Timestamp(123456))
	arr := b.NewArray()
	defer arr.Release()

	got := readTemporal(arr, 0, tf)
	assert.Equal(t, int64(123456), got)
	assert.Equal(t, arrow.Timestamp(123456), encodeTemporal(got, tf))
}

func TestReadScalarHandlesNull(t *testing.T) {
	mem := memory.DefaultAllocator
	b := array.NewFloat64Builder(mem)
	defer b.Release()
	b.AppendNull()
	arr := b.NewArray()
	defer arr.Release()

	s, err := readScalar(arr, 0)
	require.NoError(t, err)
	assert.Equal(t, scalarNull, s.kind)
}

func TestValidateSchemaAlignmentDetectsMismatch(t *testing.T) {
	current := arrow.NewSchema([]arrow.Field{{Name: "amount", Type: arrow.PrimitiveTypes.Float64}}, nil)
	updates := arrow.NewSchema([]arrow.Field{{Name: "amount", Type: arrow.PrimitiveTypes.Int64}}, nil)
	err := validateSchemaAlignment(current, updates)
	require.Error(t, err)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
}

func TestValidateSchemaAlignmentIgnoresColumnsOnlyOnOneSide(t *testing.T) {
	current := arrow.NewSchema([]arrow.Field{{Name: "amount", Type: arrow.PrimitiveTypes.Float64}}, nil)
	updates := arrow.NewSchema([]arrow.Field{{Name: "amount", Type: arrow.PrimitiveTypes.Float64}, {Name: "extra", Type: arrow.BinaryTypes.String}}, nil)
	assert.NoError(t, validateSchemaAlignment(current, updates))
}
