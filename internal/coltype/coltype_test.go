package coltype_test

import (
	"encoding/json"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paveg/tabula/internal/coltype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		dt       arrow.DataType
		expected coltype.Category
	}{
		{"int64", arrow.PrimitiveTypes.Int64, coltype.Numeric},
		{"uint8", arrow.PrimitiveTypes.Uint8, coltype.Numeric},
		{"float32", arrow.PrimitiveTypes.Float32, coltype.Numeric},
		{"decimal", &arrow.Decimal128Type{Precision: 10, Scale: 2}, coltype.Numeric},
		{"string", arrow.BinaryTypes.String, coltype.Categorical},
		{"large string", arrow.BinaryTypes.LargeString, coltype.Categorical},
		{"bool", arrow.FixedWidthTypes.Boolean, coltype.Boolean},
		{"timestamp", &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, coltype.Temporal},
		{"date32", arrow.FixedWidthTypes.Date32, coltype.Temporal},
		{"null", arrow.Null, coltype.Unknown},
		{"binary", arrow.BinaryTypes.Binary, coltype.Unknown},
		{"list", arrow.ListOf(arrow.PrimitiveTypes.Int64), coltype.Unknown},
		{"nil", nil, coltype.Unknown},
		{
			"dictionary of strings",
			&arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int32, ValueType: arrow.BinaryTypes.String},
			coltype.Categorical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, coltype.Classify(tt.dt))
		})
	}
}

func TestNewClassifier_Overrides(t *testing.T) {
	c := coltype.NewClassifier(map[arrow.Type]coltype.Category{
		arrow.BINARY: coltype.Categorical,
		arrow.BOOL:   coltype.Categorical,
	})

	assert.Equal(t, coltype.Categorical, c.Classify(arrow.BinaryTypes.Binary))
	assert.Equal(t, coltype.Categorical, c.Classify(arrow.FixedWidthTypes.Boolean))
	assert.Equal(t, coltype.Numeric, c.Classify(arrow.PrimitiveTypes.Int32))

	// overrides never leak into the default table
	assert.Equal(t, coltype.Unknown, coltype.Classify(arrow.BinaryTypes.Binary))
}

func TestCategory_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]coltype.Category{"a": coltype.Temporal})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"temporal"}`, string(data))

	var c coltype.Category
	require.NoError(t, json.Unmarshal([]byte(`"boolean"`), &c))
	assert.Equal(t, coltype.Boolean, c)

	assert.Error(t, json.Unmarshal([]byte(`"vector"`), &c))
	assert.Equal(t, "unknown", coltype.Category(99).String())
}
