package validation_test

import (
	stderrors "errors"
	"testing"

	"github.com/paveg/tabula/internal/coltype"
	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/schema"
	"github.com/paveg/tabula/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *schema.DatasetSchema {
	return &schema.DatasetSchema{
		RowCount: 3,
		Columns: []schema.ColumnSchema{
			{Name: "id", DeclaredType: coltype.Numeric, NonNullCount: 3},
			{Name: "name", DeclaredType: coltype.Categorical, NonNullCount: 3},
		},
	}
}

func fieldCodes(t *testing.T, err error) map[string]string {
	t.Helper()
	var verr *errors.ValidationError
	require.True(t, stderrors.As(err, &verr))
	codes := map[string]string{}
	for _, f := range verr.Fields {
		codes[f.Field] = f.Code
	}
	return codes
}

func TestColumnValidator(t *testing.T) {
	ds := testSchema()

	t.Run("valid column", func(t *testing.T) {
		v := validation.NewColumnValidator(ds, "value_col", "id", coltype.Numeric)
		require.NoError(t, validation.NewCompoundValidator("chart", v).Validate())
		col, idx, ok := v.Resolved()
		assert.True(t, ok)
		assert.Equal(t, 0, idx)
		assert.Equal(t, "id", col.Name)
	})

	t.Run("missing column", func(t *testing.T) {
		v := validation.NewColumnValidator(ds, "value_col", "age")
		err := validation.NewCompoundValidator("chart", v).Validate()
		assert.Equal(t, map[string]string{"value_col": errors.CodeNotFound}, fieldCodes(t, err))
		_, _, ok := v.Resolved()
		assert.False(t, ok)
	})

	t.Run("wrong category", func(t *testing.T) {
		v := validation.NewColumnValidator(ds, "value_col", "name", coltype.Numeric)
		err := validation.NewCompoundValidator("chart", v).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `column "name" is categorical, expected numeric`)
	})
}

func TestRangeValidator(t *testing.T) {
	tests := []struct {
		name    string
		value   int
		wantErr bool
	}{
		{"below minimum", 0, true},
		{"at minimum", 1, false},
		{"at maximum", 10, false},
		{"above maximum", 11, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validation.NewCompoundValidator("chart", validation.NewRangeValidator("top_k", tt.value, 1, 10)).Validate()
			if tt.wantErr {
				assert.Equal(t, map[string]string{"top_k": errors.CodeOutOfRange}, fieldCodes(t, err))
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("zero max is unbounded", func(t *testing.T) {
		err := validation.NewCompoundValidator("chart", validation.NewRangeValidator("bins", 1000, 2, 0)).Validate()
		assert.NoError(t, err)
	})
}

func TestCompoundValidator_CollectsAll(t *testing.T) {
	ds := testSchema()
	cv := validation.NewCompoundValidator("chart",
		validation.NewRequiredValidator("category_col", ""),
		validation.NewColumnValidator(ds, "value_col", "missing"),
		validation.NewRangeValidator("top_k", -1, 1, 0),
	)
	cv.Add(validation.NewCheck("freq", errors.CodeInvalid, false, "unknown granularity"))
	cv.Add(validation.NewCheck("bins", errors.CodeInvalid, true, "never reported"))

	err := cv.Validate()
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrValidation))
	assert.Equal(t, map[string]string{
		"category_col": errors.CodeRequired,
		"value_col":    errors.CodeNotFound,
		"top_k":        errors.CodeOutOfRange,
		"freq":         errors.CodeInvalid,
	}, fieldCodes(t, err))
}

func TestValidateColumns(t *testing.T) {
	err := validation.ValidateColumns(testSchema(), "chart", map[string]string{
		"b": "nope",
		"a": "id",
	})
	require.Error(t, err)
	var verr *errors.ValidationError
	require.True(t, stderrors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "b", verr.Fields[0].Field)
}
