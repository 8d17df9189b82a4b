// Package storetest checks that a store.Store honors the shared contract.
package storetest

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paveg/tabula/internal/coltype"
	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/schema"
	"github.com/paveg/tabula/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

func ptr(v float64) *float64 { return &v }

// Schema builds a two-column schema with rows rows.
func Schema(rows int64) *schema.DatasetSchema {
	return &schema.DatasetSchema{
		RowCount: rows,
		Columns: []schema.ColumnSchema{
			{Name: "region", DeclaredType: coltype.Categorical, NativeType: "utf8", NonNullCount: rows, UniqueCount: min(rows, 4)},
			{
				Name: "units", DeclaredType: coltype.Numeric, NativeType: "int64",
				NonNullCount: rows, UniqueCount: rows,
				Min: ptr(1), Max: ptr(float64(rows)), Mean: ptr(float64(rows+1) / 2),
			},
		},
	}
}

func newDataset(name string, sc *schema.DatasetSchema) *store.Dataset {
	return &store.Dataset{
		Name:             name,
		Description:      "fixture",
		FilePath:         "/tmp/" + name + ".csv",
		OriginalFilename: name + ".csv",
		FileSize:         128,
		FileType:         "csv",
		Schema:           sc,
		Tags:             map[string]string{"team": "sales"},
	}
}

// Run executes the conformance suite against fresh stores from newStore.
func Run(t *testing.T, newStore Factory) {
	open := func(t *testing.T) store.Store {
		t.Helper()
		s := newStore(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		d := newDataset("sales", Schema(6))
		require.NoError(t, s.Create(ctx, d))

		_, err := uuid.Parse(d.ID)
		require.NoError(t, err, "assigned id must be a UUID")
		assert.Equal(t, store.StatusActive, d.Status)
		assert.Equal(t, 1, d.SchemaVersion)
		assert.EqualValues(t, 6, d.RowCount)
		assert.False(t, d.CreatedAt.IsZero())

		got, err := s.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, d.Name, got.Name)
		assert.Equal(t, d.Description, got.Description)
		assert.Equal(t, d.FilePath, got.FilePath)
		assert.Equal(t, d.OriginalFilename, got.OriginalFilename)
		assert.Equal(t, d.FileSize, got.FileSize)
		assert.Equal(t, d.FileType, got.FileType)
		assert.Equal(t, d.Tags, got.Tags)
		assert.Equal(t, d.Schema, got.Schema)
		assert.Equal(t, 1, got.SchemaVersion)
		assert.True(t, d.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", d.CreatedAt, got.CreatedAt)
	})

	t.Run("CreateWithoutSchema", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		d := newDataset("pending", nil)
		require.NoError(t, s.Create(ctx, d))
		assert.Equal(t, 0, d.SchemaVersion)

		sc, version, err := s.GetSchema(ctx, d.ID)
		require.NoError(t, err)
		assert.Nil(t, sc)
		assert.Equal(t, 0, version)
	})

	t.Run("CreateRejectsInvalid", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		assert.Error(t, s.Create(ctx, nil))
		assert.Error(t, s.Create(ctx, &store.Dataset{Name: "  "}))

		d := newDataset("dup", nil)
		d.ID = uuid.NewString()
		require.NoError(t, s.Create(ctx, d))
		again := newDataset("dup", nil)
		again.ID = d.ID
		assert.Error(t, s.Create(ctx, again))

		bad := Schema(6)
		bad.Columns[1].Mean = ptr(math.NaN())
		assert.ErrorContains(t, s.Create(ctx, newDataset("nan", bad)), "finite")
		_, err := s.StoreSchema(ctx, d.ID, bad)
		assert.ErrorContains(t, err, "finite")

		list, err := s.List(ctx, store.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("StoreSchemaBumpsVersion", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		d := newDataset("sales", Schema(6))
		require.NoError(t, s.Create(ctx, d))

		version, err := s.StoreSchema(ctx, d.ID, Schema(10))
		require.NoError(t, err)
		assert.Equal(t, 2, version)

		sc, got, err := s.GetSchema(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got)
		assert.Equal(t, Schema(10), sc)

		rec, err := s.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 10, rec.RowCount)
		assert.False(t, rec.UpdatedAt.Before(rec.CreatedAt))

		_, err = s.StoreSchema(ctx, d.ID, nil)
		assert.Error(t, err)
		_, err = s.StoreSchema(ctx, uuid.NewString(), Schema(1))
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("SoftDelete", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		d := newDataset("gone", Schema(2))
		require.NoError(t, s.Create(ctx, d))
		require.NoError(t, s.SoftDelete(ctx, d.ID))

		_, err := s.Get(ctx, d.ID)
		assert.ErrorIs(t, err, errors.ErrNotFound)
		_, _, err = s.GetSchema(ctx, d.ID)
		assert.ErrorIs(t, err, errors.ErrNotFound)
		_, err = s.StoreSchema(ctx, d.ID, Schema(3))
		assert.ErrorIs(t, err, errors.ErrNotFound)
		assert.ErrorIs(t, s.SoftDelete(ctx, d.ID), errors.ErrNotFound)

		list, err := s.List(ctx, store.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		var ids []string
		for _, name := range []string{"a", "b", "c", "d"} {
			d := newDataset(name, nil)
			require.NoError(t, s.Create(ctx, d))
			ids = append(ids, d.ID)
			time.Sleep(time.Millisecond)
		}
		require.NoError(t, s.SoftDelete(ctx, ids[1]))

		list, err := s.List(ctx, store.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []string{"d", "c", "a"}, names(list))

		page, err := s.List(ctx, store.ListOptions{Offset: 1, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, names(page))

		past, err := s.List(ctx, store.ListOptions{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, past)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		d := newDataset("sales", Schema(6))
		require.NoError(t, s.Create(ctx, d))

		got, err := s.Get(ctx, d.ID)
		require.NoError(t, err)
		got.Name = "changed"
		got.Tags["team"] = "ops"
		got.Schema.Columns[0].Name = "changed"

		again, err := s.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, "sales", again.Name)
		assert.Equal(t, "sales", again.Tags["team"])
		assert.Equal(t, "region", again.Schema.Columns[0].Name)
	})

	t.Run("AnalysisLifecycle", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		d := newDataset("sales", Schema(6))
		require.NoError(t, s.Create(ctx, d))

		a := newAnalysis(d.ID, "chart-1", "categorical-comparison")
		require.NoError(t, s.CreateAnalysis(ctx, a))
		assert.Equal(t, store.StatusCompleted, a.Status)
		assert.False(t, a.CreatedAt.IsZero())

		got, err := s.GetAnalysis(ctx, d.ID, "chart-1")
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		assert.Equal(t, d.ID, got.DatasetID)
		assert.Equal(t, a.Kind, got.Kind)
		assert.Equal(t, a.Title, got.Title)
		assert.JSONEq(t, string(a.Params), string(got.Params))
		assert.JSONEq(t, string(a.Result), string(got.Result))
		assert.Equal(t, a.Duration, got.Duration)
		assert.True(t, a.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", a.CreatedAt, got.CreatedAt)

		assert.Error(t, s.CreateAnalysis(ctx, newAnalysis(d.ID, "chart-1", "proportion")), "duplicate id")

		require.NoError(t, s.DeleteAnalysis(ctx, d.ID, "chart-1"))
		_, err = s.GetAnalysis(ctx, d.ID, "chart-1")
		assert.ErrorIs(t, err, errors.ErrNotFound)
		assert.ErrorIs(t, s.DeleteAnalysis(ctx, d.ID, "chart-1"), errors.ErrNotFound)
	})

	t.Run("AnalysisRejectsInvalid", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		assert.Error(t, s.CreateAnalysis(ctx, nil))

		d := newDataset("sales", nil)
		require.NoError(t, s.Create(ctx, d))
		assert.Error(t, s.CreateAnalysis(ctx, newAnalysis(d.ID, "x", "")), "kind required")
		assert.Error(t, s.CreateAnalysis(ctx, newAnalysis("", "y", "proportion")), "dataset required")
		err := s.CreateAnalysis(ctx, newAnalysis(uuid.NewString(), "z", "proportion"))
		assert.ErrorIs(t, err, errors.ErrNotFound)

		a := newAnalysis(d.ID, "", "proportion")
		require.NoError(t, s.CreateAnalysis(ctx, a))
		assert.NotEmpty(t, a.ID)
	})

	t.Run("ListAnalyses", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		d := newDataset("sales", nil)
		require.NoError(t, s.Create(ctx, d))
		other := newDataset("other", nil)
		require.NoError(t, s.Create(ctx, other))

		kinds := []string{"proportion", "time-series", "proportion", "distribution"}
		for i, kind := range kinds {
			require.NoError(t, s.CreateAnalysis(ctx, newAnalysis(d.ID, fmt.Sprintf("a%d", i), kind)))
			time.Sleep(time.Millisecond)
		}
		require.NoError(t, s.CreateAnalysis(ctx, newAnalysis(other.ID, "elsewhere", "proportion")))

		all, err := s.ListAnalyses(ctx, d.ID, store.AnalysisFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a3", "a2", "a1", "a0"}, analysisIDs(all))

		pies, err := s.ListAnalyses(ctx, d.ID, store.AnalysisFilter{Kind: "proportion"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a2", "a0"}, analysisIDs(pies))

		page, err := s.ListAnalyses(ctx, d.ID, store.AnalysisFilter{Offset: 1, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"a2", "a1"}, analysisIDs(page))

		// another dataset's analysis is invisible here
		_, err = s.GetAnalysis(ctx, d.ID, "elsewhere")
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("AnalysesOfDeletedDataset", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		d := newDataset("gone", nil)
		require.NoError(t, s.Create(ctx, d))
		require.NoError(t, s.CreateAnalysis(ctx, newAnalysis(d.ID, "kept", "proportion")))
		require.NoError(t, s.SoftDelete(ctx, d.ID))

		_, err := s.GetAnalysis(ctx, d.ID, "kept")
		assert.ErrorIs(t, err, errors.ErrNotFound)
		_, err = s.ListAnalyses(ctx, d.ID, store.AnalysisFilter{})
		assert.ErrorIs(t, err, errors.ErrNotFound)
		assert.ErrorIs(t, s.CreateAnalysis(ctx, newAnalysis(d.ID, "late", "proportion")), errors.ErrNotFound)
	})
}

func newAnalysis(datasetID, id, kind string) *store.Analysis {
	return &store.Analysis{
		ID:        id,
		DatasetID: datasetID,
		Kind:      kind,
		Title:     "Units by region",
		Params:    []byte(`{"chart_type":"bar","category_col":"region"}`),
		Result:    []byte(`{"chart_id":"` + id + `","series_data":[]}`),
		Duration:  1500 * time.Microsecond,
	}
}

func analysisIDs(as []*store.Analysis) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.ID
	}
	return out
}

func names(ds []*store.Dataset) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name
	}
	return out
}
