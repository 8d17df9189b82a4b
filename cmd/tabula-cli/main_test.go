package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const salesCSV = "region,units\nnorth,10\nsouth,4\nnorth,6\neast,4\nwest,2\n"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Profile(t *testing.T) {
	path := writeFile(t, "sales.csv", salesCSV)

	code, out, errOut := runCLI(t, "-profile", path)
	require.Equal(t, 0, code, errOut)
	var schema struct {
		RowCount int64 `json:"row_count"`
		Columns  []struct {
			Name         string `json:"name"`
			DeclaredType string `json:"declared_type"`
		} `json:"columns"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.EqualValues(t, 5, schema.RowCount)
	require.Len(t, schema.Columns, 2)
	assert.Equal(t, "numeric", schema.Columns[1].DeclaredType)

	code, out, errOut = runCLI(t, "-profile", path, "-format", "yaml")
	require.Equal(t, 0, code, errOut)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, 5, doc["row_count"])
}

func TestRun_ProfileExport(t *testing.T) {
	path := writeFile(t, "sales.csv", salesCSV)
	out := filepath.Join(t.TempDir(), "sales.parquet")

	code, stdout, errOut := runCLI(t, "-profile", path, "-export", out)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, stdout, `"row_count": 5`)
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	// the export profiles the same as its source
	code, again, errOut := runCLI(t, "-profile", out)
	require.Equal(t, 0, code, errOut)
	assert.JSONEq(t, stdout, again)

	code, chartOut, errOut := runCLI(t, "-chart", out, "-request", `{"chart_type":"pie","category_col":"region","value_col":"units"}`)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, chartOut, `"north"`)
}

func TestRun_Chart(t *testing.T) {
	path := writeFile(t, "sales.csv", salesCSV)
	request := `{"chart_type":"bar","category_col":"region","value_col":"units","top_k":2}`

	for _, engine := range []string{"arrow", "sqlite"} {
		t.Run(engine, func(t *testing.T) {
			code, out, errOut := runCLI(t, "-chart", path, "-request", request, "-engine", engine)
			require.Equal(t, 0, code, errOut)

			var p struct {
				ChartKind  string `json:"chart_kind"`
				SeriesData []struct {
					Points []struct {
						X string  `json:"x"`
						Y float64 `json:"y"`
					} `json:"points"`
				} `json:"series_data"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &p))
			assert.Equal(t, "categorical-comparison", p.ChartKind)
			require.Len(t, p.SeriesData, 1)
			require.Len(t, p.SeriesData[0].Points, 2)
			assert.Equal(t, "north", p.SeriesData[0].Points[0].X)
			assert.Equal(t, 16.0, p.SeriesData[0].Points[0].Y)
		})
	}

	t.Run("request from file", func(t *testing.T) {
		reqPath := writeFile(t, "request.json", `{"chart_type":"histogram","value_col":"units","bins":2}`)
		code, out, errOut := runCLI(t, "-chart", path, "-request", "@"+reqPath)
		require.Equal(t, 0, code, errOut)
		assert.Contains(t, out, `"bin_edges"`)
	})
}

func TestRun_Errors(t *testing.T) {
	path := writeFile(t, "sales.csv", salesCSV)
	tests := []struct {
		name string
		args []string
		code int
		msg  string
	}{
		{"no mode", nil, 2, "Usage:"},
		{"both modes", []string{"-profile", path, "-chart", path}, 2, "Usage:"},
		{"chart without request", []string{"-chart", path}, 2, "-chart needs -request"},
		{"export without profile", []string{"-chart", path, "-request", "{}", "-export", "out.parquet"}, 2, "-export needs -profile"},
		{"bad format", []string{"-profile", path, "-format", "xml"}, 2, `unknown format "xml"`},
		{"unknown flag", []string{"-nope"}, 2, "flag provided but not defined"},
		{"missing file", []string{"-profile", filepath.Join(t.TempDir(), "absent.csv")}, 1, "error:"},
		{"invalid request", []string{"-chart", path, "-request", `{"chart_type":"pie"}`}, 1, "category_col"},
		{"unknown engine", []string{"-chart", path, "-request", `{"chart_type":"pie","category_col":"region"}`, "-engine", "spark"}, 1, "engine.kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCLI(t, tt.args...)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, errOut, tt.msg)
		})
	}
}

func TestRun_Version(t *testing.T) {
	code, out, _ := runCLI(t, "-version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "tabula ")
}
