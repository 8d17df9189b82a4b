package testutil

import (
	"context"
	"testing"

	"github.com/paveg/tabula/internal/chart"
	"github.com/paveg/tabula/internal/profile"
	"github.com/paveg/tabula/internal/query"
	"github.com/paveg/tabula/internal/relation"
	"github.com/stretchr/testify/require"
)

// BuildPlan profiles rel, decodes the JSON parameter bag, validates it
// against the profiled schema and builds the plan.
func BuildPlan(tb testing.TB, rel *relation.Relation, params string) query.Plan {
	tb.Helper()
	ds, err := profile.Profile(context.Background(), rel)
	require.NoError(tb, err)
	req, err := chart.Decode([]byte(params))
	require.NoError(tb, err)
	res, err := chart.Validate(req, ds)
	require.NoError(tb, err)
	plan, err := query.Build(res)
	require.NoError(tb, err)
	return plan
}
