package store

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paveg/tabula/internal/errors"
)

// AnalysisStatus is the outcome recorded for an analysis.
type AnalysisStatus string

const StatusCompleted AnalysisStatus = "completed"

// Analysis is one recorded chart run against a dataset: the request that
// produced it, the payload it returned and how long it took.
type Analysis struct {
	ID        string          `json:"id"`
	DatasetID string          `json:"dataset_id"`
	Kind      string          `json:"kind"`
	Title     string          `json:"title"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Status    AnalysisStatus  `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// AnalysisFilter pages ListAnalyses. An empty Kind matches every kind; a
// zero Limit means no limit.
type AnalysisFilter struct {
	Kind   string
	Offset int
	Limit  int
}

func analysisNotFound(id string) error {
	return errors.NewNotFoundError("analysis", id)
}

// prepareAnalysis fills the fields CreateAnalysis owns.
func prepareAnalysis(a *Analysis, now time.Time) error {
	if a == nil {
		return fmt.Errorf("create analysis: nil record")
	}
	if strings.TrimSpace(a.DatasetID) == "" {
		return fmt.Errorf("create analysis: dataset id is required")
	}
	if strings.TrimSpace(a.Kind) == "" {
		return fmt.Errorf("create analysis: kind is required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusCompleted
	}
	a.CreatedAt = now
	return nil
}

func cloneAnalysis(a *Analysis) *Analysis {
	out := *a
	out.Params = slices.Clone(a.Params)
	out.Result = slices.Clone(a.Result)
	return &out
}

// rawArg maps an empty document to SQL NULL.
func rawArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
