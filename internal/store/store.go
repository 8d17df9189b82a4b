// Package store persists dataset records and their schemas.
//
// Three Store implementations share one contract, checked by the storetest
// conformance suite:
//   - MemoryStore for tests and single-process use
//   - SQLiteStore on modernc.org/sqlite through database/sql
//   - PostgresStore on a pgx connection pool
//
// Uploaded files are kept apart from records behind the Files interface.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/schema"
)

// Status is the lifecycle state of a dataset: active → deleted.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Dataset is one ingested file and its current schema.
type Dataset struct {
	ID               string                `json:"id"`
	Name             string                `json:"name"`
	Description      string                `json:"description,omitempty"`
	FilePath         string                `json:"file_path"`
	OriginalFilename string                `json:"original_filename"`
	FileSize         int64                 `json:"file_size"`
	FileType         string                `json:"file_type"`
	Schema           *schema.DatasetSchema `json:"schema,omitempty"`
	RowCount         int64                 `json:"row_count"`
	SchemaVersion    int                   `json:"schema_version"`
	Tags             map[string]string     `json:"tags,omitempty"`
	Status           Status                `json:"status"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// ListOptions pages List results. A zero Limit means no limit.
type ListOptions struct {
	Offset int
	Limit  int
}

// Store persists datasets.
type Store interface {
	// Create inserts d as active. It assigns ID when empty, sets the
	// timestamps, and sets SchemaVersion to 1 when d carries a schema.
	Create(ctx context.Context, d *Dataset) error
	// Get returns an active dataset or a NotFoundError.
	Get(ctx context.Context, id string) (*Dataset, error)
	// List returns active datasets, newest first.
	List(ctx context.Context, opts ListOptions) ([]*Dataset, error)
	// StoreSchema replaces the schema and row count atomically and returns
	// the new schema version.
	StoreSchema(ctx context.Context, id string, s *schema.DatasetSchema) (int, error)
	// GetSchema returns the current schema and its version.
	GetSchema(ctx context.Context, id string) (*schema.DatasetSchema, int, error)
	// SoftDelete marks a dataset deleted; later reads report not found.
	SoftDelete(ctx context.Context, id string) error

	// CreateAnalysis records a run against an active dataset. It assigns
	// ID when empty and sets CreatedAt.
	CreateAnalysis(ctx context.Context, a *Analysis) error
	// GetAnalysis returns an analysis of an active dataset.
	GetAnalysis(ctx context.Context, datasetID, id string) (*Analysis, error)
	// ListAnalyses returns the analyses of an active dataset, newest first.
	ListAnalyses(ctx context.Context, datasetID string, f AnalysisFilter) ([]*Analysis, error)
	// DeleteAnalysis removes an analysis for good.
	DeleteAnalysis(ctx context.Context, datasetID, id string) error

	Close() error
}

func errDuplicate(id string) error {
	return fmt.Errorf("create dataset: id %q already exists", id)
}

func checkSchema(s *schema.DatasetSchema) error {
	if s == nil {
		return fmt.Errorf("store schema: nil schema")
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("store schema: %w", err)
	}
	return nil
}

func notFound(id string) error {
	return errors.NewNotFoundError("dataset", id)
}

// prepareCreate fills the fields Create owns.
func prepareCreate(d *Dataset, now time.Time) error {
	if d == nil {
		return fmt.Errorf("create dataset: nil record")
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("create dataset: name is required")
	}
	if d.Schema != nil {
		if err := d.Schema.Validate(); err != nil {
			return fmt.Errorf("create dataset: %w", err)
		}
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.Status = StatusActive
	d.CreatedAt, d.UpdatedAt = now, now
	d.SchemaVersion = 0
	if d.Schema != nil {
		d.SchemaVersion = 1
		d.RowCount = d.Schema.RowCount
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func encodeJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeSchema(data []byte) (*schema.DatasetSchema, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var s schema.DatasetSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return &s, nil
}

func decodeTags(data []byte) (map[string]string, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var tags map[string]string
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return tags, nil
}

func encodeTags(tags map[string]string) ([]byte, error) {
	if len(tags) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(tags)
}

// cloneDataset deep-copies d so callers never share state.
func cloneDataset(d *Dataset) *Dataset {
	out := *d
	out.Schema = d.Schema.Clone()
	if len(d.Tags) > 0 {
		out.Tags = maps.Clone(d.Tags)
	} else {
		out.Tags = nil
	}
	return &out
}
