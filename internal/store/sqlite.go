package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/paveg/tabula/internal/schema"
	_ "modernc.org/sqlite"
)

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS datasets (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	id                TEXT NOT NULL UNIQUE,
	name              TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	file_path         TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	file_size         INTEGER NOT NULL,
	file_type         TEXT NOT NULL,
	schema_json       TEXT,
	row_count         INTEGER NOT NULL DEFAULT 0,
	schema_version    INTEGER NOT NULL DEFAULT 0,
	tags              TEXT NOT NULL DEFAULT '{}',
	status            TEXT NOT NULL DEFAULT 'active',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS datasets_status_created ON datasets (status, created_at);

CREATE TABLE IF NOT EXISTS analyses (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	dataset_id  TEXT NOT NULL REFERENCES datasets (id),
	kind        TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	params      TEXT,
	result      TEXT,
	duration_ns INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS analyses_dataset_created ON analyses (dataset_id, created_at);
`

const analysisColumns = `id, dataset_id, kind, title, params, result, duration_ns, status, created_at`

const datasetColumns = `id, name, description, file_path, original_filename, file_size, file_type,
	schema_json, row_count, schema_version, tags, status, created_at, updated_at`

// SQLiteStore keeps datasets in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and migrates) the database at dsn, which may be a
// file path or ":memory:".
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// one writer; also keeps a :memory: database alive across calls
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite store %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteMigration); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func (s *SQLiteStore) Create(ctx context.Context, d *Dataset) error {
	if err := prepareCreate(d, now()); err != nil {
		return err
	}
	schemaJSON, err := encodeJSON(d.Schema)
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	tags, err := encodeTags(d.Tags)
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	var schemaArg any
	if d.Schema != nil {
		schemaArg = string(schemaJSON)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO datasets (`+datasetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Description, d.FilePath, d.OriginalFilename, d.FileSize, d.FileType,
		schemaArg, d.RowCount, d.SchemaVersion, string(tags), string(d.Status),
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return errDuplicate(d.ID)
		}
		return fmt.Errorf("create dataset: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDataset(row rowScanner) (*Dataset, error) {
	var (
		d                    Dataset
		schemaJSON           sql.NullString
		tags, status         string
		createdAt, updatedAt string
	)
	err := row.Scan(&d.ID, &d.Name, &d.Description, &d.FilePath, &d.OriginalFilename, &d.FileSize,
		&d.FileType, &schemaJSON, &d.RowCount, &d.SchemaVersion, &tags, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	d.Status = Status(status)
	if d.Schema, err = decodeSchema([]byte(schemaJSON.String)); err != nil {
		return nil, err
	}
	if d.Tags, err = decodeTags([]byte(tags)); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &d, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Dataset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = ? AND status = 'active'`, id)
	d, err := scanSQLiteDataset(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset %s: %w", id, err)
	}
	return d, nil
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*Dataset, error) {
	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+datasetColumns+` FROM datasets
		WHERE status = 'active' ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?`,
		limit, max(opts.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	out := []*Dataset{}
	for rows.Next() {
		d, err := scanSQLiteDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("list datasets: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) StoreSchema(ctx context.Context, id string, sc *schema.DatasetSchema) (int, error) {
	if err := checkSchema(sc); err != nil {
		return 0, err
	}
	schemaJSON, err := encodeJSON(sc)
	if err != nil {
		return 0, fmt.Errorf("store schema: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store schema: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	err = tx.QueryRowContext(ctx, `SELECT schema_version FROM datasets WHERE id = ? AND status = 'active'`, id).Scan(&version)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, notFound(id)
	}
	if err != nil {
		return 0, fmt.Errorf("store schema: %w", err)
	}
	version++
	_, err = tx.ExecContext(ctx, `UPDATE datasets SET schema_json = ?, row_count = ?, schema_version = ?, updated_at = ?
		WHERE id = ?`, string(schemaJSON), sc.RowCount, version, formatTime(now()), id)
	if err != nil {
		return 0, fmt.Errorf("store schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store schema: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) GetSchema(ctx context.Context, id string) (*schema.DatasetSchema, int, error) {
	var (
		schemaJSON sql.NullString
		version    int
	)
	err := s.db.QueryRowContext(ctx, `SELECT schema_json, schema_version FROM datasets WHERE id = ? AND status = 'active'`, id).
		Scan(&schemaJSON, &version)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, 0, notFound(id)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get schema %s: %w", id, err)
	}
	sc, err := decodeSchema([]byte(schemaJSON.String))
	if err != nil {
		return nil, 0, err
	}
	return sc, version, nil
}

func (s *SQLiteStore) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE datasets SET status = 'deleted', updated_at = ? WHERE id = ? AND status = 'active'`,
		formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("delete dataset %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete dataset %s: %w", id, err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQLiteStore) activeDataset(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM datasets WHERE id = ? AND status = 'active'`, id).Scan(&one)
	if stderrors.Is(err, sql.ErrNoRows) {
		return notFound(id)
	}
	if err != nil {
		return fmt.Errorf("get dataset %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) CreateAnalysis(ctx context.Context, a *Analysis) error {
	if err := prepareAnalysis(a, now()); err != nil {
		return err
	}
	if err := s.activeDataset(ctx, a.DatasetID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO analyses (`+analysisColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DatasetID, a.Kind, a.Title, rawArg(a.Params), rawArg(a.Result),
		int64(a.Duration), string(a.Status), formatTime(a.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("create analysis: id %q already exists", a.ID)
		}
		return fmt.Errorf("create analysis: %w", err)
	}
	return nil
}

func scanSQLiteAnalysis(row rowScanner) (*Analysis, error) {
	var (
		a               Analysis
		params, result  sql.NullString
		duration        int64
		status, created string
	)
	err := row.Scan(&a.ID, &a.DatasetID, &a.Kind, &a.Title, &params, &result, &duration, &status, &created)
	if err != nil {
		return nil, err
	}
	if params.Valid {
		a.Params = []byte(params.String)
	}
	if result.Valid {
		a.Result = []byte(result.String)
	}
	a.Duration = time.Duration(duration)
	a.Status = AnalysisStatus(status)
	if a.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, datasetID, id string) (*Analysis, error) {
	if err := s.activeDataset(ctx, datasetID); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE dataset_id = ? AND id = ?`, datasetID, id)
	a, err := scanSQLiteAnalysis(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, analysisNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, datasetID string, f AnalysisFilter) ([]*Analysis, error) {
	if err := s.activeDataset(ctx, datasetID); err != nil {
		return nil, err
	}
	limit := -1
	if f.Limit > 0 {
		limit = f.Limit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+analysisColumns+` FROM analyses
		WHERE dataset_id = ? AND (? = '' OR kind = ?)
		ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?`,
		datasetID, f.Kind, f.Kind, limit, max(f.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	out := []*Analysis{}
	for rows.Next() {
		a, err := scanSQLiteAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("list analyses: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteAnalysis(ctx context.Context, datasetID, id string) error {
	if err := s.activeDataset(ctx, datasetID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE dataset_id = ? AND id = ?`, datasetID, id)
	if err != nil {
		return fmt.Errorf("delete analysis %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete analysis %s: %w", id, err)
	}
	if n == 0 {
		return analysisNotFound(id)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
