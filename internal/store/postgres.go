package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/schema"
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS datasets (
	seq               BIGSERIAL PRIMARY KEY,
	id                UUID NOT NULL UNIQUE,
	name              TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	file_path         TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	file_size         BIGINT NOT NULL,
	file_type         TEXT NOT NULL,
	schema_json       JSONB,
	row_count         BIGINT NOT NULL DEFAULT 0,
	schema_version    INTEGER NOT NULL DEFAULT 0,
	tags              JSONB NOT NULL DEFAULT '{}'::jsonb,
	status            TEXT NOT NULL DEFAULT 'active',
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS datasets_status_created ON datasets (status, created_at DESC);

CREATE TABLE IF NOT EXISTS analyses (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	dataset_id  UUID NOT NULL REFERENCES datasets (id),
	kind        TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	params      JSON,
	result      JSON,
	duration_ns BIGINT NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS analyses_dataset_created ON analyses (dataset_id, created_at DESC);
`

const uniqueViolation = "23505"

// PostgresStore keeps datasets in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewPostgresStore connects, pings and migrates.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresMigration); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// parseID parses a row key; anything that is not a UUID cannot exist.
func parseID(id string) (uuid.UUID, bool) {
	u, err := uuid.Parse(id)
	return u, err == nil
}

func (s *PostgresStore) Create(ctx context.Context, d *Dataset) error {
	if err := prepareCreate(d, now()); err != nil {
		return err
	}
	key, ok := parseID(d.ID)
	if !ok {
		return fmt.Errorf("create dataset: id %q is not a UUID", d.ID)
	}
	schemaJSON, err := encodeJSON(d.Schema)
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	tags, err := encodeTags(d.Tags)
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO datasets (`+datasetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		key, d.Name, d.Description, d.FilePath, d.OriginalFilename, d.FileSize, d.FileType,
		schemaJSON, d.RowCount, d.SchemaVersion, tags, string(d.Status), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return errDuplicate(d.ID)
		}
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	return nil
}

func scanPostgresDataset(row pgx.Row) (*Dataset, error) {
	var (
		d                Dataset
		id               uuid.UUID
		schemaJSON, tags []byte
		status           string
	)
	err := row.Scan(&id, &d.Name, &d.Description, &d.FilePath, &d.OriginalFilename, &d.FileSize,
		&d.FileType, &schemaJSON, &d.RowCount, &d.SchemaVersion, &tags, &status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.ID = id.String()
	d.Status = Status(status)
	d.CreatedAt, d.UpdatedAt = d.CreatedAt.UTC(), d.UpdatedAt.UTC()
	if d.Schema, err = decodeSchema(schemaJSON); err != nil {
		return nil, err
	}
	if d.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Dataset, error) {
	key, ok := parseID(id)
	if !ok {
		return nil, notFound(id)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = $1 AND status = 'active'`, key)
	d, err := scanPostgresDataset(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*Dataset, error) {
	var limit any
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	rows, err := s.pool.Query(ctx, `SELECT `+datasetColumns+` FROM datasets
		WHERE status = 'active' ORDER BY created_at DESC, seq DESC LIMIT $1 OFFSET $2`,
		limit, max(opts.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	out := []*Dataset{}
	for rows.Next() {
		d, err := scanPostgresDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) StoreSchema(ctx context.Context, id string, sc *schema.DatasetSchema) (int, error) {
	if err := checkSchema(sc); err != nil {
		return 0, err
	}
	key, ok := parseID(id)
	if !ok {
		return 0, notFound(id)
	}
	schemaJSON, err := encodeJSON(sc)
	if err != nil {
		return 0, fmt.Errorf("store schema: %w", err)
	}

	var version int
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT schema_version FROM datasets WHERE id = $1 AND status = 'active' FOR UPDATE`, key).
			Scan(&version)
		if stderrors.Is(err, pgx.ErrNoRows) {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		version++
		_, err = tx.Exec(ctx, `UPDATE datasets SET schema_json = $1, row_count = $2, schema_version = $3, updated_at = $4
			WHERE id = $5`, schemaJSON, sc.RowCount, version, now(), key)
		return err
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to store schema: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) GetSchema(ctx context.Context, id string) (*schema.DatasetSchema, int, error) {
	key, ok := parseID(id)
	if !ok {
		return nil, 0, notFound(id)
	}
	var (
		schemaJSON []byte
		version    int
	)
	err := s.pool.QueryRow(ctx, `SELECT schema_json, schema_version FROM datasets WHERE id = $1 AND status = 'active'`, key).
		Scan(&schemaJSON, &version)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, 0, notFound(id)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get schema: %w", err)
	}
	sc, err := decodeSchema(schemaJSON)
	if err != nil {
		return nil, 0, err
	}
	return sc, version, nil
}

func (s *PostgresStore) SoftDelete(ctx context.Context, id string) error {
	key, ok := parseID(id)
	if !ok {
		return notFound(id)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE datasets SET status = 'deleted', updated_at = $1 WHERE id = $2 AND status = 'active'`,
		now(), key)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (s *PostgresStore) activeDataset(ctx context.Context, id string) (uuid.UUID, error) {
	key, ok := parseID(id)
	if !ok {
		return uuid.Nil, notFound(id)
	}
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM datasets WHERE id = $1 AND status = 'active'`, key).Scan(&one)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, notFound(id)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return key, nil
}

func (s *PostgresStore) CreateAnalysis(ctx context.Context, a *Analysis) error {
	if err := prepareAnalysis(a, now()); err != nil {
		return err
	}
	key, err := s.activeDataset(ctx, a.DatasetID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO analyses (`+analysisColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, key, a.Kind, a.Title, []byte(a.Params), []byte(a.Result),
		int64(a.Duration), string(a.Status), a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create analysis: id %q already exists", a.ID)
		}
		return fmt.Errorf("failed to create analysis: %w", err)
	}
	return nil
}

func scanPostgresAnalysis(row pgx.Row) (*Analysis, error) {
	var (
		a              Analysis
		datasetID      uuid.UUID
		params, result []byte
		duration       int64
		status         string
	)
	err := row.Scan(&a.ID, &datasetID, &a.Kind, &a.Title, &params, &result, &duration, &status, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.DatasetID = datasetID.String()
	a.Params, a.Result = params, result
	a.Duration = time.Duration(duration)
	a.Status = AnalysisStatus(status)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, datasetID, id string) (*Analysis, error) {
	key, err := s.activeDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE dataset_id = $1 AND id = $2`, key, id)
	a, err := scanPostgresAnalysis(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, analysisNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, datasetID string, f AnalysisFilter) ([]*Analysis, error) {
	key, err := s.activeDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	var limit any
	if f.Limit > 0 {
		limit = f.Limit
	}
	rows, err := s.pool.Query(ctx, `SELECT `+analysisColumns+` FROM analyses
		WHERE dataset_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY created_at DESC, seq DESC LIMIT $3 OFFSET $4`,
		key, f.Kind, limit, max(f.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	out := []*Analysis{}
	for rows.Next() {
		a, err := scanPostgresAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteAnalysis(ctx context.Context, datasetID, id string) error {
	key, err := s.activeDataset(ctx, datasetID)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM analyses WHERE dataset_id = $1 AND id = $2`, key, id)
	if err != nil {
		return fmt.Errorf("failed to delete analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return analysisNotFound(id)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
