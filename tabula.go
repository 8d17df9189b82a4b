// Package tabula ingests tabular files, profiles their schema and answers
// chart requests against them.
//
// A Service ties together the pipeline stages:
//   - io loaders turn uploaded bytes into an Arrow-backed relation
//   - profile computes the dataset schema in one pass
//   - chart validates declarative requests against that schema
//   - query builds an executable plan, run by an engine.Engine
//   - payload shapes engine results into chart payloads
//
// Dataset records persist through a store.Store and file bytes through a
// store.Files; both are supplied by the caller or built by Open.
package tabula

import (
	"context"
	"fmt"
	goio "io"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/paveg/tabula/internal/cache"
	"github.com/paveg/tabula/internal/chart"
	"github.com/paveg/tabula/internal/config"
	"github.com/paveg/tabula/internal/engine"
	"github.com/paveg/tabula/internal/engine/sqlengine"
	"github.com/paveg/tabula/internal/io"
	"github.com/paveg/tabula/internal/logging"
	"github.com/paveg/tabula/internal/monitoring"
	"github.com/paveg/tabula/internal/payload"
	"github.com/paveg/tabula/internal/profile"
	"github.com/paveg/tabula/internal/relation"
	"github.com/paveg/tabula/internal/schema"
	"github.com/paveg/tabula/internal/store"
)

// Public names for the types a caller handles.
type (
	Dataset       = store.Dataset
	ListOptions   = store.ListOptions
	Analysis      = store.Analysis
	DatasetSchema = schema.DatasetSchema
	ChartRequest  = chart.Request
	ChartPayload  = payload.ChartPayload
	Config        = config.Config
)

// Operation names recorded by the metrics collector.
const (
	OpIngest  = "ingest"
	OpRefresh = "refresh"
	OpChart   = "chart"
	OpProfile = "profile"
	OpExport  = "export"
)

// Service runs ingestion and chart requests.
type Service struct {
	cfg       Config
	store     store.Store
	files     store.Files
	validator *chart.Validator
	profiler  *profile.Profiler
	assembler *payload.Assembler
	payloads  *cache.LRU[cachedPayload]
	metrics   *monitoring.MetricsCollector
	logger    *zap.Logger
	allocator memory.Allocator
	engine    engine.Engine
	idGen     func() string
}

type cachedPayload struct {
	datasetID string
	payload   *ChartPayload
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger (default: no-op).
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithEngine replaces the engine chosen by the configuration.
func WithEngine(eng engine.Engine) Option {
	return func(s *Service) { s.engine = eng }
}

// WithMetrics replaces the collector built from the configuration.
func WithMetrics(mc *monitoring.MetricsCollector) Option {
	return func(s *Service) { s.metrics = mc }
}

// WithAllocator sets the allocator backing loaded relations.
func WithAllocator(mem memory.Allocator) Option {
	return func(s *Service) { s.allocator = mem }
}

// WithChartIDs replaces the random chart id source.
func WithChartIDs(gen func() string) Option {
	return func(s *Service) { s.idGen = gen }
}

// NewEngine returns the engine registered under kind.
func NewEngine(kind string) (engine.Engine, error) {
	switch kind {
	case "", config.EngineArrow:
		return engine.NewArrowEngine(), nil
	case config.EngineSQLite:
		return sqlengine.New(), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", kind)
	}
}

// New creates a service over st and files.
func New(cfg Config, st store.Store, files store.Files, opts ...Option) (*Service, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	s := &Service{
		cfg:       cfg,
		store:     st,
		files:     files,
		validator: chart.NewValidator(cfg.ChartLimits()),
		profiler:  profile.New(nil),
		logger:    zap.NewNop(),
		allocator: memory.NewGoAllocator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		eng, err := NewEngine(cfg.Engine.Kind)
		if err != nil {
			return nil, err
		}
		s.engine = eng
	}
	if s.metrics == nil {
		s.metrics = monitoring.NewMetricsCollector(cfg.Metrics.Enabled, 0)
	}
	if cfg.Cache.Enabled {
		s.payloads = cache.New[cachedPayload](cfg.Cache.MaxEntries)
	}
	var assemblerOpts []payload.Option
	if s.idGen != nil {
		assemblerOpts = append(assemblerOpts, payload.WithIDGenerator(s.idGen))
	}
	s.assembler = payload.NewAssembler(s.engine, assemblerOpts...)
	return s, nil
}

// Open builds the store, file storage and logger described by cfg.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	var st store.Store
	switch cfg.Store.Driver {
	case config.DriverMemory:
		st = store.NewMemoryStore()
	case config.DriverSQLite:
		st, err = store.NewSQLiteStore(ctx, cfg.Store.DSN)
	case config.DriverPostgres:
		st, err = store.NewPostgresStore(ctx, store.PostgresConfig{
			URL:            cfg.Store.DSN,
			MaxConnections: cfg.Store.MaxConnections,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store %s: %w", cfg.Store.Driver, logging.SanitizeDSN(cfg.Store.DSN), err)
	}
	files, err := store.NewLocalFiles(cfg.Store.UploadDir)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	logger.Info("store opened",
		zap.String("driver", cfg.Store.Driver),
		zap.String("dsn", logging.SanitizeDSN(cfg.Store.DSN)),
		zap.String("upload_dir", cfg.Store.UploadDir),
		zap.String("engine", cfg.Engine.Kind))

	svc, err := New(cfg, st, files, append([]Option{WithLogger(logger)}, opts...)...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return svc, nil
}

// Close releases the store.
func (s *Service) Close() error {
	_ = s.logger.Sync()
	return s.store.Close()
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// EngineName reports which engine executes chart plans.
func (s *Service) EngineName() string { return s.engine.Name() }

func (s *Service) loadOptions() io.Options {
	return io.Options{
		MaxBytes:   s.cfg.Limits.MaxFileBytes,
		MaxRows:    s.cfg.Limits.MaxRows,
		NullValues: s.cfg.Limits.NullValues,
		Allocator:  s.allocator,
	}
}

// Load reads r as the format implied by filename under the configured limits.
// The caller releases the relation.
func (s *Service) Load(ctx context.Context, r goio.Reader, filename string) (*relation.Relation, error) {
	return io.Load(ctx, r, filename, s.loadOptions())
}

// loadStored re-reads the file behind a dataset record.
func (s *Service) loadStored(ctx context.Context, d *Dataset) (*relation.Relation, error) {
	rc, err := s.files.Open(d.FilePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return s.Load(ctx, rc, d.OriginalFilename)
}

// Profile loads and profiles r without storing anything.
func (s *Service) Profile(ctx context.Context, r goio.Reader, filename string) (*DatasetSchema, error) {
	var ds *DatasetSchema
	err := s.metrics.RecordOperation(OpProfile, "", func(obs *monitoring.Observation) error {
		rel, err := s.Load(ctx, r, filename)
		if err != nil {
			return err
		}
		defer rel.Release()
		obs.Rows = int64(rel.Len())
		ds, err = s.profiler.Profile(ctx, rel)
		return err
	})
	return ds, err
}

// Export loads r, writes it to w as Parquet and returns its profile. Inferred
// column types survive the conversion, so the output re-loads without
// sniffing.
func (s *Service) Export(ctx context.Context, r goio.Reader, filename string, w goio.Writer) (*DatasetSchema, error) {
	var ds *DatasetSchema
	err := s.metrics.RecordOperation(OpExport, "", func(obs *monitoring.Observation) error {
		rel, err := s.Load(ctx, r, filename)
		if err != nil {
			return err
		}
		defer rel.Release()
		obs.Rows = int64(rel.Len())
		if ds, err = s.profiler.Profile(ctx, rel); err != nil {
			return err
		}
		if err := io.NewParquetWriter(w).Write(rel); err != nil {
			return fmt.Errorf("export %s: %w", filename, err)
		}
		return nil
	})
	return ds, err
}
