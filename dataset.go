package tabula

import (
	"context"
	stderrors "errors"
	goio "io"
	"maps"
	"strings"

	"go.uber.org/zap"

	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/io"
	"github.com/paveg/tabula/internal/logging"
	"github.com/paveg/tabula/internal/monitoring"
)

// IngestRequest describes one upload.
type IngestRequest struct {
	// Name defaults to Filename without its extension
	Name        string
	Description string
	// Filename is the declared original name; its extension picks the loader
	Filename string
	Reader   goio.Reader
	Tags     map[string]string
}

// Ingest saves the upload, loads and profiles it, and records the dataset.
// On any failure nothing is recorded and the saved file is removed.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*Dataset, error) {
	format, err := io.FormatFor(req.Filename)
	if err != nil {
		return nil, err
	}

	var d *Dataset
	err = s.metrics.RecordOperation(OpIngest, "", func(obs *monitoring.Observation) error {
		path, size, err := s.files.Save(req.Filename, req.Reader, s.cfg.Limits.MaxFileBytes)
		if err != nil {
			return err
		}
		d, err = s.ingestSaved(ctx, req, string(format), path, size)
		if err != nil {
			if rmErr := s.files.Remove(path); rmErr != nil {
				s.logger.Warn("failed to remove upload after ingest failure",
					zap.String("path", path), zap.Error(rmErr))
			}
			return err
		}
		obs.Rows = d.RowCount
		return nil
	})
	if err != nil {
		s.logger.Info("ingest failed", zap.String("filename", req.Filename), zap.Error(err))
		return nil, err
	}

	s.logger.Info("dataset ingested",
		zap.String("dataset_id", d.ID),
		zap.String("name", d.Name),
		zap.String("file_type", d.FileType),
		zap.Int64("rows", d.RowCount),
		zap.Int("columns", len(d.Schema.Columns)),
		zap.Int64("bytes", d.FileSize))
	return d, nil
}

func (s *Service) ingestSaved(ctx context.Context, req IngestRequest, format, path string, size int64) (*Dataset, error) {
	d := &Dataset{
		Name:             datasetName(req),
		Description:      req.Description,
		FilePath:         path,
		OriginalFilename: req.Filename,
		FileSize:         size,
		FileType:         format,
		Tags:             maps.Clone(req.Tags),
	}
	rel, err := s.loadStored(ctx, d)
	if err != nil {
		return nil, err
	}
	defer rel.Release()

	d.Schema, err = s.profiler.Profile(ctx, rel)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func datasetName(req IngestRequest) string {
	if name := strings.TrimSpace(req.Name); name != "" {
		return name
	}
	base := req.Filename
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base
}

// Dataset returns an active dataset.
func (s *Service) Dataset(ctx context.Context, id string) (*Dataset, error) {
	return s.store.Get(ctx, id)
}

// Datasets lists active datasets, newest first.
func (s *Service) Datasets(ctx context.Context, opts ListOptions) ([]*Dataset, error) {
	return s.store.List(ctx, opts)
}

// Delete soft-deletes a dataset and removes its file. A file that cannot be
// removed is logged; the record stays deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.forget(id)
	if err := s.files.Remove(d.FilePath); err != nil {
		s.logger.Warn("failed to remove dataset file",
			zap.String("dataset_id", id), zap.String("path", d.FilePath), zap.Error(err))
	}
	s.logger.Info("dataset deleted", zap.String("dataset_id", id))
	return nil
}

// Refresh re-profiles the stored file and records the schema as a new
// version, which it returns.
func (s *Service) Refresh(ctx context.Context, id string) (int, error) {
	var version int
	err := s.metrics.RecordOperation(OpRefresh, id, func(obs *monitoring.Observation) error {
		d, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		rel, err := s.loadStored(ctx, d)
		if err != nil {
			return err
		}
		defer rel.Release()
		obs.Rows = int64(rel.Len())

		sc, err := s.profiler.Profile(ctx, rel)
		if err != nil {
			return err
		}
		version, err = s.store.StoreSchema(ctx, id, sc)
		return err
	})
	if err != nil {
		if !stderrors.Is(err, errors.ErrNotFound) {
			s.logger.Error("refresh failed", zap.String("dataset_id", id), zap.String("error", logging.SanitizeError(err)))
		}
		return 0, err
	}
	s.forget(id)
	s.logger.Info("dataset refreshed", zap.String("dataset_id", id), zap.Int("schema_version", version))
	return version, nil
}

// forget drops cached payloads of one dataset.
func (s *Service) forget(id string) {
	if s.payloads == nil {
		return
	}
	s.payloads.RemoveIf(func(c cachedPayload) bool { return c.datasetID == id })
}
