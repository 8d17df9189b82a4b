package tabula

import (
	"context"
	"encoding/json"
	"fmt"
	goio "io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/paveg/tabula/internal/cache"
	"github.com/paveg/tabula/internal/chart"
	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/monitoring"
	"github.com/paveg/tabula/internal/query"
	"github.com/paveg/tabula/internal/relation"
	"github.com/paveg/tabula/internal/store"
)

// Chart answers req against a stored dataset. The request is validated
// against the cached schema before the file is read; payloads may come from
// the cache and must be treated as read-only.
func (s *Service) Chart(ctx context.Context, id string, req ChartRequest) (*ChartPayload, error) {
	var p *ChartPayload
	err := s.metrics.RecordOperation(OpChart, id, func(obs *monitoring.Observation) error {
		d, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if d.Schema == nil {
			return errors.NewNotFoundError("schema", id)
		}
		resolved, err := s.validator.Validate(req, d.Schema)
		if err != nil {
			return err
		}

		key, cacheable := s.cacheKey(d, req)
		if cacheable {
			if hit, ok := s.payloads.Get(key); ok {
				p = hit.payload
				obs.CacheHit = true
				return nil
			}
		}

		start := time.Now()
		rel, err := s.loadStored(ctx, d)
		if err != nil {
			return err
		}
		defer rel.Release()
		obs.Rows = int64(rel.Len())

		p, err = s.assemble(ctx, resolved, rel)
		if err != nil {
			return err
		}
		if err := s.record(ctx, id, req, p, time.Since(start)); err != nil {
			return err
		}
		if cacheable {
			s.payloads.Put(key, cachedPayload{datasetID: id, payload: p})
		}
		return nil
	})
	if err != nil {
		s.logger.Debug("chart failed",
			zap.String("dataset_id", id), zap.String("chart_kind", kindName(req)), zap.Error(err))
		return nil, err
	}
	s.logger.Debug("chart built",
		zap.String("dataset_id", id),
		zap.String("chart_id", p.ChartID),
		zap.String("chart_kind", string(p.ChartKind)),
		zap.Int("series", len(p.SeriesData)))
	return p, nil
}

// record stores the run as an analysis under the payload's chart id.
func (s *Service) record(ctx context.Context, datasetID string, req ChartRequest, p *ChartPayload, took time.Duration) error {
	params, err := chart.Encode(req)
	if err != nil {
		return fmt.Errorf("record chart: %w", err)
	}
	result, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("record chart: %w", err)
	}
	return s.store.CreateAnalysis(ctx, &store.Analysis{
		ID:        p.ChartID,
		DatasetID: datasetID,
		Kind:      string(p.ChartKind),
		Title:     p.LayoutMetadata.Title,
		Params:    params,
		Result:    result,
		Duration:  took,
		Status:    store.StatusCompleted,
	})
}

// Charts lists the charts recorded for a dataset, newest first. kind may be
// empty, a canonical chart kind or a short alias such as "bar".
func (s *Service) Charts(ctx context.Context, datasetID, kind string, opts ListOptions) ([]*Analysis, error) {
	f := store.AnalysisFilter{Offset: opts.Offset, Limit: opts.Limit}
	if kind != "" {
		k, err := chart.ParseKind(kind)
		if err != nil {
			verr := errors.NewValidationError("list charts")
			verr.Add("chart_type", errors.CodeInvalid, err.Error())
			return nil, verr
		}
		f.Kind = string(k)
	}
	return s.store.ListAnalyses(ctx, datasetID, f)
}

// ChartByID returns the payload recorded under chartID.
func (s *Service) ChartByID(ctx context.Context, datasetID, chartID string) (*ChartPayload, error) {
	a, err := s.store.GetAnalysis(ctx, datasetID, chartID)
	if err != nil {
		return nil, err
	}
	if len(a.Result) == 0 {
		return nil, errors.NewNotFoundError("chart result", chartID)
	}
	var p ChartPayload
	if err := json.Unmarshal(a.Result, &p); err != nil {
		return nil, fmt.Errorf("decode chart %s: %w", chartID, err)
	}
	return &p, nil
}

// DeleteChart removes a recorded chart and any cached copy of it.
func (s *Service) DeleteChart(ctx context.Context, datasetID, chartID string) error {
	if err := s.store.DeleteAnalysis(ctx, datasetID, chartID); err != nil {
		return err
	}
	if s.payloads != nil {
		s.payloads.RemoveIf(func(c cachedPayload) bool { return c.payload.ChartID == chartID })
	}
	s.logger.Debug("chart deleted", zap.String("dataset_id", datasetID), zap.String("chart_id", chartID))
	return nil
}

// ChartJSON decodes a JSON parameter bag and answers it.
func (s *Service) ChartJSON(ctx context.Context, id string, params []byte) (*ChartPayload, error) {
	req, err := chart.Decode(params)
	if err != nil {
		return nil, err
	}
	return s.Chart(ctx, id, req)
}

// ChartFile answers req directly against an unstored file.
func (s *Service) ChartFile(ctx context.Context, r goio.Reader, filename string, req ChartRequest) (*ChartPayload, error) {
	var p *ChartPayload
	err := s.metrics.RecordOperation(OpChart, "", func(obs *monitoring.Observation) error {
		rel, err := s.Load(ctx, r, filename)
		if err != nil {
			return err
		}
		defer rel.Release()
		obs.Rows = int64(rel.Len())

		ds, err := s.profiler.Profile(ctx, rel)
		if err != nil {
			return err
		}
		resolved, err := s.validator.Validate(req, ds)
		if err != nil {
			return err
		}
		p, err = s.assemble(ctx, resolved, rel)
		return err
	})
	return p, err
}

func (s *Service) assemble(ctx context.Context, resolved chart.Resolved, rel *relation.Relation) (*ChartPayload, error) {
	plan, err := query.Build(resolved)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.assembler.Assemble(ctx, plan, rel)
}

// cacheKey hashes the dataset version with the canonical request encoding.
func (s *Service) cacheKey(d *Dataset, req ChartRequest) (cache.Key, bool) {
	if s.payloads == nil {
		return cache.Key{}, false
	}
	canonical, err := chart.Encode(req)
	if err != nil {
		return cache.Key{}, false
	}
	return cache.NewKey(d.ID, strconv.Itoa(d.SchemaVersion), s.engine.Name(), string(canonical)), true
}

func kindName(req ChartRequest) string {
	if req == nil {
		return ""
	}
	return string(req.Kind())
}

// Metrics is a snapshot of operation and cache counters.
type Metrics struct {
	Operations monitoring.MetricsSummary `json:"operations"`
	Cache      *cache.Stats              `json:"cache,omitempty"`
}

// Metrics returns the current counters.
func (s *Service) Metrics() Metrics {
	m := Metrics{Operations: s.metrics.GetSummary()}
	if s.payloads != nil {
		stats := s.payloads.Stats()
		m.Cache = &stats
	}
	return m
}
