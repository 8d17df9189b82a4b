package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/paveg/tabula/internal/schema"
)

// MemoryStore keeps datasets in a map.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string]*memoryItem
	analyses map[string]*memoryAnalysis
	seq      int64
}

type memoryAnalysis struct {
	seq      int64
	analysis *Analysis
}

type memoryItem struct {
	seq     int64
	dataset *Dataset
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*memoryItem), analyses: make(map[string]*memoryAnalysis)}
}

func (m *MemoryStore) Create(_ context.Context, d *Dataset) error {
	if err := prepareCreate(d, now()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[d.ID]; exists {
		return errDuplicate(d.ID)
	}
	m.seq++
	m.items[d.ID] = &memoryItem{seq: m.seq, dataset: cloneDataset(d)}
	return nil
}

func (m *MemoryStore) active(id string) (*memoryItem, error) {
	item, ok := m.items[id]
	if !ok || item.dataset.Status != StatusActive {
		return nil, notFound(id)
	}
	return item, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, err := m.active(id)
	if err != nil {
		return nil, err
	}
	return cloneDataset(item.dataset), nil
}

func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]*memoryItem, 0, len(m.items))
	for _, item := range m.items {
		if item.dataset.Status == StatusActive {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b *memoryItem) int {
		if c := b.dataset.CreatedAt.Compare(a.dataset.CreatedAt); c != 0 {
			return c
		}
		return int(b.seq - a.seq)
	})

	start := min(max(opts.Offset, 0), len(items))
	end := len(items)
	if opts.Limit > 0 {
		end = min(start+opts.Limit, end)
	}
	out := make([]*Dataset, 0, end-start)
	for _, item := range items[start:end] {
		out = append(out, cloneDataset(item.dataset))
	}
	return out, nil
}

func (m *MemoryStore) StoreSchema(_ context.Context, id string, s *schema.DatasetSchema) (int, error) {
	if err := checkSchema(s); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, err := m.active(id)
	if err != nil {
		return 0, err
	}
	d := cloneDataset(item.dataset)
	d.Schema = s
	d.RowCount = s.RowCount
	d.SchemaVersion++
	d.UpdatedAt = now()
	item.dataset = cloneDataset(d)
	return d.SchemaVersion, nil
}

func (m *MemoryStore) GetSchema(_ context.Context, id string) (*schema.DatasetSchema, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, err := m.active(id)
	if err != nil {
		return nil, 0, err
	}
	d := cloneDataset(item.dataset)
	return d.Schema, d.SchemaVersion, nil
}

func (m *MemoryStore) SoftDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, err := m.active(id)
	if err != nil {
		return err
	}
	item.dataset.Status = StatusDeleted
	item.dataset.UpdatedAt = now()
	return nil
}

func (m *MemoryStore) CreateAnalysis(_ context.Context, a *Analysis) error {
	if err := prepareAnalysis(a, now()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.active(a.DatasetID); err != nil {
		return err
	}
	if _, exists := m.analyses[a.ID]; exists {
		return fmt.Errorf("create analysis: id %q already exists", a.ID)
	}
	m.seq++
	m.analyses[a.ID] = &memoryAnalysis{seq: m.seq, analysis: cloneAnalysis(a)}
	return nil
}

func (m *MemoryStore) analysis(datasetID, id string) (*memoryAnalysis, error) {
	if _, err := m.active(datasetID); err != nil {
		return nil, err
	}
	item, ok := m.analyses[id]
	if !ok || item.analysis.DatasetID != datasetID {
		return nil, analysisNotFound(id)
	}
	return item, nil
}

func (m *MemoryStore) GetAnalysis(_ context.Context, datasetID, id string) (*Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, err := m.analysis(datasetID, id)
	if err != nil {
		return nil, err
	}
	return cloneAnalysis(item.analysis), nil
}

func (m *MemoryStore) ListAnalyses(_ context.Context, datasetID string, f AnalysisFilter) ([]*Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, err := m.active(datasetID); err != nil {
		return nil, err
	}
	items := make([]*memoryAnalysis, 0)
	for _, item := range m.analyses {
		if item.analysis.DatasetID == datasetID && (f.Kind == "" || item.analysis.Kind == f.Kind) {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b *memoryAnalysis) int {
		if c := b.analysis.CreatedAt.Compare(a.analysis.CreatedAt); c != 0 {
			return c
		}
		return int(b.seq - a.seq)
	})

	start := min(max(f.Offset, 0), len(items))
	end := len(items)
	if f.Limit > 0 {
		end = min(start+f.Limit, end)
	}
	out := make([]*Analysis, 0, end-start)
	for _, item := range items[start:end] {
		out = append(out, cloneAnalysis(item.analysis))
	}
	return out, nil
}

func (m *MemoryStore) DeleteAnalysis(_ context.Context, datasetID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.analysis(datasetID, id); err != nil {
		return err
	}
	delete(m.analyses, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
