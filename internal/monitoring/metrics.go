// Package monitoring records timing and row counts for service operations.
package monitoring

import (
	"runtime"
	"sync"
	"time"
)

// DefaultHistory is the number of operations a collector keeps.
const DefaultHistory = 1024

// OperationMetrics represents one recorded operation.
type OperationMetrics struct {
	Operation     string        `json:"operation"`
	Dataset       string        `json:"dataset,omitempty"`
	Duration      time.Duration `json:"duration"`
	RowsProcessed int64         `json:"rows_processed"`
	MemoryUsed    int64         `json:"memory_used"`
	Failed        bool          `json:"failed"`
	CacheHit      bool          `json:"cache_hit,omitempty"`
	At            time.Time     `json:"at"`
}

// Observation is filled in by the recorded function.
type Observation struct {
	Rows     int64
	CacheHit bool
}

// MetricsCollector collects operation metrics in a bounded ring.
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics []OperationMetrics
	next    int
	full    bool
	enabled bool
}

// NewMetricsCollector creates a collector keeping the last history operations.
func NewMetricsCollector(enabled bool, history int) *MetricsCollector {
	if history <= 0 {
		history = DefaultHistory
	}
	return &MetricsCollector{
		metrics: make([]OperationMetrics, history),
		enabled: enabled,
	}
}

// IsEnabled returns whether metrics collection is enabled.
func (mc *MetricsCollector) IsEnabled() bool {
	if mc == nil {
		return false
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.enabled
}

// SetEnabled enables or disables metrics collection.
func (mc *MetricsCollector) SetEnabled(enabled bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.enabled = enabled
}

// RecordOperation runs fn and records its duration, rows and outcome.
// A nil or disabled collector just runs fn.
func (mc *MetricsCollector) RecordOperation(operation, dataset string, fn func(*Observation) error) error {
	var obs Observation
	if !mc.IsEnabled() {
		return fn(&obs)
	}

	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)
	start := time.Now()

	err := fn(&obs)

	duration := time.Since(start)
	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)

	mc.add(OperationMetrics{
		Operation:     operation,
		Dataset:       dataset,
		Duration:      duration,
		RowsProcessed: obs.Rows,
		MemoryUsed:    int64(memAfter.TotalAlloc - memBefore.TotalAlloc), //nolint:gosec // allocation deltas fit in int64
		Failed:        err != nil,
		CacheHit:      obs.CacheHit,
		At:            start.UTC(),
	})
	return err
}

func (mc *MetricsCollector) add(m OperationMetrics) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics[mc.next] = m
	mc.next = (mc.next + 1) % len(mc.metrics)
	if mc.next == 0 {
		mc.full = true
	}
}

// GetMetrics returns the recorded operations, oldest first.
func (mc *MetricsCollector) GetMetrics() []OperationMetrics {
	if mc == nil {
		return []OperationMetrics{}
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	if !mc.full {
		return append([]OperationMetrics{}, mc.metrics[:mc.next]...)
	}
	out := make([]OperationMetrics, 0, len(mc.metrics))
	out = append(out, mc.metrics[mc.next:]...)
	return append(out, mc.metrics[:mc.next]...)
}

// Clear removes all collected metrics.
func (mc *MetricsCollector) Clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	clear(mc.metrics)
	mc.next, mc.full = 0, false
}

// GetSummary returns a summary of collected metrics.
func (mc *MetricsCollector) GetSummary() MetricsSummary {
	metrics := mc.GetMetrics()
	if len(metrics) == 0 {
		return MetricsSummary{}
	}

	summary := MetricsSummary{
		TotalOperations: len(metrics),
		OperationCounts: make(map[string]int),
	}
	for _, m := range metrics {
		summary.TotalDuration += m.Duration
		summary.TotalMemory += m.MemoryUsed
		summary.TotalRows += m.RowsProcessed
		summary.OperationCounts[m.Operation]++
		if m.Failed {
			summary.Failures++
		}
		if m.CacheHit {
			summary.CacheHits++
		}
	}
	summary.AverageDuration = summary.TotalDuration / time.Duration(len(metrics))
	return summary
}

// MetricsSummary provides aggregate statistics for collected metrics.
type MetricsSummary struct {
	TotalOperations int            `json:"total_operations"`
	TotalDuration   time.Duration  `json:"total_duration"`
	TotalMemory     int64          `json:"total_memory"`
	TotalRows       int64          `json:"total_rows"`
	Failures        int            `json:"failures"`
	CacheHits       int            `json:"cache_hits"`
	OperationCounts map[string]int `json:"operation_counts"`
	AverageDuration time.Duration  `json:"average_duration"`
}
