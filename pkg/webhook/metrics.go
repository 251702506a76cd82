package webhook

import (
	"sync"
	"time"
)

// MetricsTracker tracks per-route trigger performance.
type MetricsTracker struct {
	metrics map[string]*RouteMetrics
	mu      sync.RWMutex
}

// NewMetricsTracker creates a new metrics tracker.
func NewMetricsTracker() *MetricsTracker {
	return &MetricsTracker{
		metrics: make(map[string]*RouteMetrics),
	}
}

// Track records one trigger request.
func (mt *MetricsTracker) Track(path string, method string, success bool, durationMs float64) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	key := method + ":" + path

	m, exists := mt.metrics[key]
	if !exists {
		m = &RouteMetrics{
			Path:   path,
			Method: method,
		}
		mt.metrics[key] = m
	}

	m.TotalRequests++
	if success {
		m.SuccessCount++
	} else {
		m.FailureCount++
	}

	// Running average.
	m.AverageResponseTime = (m.AverageResponseTime*float64(m.TotalRequests-1) + durationMs) / float64(m.TotalRequests)
	m.LastRequestAt = time.Now().UnixMilli()
}

// GetMetrics returns all route metrics.
func (mt *MetricsTracker) GetMetrics() []RouteMetrics {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	result := make([]RouteMetrics, 0, len(mt.metrics))
	for _, m := range mt.metrics {
		result = append(result, *m)
	}
	return result
}

// GetMetricsForRoute returns metrics for a specific route.
func (mt *MetricsTracker) GetMetricsForRoute(path string, method string) *RouteMetrics {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	key := method + ":" + path
	m, exists := mt.metrics[key]
	if !exists {
		return nil
	}

	result := *m
	return &result
}
