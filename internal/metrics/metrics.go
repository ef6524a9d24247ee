// netprov is a network-booted bare-metal provisioning client.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes Prometheus collectors for the provisioning
// client's cache, compiler, and executor stages on a private registry,
// never the global default one, so embedding this client in a larger
// process never collides with that process's own metrics.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	cacheOps          *prometheus.CounterVec
	cacheOpDuration   *prometheus.HistogramVec
	evictedBytesTotal prometheus.Counter
	compileResults    *prometheus.CounterVec
	executorOpDur     *prometheus.HistogramVec
)

const (
	CacheSync   = "sync"
	CachePull   = "pull"
	CacheShrink = "shrink"

	StatusOK  = "ok"
	StatusErr = "error"
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors. Used by tests to
// ensure clean state between runs.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler exposes the private registry in Prometheus text format, for
// a sidecar metrics endpoint if the invoking process wants one.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveCacheOp records a completed cache operation (sync/pull/shrink).
func ObserveCacheOp(op, status string, duration time.Duration) {
	op = sanitizeLabel(op, "unknown")
	status = sanitizeLabel(status, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if cacheOps != nil {
		cacheOps.WithLabelValues(op, status).Inc()
	}
	if cacheOpDuration != nil {
		cacheOpDuration.WithLabelValues(op, status).Observe(durationSeconds(duration))
	}
}

// AddEvictedBytes records bytes freed by a shrink pass.
func AddEvictedBytes(n int64) {
	if n <= 0 {
		return
	}
	mu.RLock()
	defer mu.RUnlock()
	if evictedBytesTotal != nil {
		evictedBytesTotal.Add(float64(n))
	}
}

// ObserveCompile records whether a recipe compiled successfully.
func ObserveCompile(status string) {
	status = sanitizeLabel(status, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if compileResults != nil {
		compileResults.WithLabelValues(status).Inc()
	}
}

// ObserveExecutorOp records the duration of one executed operation,
// labeled by its kind (deploy/pull/copy/unpack/format) and outcome.
func ObserveExecutorOp(kind, status string, duration time.Duration) {
	kind = sanitizeLabel(kind, "unknown")
	status = sanitizeLabel(status, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if executorOpDur != nil {
		executorOpDur.WithLabelValues(kind, status).Observe(durationSeconds(duration))
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netprov",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Total cache operations grouped by kind (sync/pull/shrink) and outcome.",
	}, []string{"op", "status"})

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "netprov",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Duration of cache operations by kind and outcome.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
	}, []string{"op", "status"})

	evicted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netprov",
		Subsystem: "cache",
		Name:      "evicted_bytes_total",
		Help:      "Total bytes freed by cache shrink passes.",
	})

	compile := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netprov",
		Subsystem: "compiler",
		Name:      "results_total",
		Help:      "Total recipe compile attempts grouped by outcome.",
	}, []string{"status"})

	execDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "netprov",
		Subsystem: "executor",
		Name:      "operation_duration_seconds",
		Help:      "Duration of executed operations by kind and outcome.",
		Buckets:   []float64{0.1, 1, 5, 30, 60, 300, 900, 1800},
	}, []string{"kind", "status"})

	registry.MustRegister(ops, opDuration, evicted, compile, execDur)

	reg = registry
	cacheOps = ops
	cacheOpDuration = opDuration
	evictedBytesTotal = evicted
	compileResults = compile
	executorOpDur = execDur
}

func sanitizeLabel(v string, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func durationSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
