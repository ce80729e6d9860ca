// Jobclerk is a job dispatch and lease tracking service.
// Copyright (C) 2025  Matthew Burns
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

// Package metrics exposes Prometheus collectors for the dispatch engine and
// the reaper.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	jobsReaped      prometheus.Counter
)

// Request outcome labels, matching the response kinds of the wire protocol.
const (
	OutcomeOK            = "ok"
	OutcomeBadRequest    = "bad_request"
	OutcomeNotFound      = "not_found"
	OutcomeInternalError = "internal_error"
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all metrics collectors.
// Primarily used by tests to ensure clean state.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveRequest records a completed dispatch request with its outcome.
func ObserveRequest(op, outcome string, duration time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	if requests != nil {
		requests.WithLabelValues(op, outcome).Inc()
	}
	if requestDuration != nil {
		requestDuration.WithLabelValues(op).Observe(duration.Seconds())
	}
}

// AddJobsReaped records jobs returned to the available pool by the reaper.
func AddJobsReaped(n int64) {
	if n <= 0 {
		return
	}
	mu.RLock()
	defer mu.RUnlock()
	if jobsReaped != nil {
		jobsReaped.Add(float64(n))
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	reqTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobclerk",
		Subsystem: "dispatch",
		Name:      "requests_total",
		Help:      "Total dispatch requests grouped by operation and outcome.",
	}, []string{"op", "outcome"})

	reqDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jobclerk",
		Subsystem: "dispatch",
		Name:      "request_duration_seconds",
		Help:      "Duration of dispatch requests by operation.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"op"})

	reaped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jobclerk",
		Subsystem: "reaper",
		Name:      "jobs_reaped_total",
		Help:      "Jobs whose lease expired and were returned to the available pool.",
	})

	registry.MustRegister(reqTotal, reqDuration, reaped)

	reg = registry
	requests = reqTotal
	requestDuration = reqDuration
	jobsReaped = reaped
}
