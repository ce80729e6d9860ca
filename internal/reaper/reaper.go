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

// Package reaper periodically reclaims jobs whose runners stopped
// heartbeating, returning them to the available pool. It runs the same
// reclaim that the handle_stuck_jobs API operation performs, so operators
// can also trigger it on demand.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"jobclerk/internal/metrics"
)

// Store is the persistence surface the reaper needs.
type Store interface {
	HandleStuckJobs(ctx context.Context) (int64, error)
}

// Reaper reclaims expired leases on a fixed interval.
type Reaper struct {
	store    Store
	interval time.Duration
	log      *slog.Logger
}

// New creates a Reaper. A nil logger uses the default.
func New(st Store, interval time.Duration, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{store: st, interval: interval, log: log}
}

// Run reclaims stuck jobs every interval until ctx is canceled. It runs one
// sweep immediately on startup so a restart doesn't extend already-expired
// leases by a full interval.
func (r *Reaper) Run(ctx context.Context) {
	r.log.Info("reaper started", "interval", r.interval)

	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	n, err := r.store.HandleStuckJobs(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("failed to reclaim stuck jobs", "error", err)
		}
		return
	}

	metrics.AddJobsReaped(n)
	if n > 0 {
		r.log.Info("reclaimed stuck jobs", "count", n)
	}
}
