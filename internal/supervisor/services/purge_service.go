// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package services

import (
	"context"
	"time"

	"github.com/tomtom215/vigil/internal/logging"
)

// purger is the part of the window cache this service needs.
type purger interface {
	Purge(now time.Time) int
}

// PurgeService periodically drops stale, empty entries from the window
// cache. Live entries evict on every update already; this janitor only
// reclaims memory for IPs that went quiet.
type PurgeService struct {
	cache    purger
	interval time.Duration
}

// NewPurgeService wraps a window cache. A non-positive interval defaults
// to ten minutes.
func NewPurgeService(cache purger, interval time.Duration) *PurgeService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &PurgeService{cache: cache, interval: interval}
}

// Serve runs the purge loop until the context is canceled.
func (s *PurgeService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := s.cache.Purge(time.Now()); removed > 0 {
				logging.Debug().Int("removed", removed).Msg("Window cache purged")
			}
		}
	}
}

// String identifies the service in supervisor logs.
func (s *PurgeService) String() string {
	return "window-cache-purge"
}
