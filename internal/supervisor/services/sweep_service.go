// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package services wraps Vigil's long-running components as suture
// services. Each wrapper declares a minimal local interface so the
// package depends on behavior, not concrete types.
package services

import (
	"context"
)

// sweeper is the part of the detection engine this service needs.
type sweeper interface {
	RunWithContext(ctx context.Context) error
}

// SweepService runs the detection sweep loop under supervision.
type SweepService struct {
	engine sweeper
}

// NewSweepService wraps a sweep engine.
func NewSweepService(engine sweeper) *SweepService {
	return &SweepService{engine: engine}
}

// Serve runs the sweep loop until the context is canceled. Suture
// restarts the service if the loop returns any other error.
func (s *SweepService) Serve(ctx context.Context) error {
	return s.engine.RunWithContext(ctx)
}

// String identifies the service in supervisor logs.
func (s *SweepService) String() string {
	return "detection-sweep"
}
