// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// BruteForceConfig holds brute-force rule parameters.
type BruteForceConfig struct {
	// WindowSeconds is how far back failures are counted.
	WindowSeconds int `json:"window_seconds"`

	// Threshold is the failed-attempt count at which an alert fires.
	Threshold int `json:"threshold"`
}

// DefaultBruteForceConfig returns the standard rule parameters: five
// failures from one IP within two minutes.
func DefaultBruteForceConfig() BruteForceConfig {
	return BruteForceConfig{
		WindowSeconds: 120,
		Threshold:     5,
	}
}

// BruteForceDetector flags source IPs with too many failed attempts in a
// short window, regardless of which usernames were targeted.
type BruteForceDetector struct {
	mu      sync.RWMutex
	config  BruteForceConfig
	enabled bool
}

// NewBruteForceDetector creates an enabled detector with defaults.
func NewBruteForceDetector() *BruteForceDetector {
	return &BruteForceDetector{
		config:  DefaultBruteForceConfig(),
		enabled: true,
	}
}

// Type returns AlertBruteForce.
func (d *BruteForceDetector) Type() AlertType {
	return AlertBruteForce
}

// Sweep counts failed attempts per source IP within the window and emits
// one candidate per IP at or above the threshold. Candidates come back
// sorted by IP so repeated sweeps over the same data are identical.
func (d *BruteForceDetector) Sweep(_ context.Context, events []LoginEvent, now time.Time) []Candidate {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	cutoff := now.Add(-time.Duration(cfg.WindowSeconds) * time.Second)
	failures := make(map[string]int)
	for i := range events {
		ev := &events[i]
		if !ev.Status.IsFailure() || ev.Timestamp.Before(cutoff) {
			continue
		}
		failures[ev.SourceIP]++
	}

	ips := make([]string, 0, len(failures))
	for ip, n := range failures {
		if n >= cfg.Threshold {
			ips = append(ips, ip)
		}
	}
	sort.Strings(ips)

	candidates := make([]Candidate, 0, len(ips))
	for _, ip := range ips {
		candidates = append(candidates, Candidate{
			Type:    AlertBruteForce,
			Key:     ip,
			Details: fmt.Sprintf("Brute force attack detected from IP %s", ip),
		})
	}
	return candidates
}

// Configure applies new parameters from JSON. Invalid values are rejected
// and the current configuration is left untouched.
func (d *BruteForceDetector) Configure(raw json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cfg := d.config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parsing brute force config: %w", err)
	}
	if cfg.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive, got %d", cfg.WindowSeconds)
	}
	if cfg.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %d", cfg.Threshold)
	}
	d.config = cfg
	return nil
}

// Config returns the current parameters.
func (d *BruteForceDetector) Config() BruteForceConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Settings returns the current parameters for display.
func (d *BruteForceDetector) Settings() any {
	return d.Config()
}

// Enabled reports whether the detector participates in sweeps.
func (d *BruteForceDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled toggles the detector.
func (d *BruteForceDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}
