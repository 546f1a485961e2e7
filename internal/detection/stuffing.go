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

// StuffingConfig holds credential-stuffing rule parameters, shared by the
// per-IP and per-fingerprint variants.
type StuffingConfig struct {
	// WindowSeconds is how far back failures are considered.
	WindowSeconds int `json:"window_seconds"`

	// Threshold is the distinct-username count at which an alert fires.
	Threshold int `json:"threshold"`
}

// DefaultStuffingConfig returns the standard per-IP rule parameters:
// four distinct usernames failing from one IP within one minute.
func DefaultStuffingConfig() StuffingConfig {
	return StuffingConfig{
		WindowSeconds: 60,
		Threshold:     4,
	}
}

// DefaultFingerprintStuffingConfig returns the fingerprint-grouped
// variant's parameters: one password tried against three distinct
// usernames within two minutes.
func DefaultFingerprintStuffingConfig() StuffingConfig {
	return StuffingConfig{
		WindowSeconds: 120,
		Threshold:     3,
	}
}

// CredentialStuffingDetector flags source IPs that fail against many
// distinct usernames in a short window. Grouping by source IP is the
// canonical rule: it catches a stuffing run from one origin even when
// every credential in the dump is unique.
type CredentialStuffingDetector struct {
	mu      sync.RWMutex
	config  StuffingConfig
	enabled bool
}

// NewCredentialStuffingDetector creates an enabled detector with defaults.
func NewCredentialStuffingDetector() *CredentialStuffingDetector {
	return &CredentialStuffingDetector{
		config:  DefaultStuffingConfig(),
		enabled: true,
	}
}

// Type returns AlertCredentialStuffing.
func (d *CredentialStuffingDetector) Type() AlertType {
	return AlertCredentialStuffing
}

// Sweep collects distinct failed usernames per source IP within the
// window and emits one candidate per IP at or above the threshold, sorted
// by IP.
func (d *CredentialStuffingDetector) Sweep(_ context.Context, events []LoginEvent, now time.Time) []Candidate {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	cutoff := now.Add(-time.Duration(cfg.WindowSeconds) * time.Second)
	usersByIP := make(map[string]map[string]struct{})
	for i := range events {
		ev := &events[i]
		if !ev.Status.IsFailure() || ev.Timestamp.Before(cutoff) {
			continue
		}
		users, ok := usersByIP[ev.SourceIP]
		if !ok {
			users = make(map[string]struct{})
			usersByIP[ev.SourceIP] = users
		}
		users[ev.Username] = struct{}{}
	}

	ips := make([]string, 0, len(usersByIP))
	for ip, users := range usersByIP {
		if len(users) >= cfg.Threshold {
			ips = append(ips, ip)
		}
	}
	sort.Strings(ips)

	candidates := make([]Candidate, 0, len(ips))
	for _, ip := range ips {
		candidates = append(candidates, Candidate{
			Type:    AlertCredentialStuffing,
			Key:     ip,
			Details: fmt.Sprintf("Credential stuffing attack detected from IP %s", ip),
		})
	}
	return candidates
}

// Configure applies new parameters from JSON, rejecting invalid values.
func (d *CredentialStuffingDetector) Configure(raw json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cfg := d.config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parsing credential stuffing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	d.config = cfg
	return nil
}

// Config returns the current parameters.
func (d *CredentialStuffingDetector) Config() StuffingConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Settings returns the current parameters for display.
func (d *CredentialStuffingDetector) Settings() any {
	return d.Config()
}

// Enabled reports whether the detector participates in sweeps.
func (d *CredentialStuffingDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled toggles the detector.
func (d *CredentialStuffingDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

func (c StuffingConfig) validate() error {
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive, got %d", c.WindowSeconds)
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %d", c.Threshold)
	}
	return nil
}

// FingerprintStuffingDetector is the alternate stuffing rule: it groups
// failed attempts by password fingerprint and fires when one credential
// is tried against enough distinct usernames, across all source IPs.
// Disabled by default; enable it alongside the per-IP rule to catch
// distributed runs that share a credential list.
type FingerprintStuffingDetector struct {
	mu      sync.RWMutex
	config  StuffingConfig
	enabled bool
}

// NewFingerprintStuffingDetector creates a disabled detector with the
// fingerprint-variant defaults.
func NewFingerprintStuffingDetector() *FingerprintStuffingDetector {
	return &FingerprintStuffingDetector{
		config:  DefaultFingerprintStuffingConfig(),
		enabled: false,
	}
}

// Type returns AlertCredentialStuffing.
func (d *FingerprintStuffingDetector) Type() AlertType {
	return AlertCredentialStuffing
}

// Sweep collects distinct failed usernames per fingerprint within the
// window. Events without a fingerprint are ignored. Candidates are keyed
// by fingerprint and name a shortened fingerprint only, never a count.
func (d *FingerprintStuffingDetector) Sweep(_ context.Context, events []LoginEvent, now time.Time) []Candidate {
	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	cutoff := now.Add(-time.Duration(cfg.WindowSeconds) * time.Second)
	usersByFingerprint := make(map[string]map[string]struct{})
	for i := range events {
		ev := &events[i]
		if !ev.Status.IsFailure() || ev.Fingerprint == "" || ev.Timestamp.Before(cutoff) {
			continue
		}
		users, ok := usersByFingerprint[ev.Fingerprint]
		if !ok {
			users = make(map[string]struct{})
			usersByFingerprint[ev.Fingerprint] = users
		}
		users[ev.Username] = struct{}{}
	}

	fingerprints := make([]string, 0, len(usersByFingerprint))
	for fp, users := range usersByFingerprint {
		if len(users) >= cfg.Threshold {
			fingerprints = append(fingerprints, fp)
		}
	}
	sort.Strings(fingerprints)

	candidates := make([]Candidate, 0, len(fingerprints))
	for _, fp := range fingerprints {
		candidates = append(candidates, Candidate{
			Type:    AlertCredentialStuffing,
			Key:     fp,
			Details: fmt.Sprintf("Credential stuffing attack detected for password fingerprint %s", shortFingerprint(fp)),
		})
	}
	return candidates
}

// Configure applies new parameters from JSON, rejecting invalid values.
func (d *FingerprintStuffingDetector) Configure(raw json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cfg := d.config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parsing fingerprint stuffing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	d.config = cfg
	return nil
}

// Config returns the current parameters.
func (d *FingerprintStuffingDetector) Config() StuffingConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Settings returns the current parameters for display.
func (d *FingerprintStuffingDetector) Settings() any {
	return d.Config()
}

// Enabled reports whether the detector participates in sweeps.
func (d *FingerprintStuffingDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled toggles the detector.
func (d *FingerprintStuffingDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// shortFingerprint truncates a fingerprint for alert details. Full
// fingerprints stay out of alerts to keep them safe to forward.
func shortFingerprint(fp string) string {
	if len(fp) <= 12 {
		return fp
	}
	return fp[:12]
}
