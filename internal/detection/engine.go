// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
)

// ErrSweepRunning is returned when a sweep is requested while another is
// still in progress. The ticker loop treats it as a skip, not a failure.
var ErrSweepRunning = errors.New("detection sweep already running")

// ErrUnknownRule is returned when configuring a rule name that is not
// registered.
var ErrUnknownRule = errors.New("unknown detection rule")

// EngineConfig holds sweep engine parameters.
type EngineConfig struct {
	// SweepInterval is the period of the background sweep loop.
	SweepInterval time.Duration

	// FetchLimit caps how many recent events a sweep reads.
	FetchLimit int

	// Cooldown suppresses repeat alerts for the same rule and key.
	Cooldown time.Duration
}

// DefaultEngineConfig returns the standard engine parameters.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SweepInterval: 5 * time.Second,
		FetchLimit:    5000,
		Cooldown:      5 * time.Minute,
	}
}

type cooldownKey struct {
	alertType AlertType
	key       string
}

// SweepEngine periodically sweeps recent events through the registered
// detectors, deduplicates candidates, persists alerts, and fans them out
// to notifiers.
//
// Deduplication is two-level. The in-process cooldown map suppresses
// repeats cheaply within one process lifetime; the store lookup catches
// repeats across restarts by matching the candidate's exact details
// against the most recent persisted alert of the same type.
type SweepEngine struct {
	store  EventStore
	alerts AlertStore

	mu        sync.RWMutex
	order     []string
	detectors map[string]Detector
	notifiers []Notifier
	config    EngineConfig

	// sweepMu serializes sweeps. TryLock keeps a slow sweep from
	// stacking up behind the ticker.
	sweepMu sync.Mutex

	cooldownMu sync.Mutex
	lastAlerts map[cooldownKey]time.Time

	breaker *gobreaker.CircuitBreaker[[]LoginEvent]

	// now is replaceable in tests.
	now func() time.Time
}

// NewSweepEngine creates an engine over the given stores.
func NewSweepEngine(store EventStore, alerts AlertStore, config EngineConfig) *SweepEngine {
	def := DefaultEngineConfig()
	if config.SweepInterval <= 0 {
		config.SweepInterval = def.SweepInterval
	}
	if config.FetchLimit <= 0 {
		config.FetchLimit = def.FetchLimit
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}

	breaker := gobreaker.NewCircuitBreaker[[]LoginEvent](gobreaker.Settings{
		Name:    "detection-event-reads",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Event read circuit breaker state changed")
		},
	})

	return &SweepEngine{
		store:      store,
		alerts:     alerts,
		detectors:  make(map[string]Detector),
		config:     config,
		lastAlerts: make(map[cooldownKey]time.Time),
		breaker:    breaker,
		now:        time.Now,
	}
}

// RegisterDetector adds a named detector. Detectors run in registration
// order during a sweep.
func (e *SweepEngine) RegisterDetector(name string, d Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.detectors[name]; !exists {
		e.order = append(e.order, name)
	}
	e.detectors[name] = d
}

// RegisterNotifier adds a notifier invoked after each persisted alert.
func (e *SweepEngine) RegisterNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, n)
}

// ConfigureDetector forwards raw JSON config to the named detector.
func (e *SweepEngine) ConfigureDetector(name string, raw json.RawMessage) error {
	e.mu.RLock()
	d, ok := e.detectors[name]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, name)
	}
	return d.Configure(raw)
}

// SetDetectorEnabled toggles the named detector.
func (e *SweepEngine) SetDetectorEnabled(name string, enabled bool) error {
	e.mu.RLock()
	d, ok := e.detectors[name]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, name)
	}
	d.SetEnabled(enabled)
	return nil
}

// DetectorNames returns registered rule names in registration order.
func (e *SweepEngine) DetectorNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, len(e.order))
	copy(names, e.order)
	return names
}

// Detector returns the named detector, or nil if unregistered.
func (e *SweepEngine) Detector(name string) Detector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.detectors[name]
}

// SetCooldown updates the alert suppression window.
func (e *SweepEngine) SetCooldown(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("cooldown must be positive, got %s", d)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.Cooldown = d
	return nil
}

// Cooldown returns the current suppression window.
func (e *SweepEngine) Cooldown() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config.Cooldown
}

// RunSweepOnce executes a single sweep: fetch recent events, run every
// enabled detector, deduplicate and persist the survivors. Returns
// ErrSweepRunning when a sweep is already in flight. Store read failures
// are returned to the caller; the loop retries on the next tick.
func (e *SweepEngine) RunSweepOnce(ctx context.Context) error {
	if !e.sweepMu.TryLock() {
		metrics.SweepsTotal.WithLabelValues("skipped").Inc()
		return ErrSweepRunning
	}
	defer e.sweepMu.Unlock()

	start := time.Now()
	err := e.sweep(ctx)
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SweepsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.SweepsTotal.WithLabelValues("ok").Inc()
	return nil
}

func (e *SweepEngine) sweep(ctx context.Context) error {
	e.mu.RLock()
	limit := e.config.FetchLimit
	names := make([]string, len(e.order))
	copy(names, e.order)
	e.mu.RUnlock()

	events, err := e.breaker.Execute(func() ([]LoginEvent, error) {
		return e.store.RecentEvents(ctx, limit)
	})
	if err != nil {
		return fmt.Errorf("fetching recent events: %w", err)
	}

	now := e.now()
	e.pruneCooldowns(now)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.mu.RLock()
		d := e.detectors[name]
		e.mu.RUnlock()
		if d == nil || !d.Enabled() {
			continue
		}

		for _, cand := range d.Sweep(ctx, events, now) {
			e.emit(ctx, cand, now)
		}
	}
	return nil
}

// pruneCooldowns drops cooldown entries old enough that they no longer
// suppress anything. Without this the map grows one entry per distinct
// rule and key for the life of the process.
func (e *SweepEngine) pruneCooldowns(now time.Time) {
	cooldown := e.Cooldown()
	e.cooldownMu.Lock()
	defer e.cooldownMu.Unlock()
	for key, last := range e.lastAlerts {
		if now.Sub(last) >= cooldown {
			delete(e.lastAlerts, key)
		}
	}
}

// emit persists a candidate unless deduplication suppresses it.
func (e *SweepEngine) emit(ctx context.Context, cand Candidate, now time.Time) {
	cooldown := e.Cooldown()
	key := cooldownKey{alertType: cand.Type, key: cand.Key}

	e.cooldownMu.Lock()
	last, seen := e.lastAlerts[key]
	e.cooldownMu.Unlock()
	if seen && now.Sub(last) < cooldown {
		metrics.AlertsSuppressed.WithLabelValues(string(cand.Type)).Inc()
		return
	}

	lastStored, ok, err := e.alerts.LastAlertTime(ctx, cand.Type, cand.Details)
	if err != nil {
		// Without the store we cannot dedup reliably; skip and let the
		// next sweep retry once the store recovers.
		logging.Error().Err(err).
			Str("alert_type", string(cand.Type)).
			Str("key", cand.Key).
			Msg("Alert dedup lookup failed, deferring candidate")
		return
	}
	if ok && now.Sub(lastStored) < cooldown {
		metrics.AlertsSuppressed.WithLabelValues(string(cand.Type)).Inc()
		e.cooldownMu.Lock()
		e.lastAlerts[key] = lastStored
		e.cooldownMu.Unlock()
		return
	}

	alert := &Alert{
		ID:        uuid.NewString(),
		Type:      cand.Type,
		Details:   cand.Details,
		CreatedAt: now,
	}
	if err := e.alerts.InsertAlert(ctx, alert); err != nil {
		logging.Error().Err(err).
			Str("alert_type", string(cand.Type)).
			Str("key", cand.Key).
			Msg("Alert persistence failed")
		return
	}

	e.cooldownMu.Lock()
	e.lastAlerts[key] = now
	e.cooldownMu.Unlock()

	metrics.AlertsEmitted.WithLabelValues(string(cand.Type)).Inc()
	logging.Warn().
		Str("alert_id", alert.ID).
		Str("alert_type", string(alert.Type)).
		Str("details", alert.Details).
		Msg("Alert emitted")

	e.mu.RLock()
	notifiers := make([]Notifier, len(e.notifiers))
	copy(notifiers, e.notifiers)
	e.mu.RUnlock()
	for _, n := range notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			logging.Error().Err(err).
				Str("alert_id", alert.ID).
				Msg("Alert notification failed")
		}
	}
}

// RunWithContext runs the periodic sweep loop until the context is
// canceled. Suitable as a suture service body: it returns ctx.Err() on
// cancellation and never exits on a sweep failure.
func (e *SweepEngine) RunWithContext(ctx context.Context) error {
	e.mu.RLock()
	interval := e.config.SweepInterval
	e.mu.RUnlock()

	logging.Info().
		Dur("interval", interval).
		Msg("Detection sweep loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Detection sweep loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := e.RunSweepOnce(ctx); err != nil {
				if errors.Is(err, ErrSweepRunning) || errors.Is(err, context.Canceled) {
					continue
				}
				logging.Error().Err(err).Msg("Detection sweep failed")
			}
		}
	}
}
