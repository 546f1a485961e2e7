// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/vigil/internal/metrics"
)

// observation is one retained login attempt inside a window.
type observation struct {
	username    string
	fingerprint string
	userAgent   string
	failure     bool
	timestamp   time.Time
}

// windowState holds the rolling aggregates for one source IP.
//
// Invariant: every retained observation is within the horizon of the last
// update, and every counter below is derivable from the retained
// observations alone. Eviction decrements what insertion incremented, so
// counts never leak beyond the horizon.
type windowState struct {
	mu sync.Mutex

	// removed is set under mu when Remove or Purge deletes this entry
	// from the cache map. A caller that locked a stale pointer must not
	// record into it.
	removed bool

	observations []observation
	users        map[string]int
	fingerprints map[string]int
	userAgents   map[string]int
	failures     int
	successes    int
	lastTouched  time.Time
}

func newWindowState() *windowState {
	return &windowState{
		users:        make(map[string]int),
		fingerprints: make(map[string]int),
		userAgents:   make(map[string]int),
	}
}

// evictLocked drops observations older than the horizon. Observations are
// appended in arrival order, so a front scan suffices.
func (w *windowState) evictLocked(cutoff time.Time) {
	i := 0
	for ; i < len(w.observations); i++ {
		if !w.observations[i].timestamp.Before(cutoff) {
			break
		}
		ob := w.observations[i]
		decr(w.users, ob.username)
		if ob.fingerprint != "" {
			decr(w.fingerprints, ob.fingerprint)
		}
		if ob.userAgent != "" {
			decr(w.userAgents, ob.userAgent)
		}
		if ob.failure {
			w.failures--
		} else {
			w.successes--
		}
	}
	if i > 0 {
		w.observations = append(w.observations[:0], w.observations[i:]...)
	}
}

func decr(m map[string]int, key string) {
	if m[key] <= 1 {
		delete(m, key)
		return
	}
	m[key]--
}

// Snapshot is a read-only view of one source IP's window, taken after
// eviction. Timestamps are sorted ascending so downstream consumers see
// the same order regardless of arrival interleaving.
type Snapshot struct {
	SourceIP            string
	Total               int
	Failures            int
	Successes           int
	UniqueUsers         int
	UserAgents          int
	MaxFingerprintReuse int
	Timestamps          []time.Time
}

// WindowCache tracks per-source-IP window state. Entries are created
// lazily on first update and removed by Remove or Purge. Operations on a
// single key are linearizable; operations on distinct keys proceed
// independently.
type WindowCache struct {
	mu      sync.RWMutex
	entries map[string]*windowState
	horizon time.Duration
}

// NewWindowCache creates a cache with the given retention horizon.
func NewWindowCache(horizon time.Duration) *WindowCache {
	return &WindowCache{
		entries: make(map[string]*windowState),
		horizon: horizon,
	}
}

// Horizon returns the retention horizon.
func (c *WindowCache) Horizon() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.horizon
}

// SetHorizon updates the retention horizon at runtime. Existing entries
// converge on their next update, snapshot, or purge, which all evict
// against the current value.
func (c *WindowCache) SetHorizon(horizon time.Duration) error {
	if horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %s", horizon)
	}
	c.mu.Lock()
	c.horizon = horizon
	c.mu.Unlock()
	return nil
}

// Update records one login attempt for its source IP and evicts anything
// older than the horizon. Eviction runs on every update; there is no
// separate janitor for live entries.
func (c *WindowCache) Update(ev *LoginEvent, now time.Time) {
	for {
		state := c.state(ev.SourceIP)
		horizon := c.Horizon()

		state.mu.Lock()
		if state.removed {
			// Remove or Purge deleted this entry between lookup and
			// lock. Recording here would lose the observation; retry
			// against a fresh entry.
			state.mu.Unlock()
			continue
		}

		state.evictLocked(now.Add(-horizon))

		ob := observation{
			username:    ev.Username,
			fingerprint: ev.Fingerprint,
			userAgent:   ev.UserAgent,
			failure:     ev.Status.IsFailure(),
			timestamp:   ev.Timestamp,
		}
		state.observations = append(state.observations, ob)
		state.users[ob.username]++
		if ob.fingerprint != "" {
			state.fingerprints[ob.fingerprint]++
		}
		if ob.userAgent != "" {
			state.userAgents[ob.userAgent]++
		}
		if ob.failure {
			state.failures++
		} else {
			state.successes++
		}
		state.lastTouched = now
		state.mu.Unlock()
		return
	}
}

// Snapshot evicts and returns the current view for ip. An untracked IP
// yields the zero-total snapshot.
func (c *WindowCache) Snapshot(ip string, now time.Time) Snapshot {
	c.mu.RLock()
	state, ok := c.entries[ip]
	horizon := c.horizon
	c.mu.RUnlock()
	if !ok {
		return Snapshot{SourceIP: ip}
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.removed {
		return Snapshot{SourceIP: ip}
	}

	state.evictLocked(now.Add(-horizon))

	snap := Snapshot{
		SourceIP:    ip,
		Total:       len(state.observations),
		Failures:    state.failures,
		Successes:   state.successes,
		UniqueUsers: len(state.users),
		UserAgents:  len(state.userAgents),
		Timestamps:  make([]time.Time, 0, len(state.observations)),
	}
	for _, ob := range state.observations {
		snap.Timestamps = append(snap.Timestamps, ob.timestamp)
	}
	sort.Slice(snap.Timestamps, func(i, j int) bool {
		return snap.Timestamps[i].Before(snap.Timestamps[j])
	})
	for _, n := range state.fingerprints {
		if n > snap.MaxFingerprintReuse {
			snap.MaxFingerprintReuse = n
		}
	}
	return snap
}

// Remove drops the state for one source IP.
func (c *WindowCache) Remove(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.entries[ip]
	if !ok {
		return
	}
	state.mu.Lock()
	state.removed = true
	state.mu.Unlock()
	delete(c.entries, ip)
	metrics.WindowCacheEntries.Set(float64(len(c.entries)))
}

// Purge drops entries whose every observation has aged out and that have
// not been touched within the horizon. Returns the number removed.
func (c *WindowCache) Purge(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.horizon)
	removed := 0
	for ip, state := range c.entries {
		state.mu.Lock()
		state.evictLocked(cutoff)
		empty := len(state.observations) == 0 && state.lastTouched.Before(cutoff)
		if empty {
			state.removed = true
		}
		state.mu.Unlock()
		if empty {
			delete(c.entries, ip)
			removed++
		}
	}
	metrics.WindowCacheEntries.Set(float64(len(c.entries)))
	return removed
}

// Len returns the number of tracked source IPs.
func (c *WindowCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// state returns the window state for ip, creating it if needed.
func (c *WindowCache) state(ip string) *windowState {
	c.mu.RLock()
	state, ok := c.entries[ip]
	c.mu.RUnlock()
	if ok {
		return state
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok = c.entries[ip]; ok {
		return state
	}
	state = newWindowState()
	c.entries[ip] = state
	metrics.WindowCacheEntries.Set(float64(len(c.entries)))
	return state
}
