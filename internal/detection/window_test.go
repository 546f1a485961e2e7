// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func makeEvent(ip, user string, status LoginStatus, fp, ua string, ts time.Time) *LoginEvent {
	return &LoginEvent{
		ID:          "ev-" + ip + "-" + user,
		Username:    user,
		SourceIP:    ip,
		Status:      status,
		Fingerprint: fp,
		UserAgent:   ua,
		Timestamp:   ts,
	}
}

func TestWindowCacheAggregates(t *testing.T) {
	cache := NewWindowCache(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cache.Update(makeEvent("10.0.0.1", "alice", StatusFailWrongPassword, "fp1", "curl", now.Add(-time.Minute)), now)
	cache.Update(makeEvent("10.0.0.1", "bob", StatusFailNoUser, "fp1", "curl", now.Add(-30*time.Second)), now)
	cache.Update(makeEvent("10.0.0.1", "alice", StatusSuccess, "fp2", "firefox", now), now)

	snap := cache.Snapshot("10.0.0.1", now)
	if snap.Total != 3 {
		t.Fatalf("Total = %d, want 3", snap.Total)
	}
	if snap.Failures != 2 || snap.Successes != 1 {
		t.Errorf("Failures/Successes = %d/%d, want 2/1", snap.Failures, snap.Successes)
	}
	if snap.UniqueUsers != 2 {
		t.Errorf("UniqueUsers = %d, want 2", snap.UniqueUsers)
	}
	if snap.UserAgents != 2 {
		t.Errorf("UserAgents = %d, want 2", snap.UserAgents)
	}
	if snap.MaxFingerprintReuse != 2 {
		t.Errorf("MaxFingerprintReuse = %d, want 2", snap.MaxFingerprintReuse)
	}
	if len(snap.Timestamps) != 3 {
		t.Fatalf("len(Timestamps) = %d, want 3", len(snap.Timestamps))
	}
	for i := 1; i < len(snap.Timestamps); i++ {
		if snap.Timestamps[i].Before(snap.Timestamps[i-1]) {
			t.Errorf("Timestamps not sorted ascending at %d", i)
		}
	}
}

func TestWindowCacheEvictionOnUpdate(t *testing.T) {
	cache := NewWindowCache(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Two observations that will age out, from a user and fingerprint
	// not seen again.
	cache.Update(makeEvent("10.0.0.1", "old-user", StatusFail, "old-fp", "old-ua", now.Add(-2*time.Hour)), now.Add(-2*time.Hour))
	cache.Update(makeEvent("10.0.0.1", "old-user", StatusFail, "old-fp", "old-ua", now.Add(-90*time.Minute)), now.Add(-90*time.Minute))

	// A fresh observation; the update itself must evict the stale ones.
	cache.Update(makeEvent("10.0.0.1", "alice", StatusSuccess, "fp", "ua", now), now)

	snap := cache.Snapshot("10.0.0.1", now)
	if snap.Total != 1 {
		t.Fatalf("Total = %d after eviction, want 1", snap.Total)
	}
	if snap.Failures != 0 {
		t.Errorf("Failures = %d, want 0: counters must shrink with eviction", snap.Failures)
	}
	if snap.UniqueUsers != 1 {
		t.Errorf("UniqueUsers = %d, want 1: old-user must be forgotten", snap.UniqueUsers)
	}
	if snap.MaxFingerprintReuse != 1 {
		t.Errorf("MaxFingerprintReuse = %d, want 1", snap.MaxFingerprintReuse)
	}
}

func TestWindowCacheSnapshotUnknownIP(t *testing.T) {
	cache := NewWindowCache(time.Hour)
	snap := cache.Snapshot("192.0.2.9", time.Now())
	if snap.Total != 0 {
		t.Errorf("Total = %d for unknown IP, want 0", snap.Total)
	}
	if cache.Len() != 0 {
		t.Errorf("Len = %d, want 0: snapshot must not create entries", cache.Len())
	}
}

func TestWindowCacheSetHorizon(t *testing.T) {
	cache := NewWindowCache(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cache.Update(makeEvent("10.0.0.1", "alice", StatusFail, "", "", now.Add(-30*time.Minute)), now)
	cache.Update(makeEvent("10.0.0.1", "alice", StatusFail, "", "", now), now)
	if snap := cache.Snapshot("10.0.0.1", now); snap.Total != 2 {
		t.Fatalf("Total = %d before shrink, want 2", snap.Total)
	}

	if err := cache.SetHorizon(0); err == nil {
		t.Error("SetHorizon accepted a non-positive duration")
	}
	if err := cache.SetHorizon(10 * time.Minute); err != nil {
		t.Fatalf("SetHorizon: %v", err)
	}
	if got := cache.Horizon(); got != 10*time.Minute {
		t.Errorf("Horizon = %s, want 10m", got)
	}

	// The shorter horizon applies to existing entries on the next
	// snapshot; the 30-minute-old observation ages out.
	if snap := cache.Snapshot("10.0.0.1", now); snap.Total != 1 {
		t.Errorf("Total = %d after shrink, want 1", snap.Total)
	}
}

func TestWindowCacheUpdateAfterRemove(t *testing.T) {
	cache := NewWindowCache(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cache.Update(makeEvent("10.0.0.1", "alice", StatusFail, "", "", now), now)
	stale := cache.state("10.0.0.1")
	cache.Remove("10.0.0.1")

	stale.mu.Lock()
	removed := stale.removed
	stale.mu.Unlock()
	if !removed {
		t.Fatal("Remove must mark the detached state so in-flight updates retry")
	}

	cache.Update(makeEvent("10.0.0.1", "bob", StatusFail, "", "", now), now)
	if snap := cache.Snapshot("10.0.0.1", now); snap.Total != 1 {
		t.Fatalf("Total = %d after re-update, want 1", snap.Total)
	}

	// The observation must land in the live entry, never the orphan.
	stale.mu.Lock()
	orphaned := len(stale.observations)
	stale.mu.Unlock()
	if orphaned != 1 {
		t.Errorf("detached state holds %d observations, want its original 1", orphaned)
	}
}

func TestWindowCacheConcurrentUpdateAndRemove(t *testing.T) {
	cache := NewWindowCache(time.Hour)
	now := time.Now()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			cache.Update(makeEvent("10.0.0.1", "alice", StatusFail, "", "", now), now)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			cache.Remove("10.0.0.1")
		}
	}()
	wg.Wait()

	// Whatever the interleaving, the last update must be observable:
	// one more update and the snapshot cannot be empty.
	cache.Update(makeEvent("10.0.0.1", "alice", StatusFail, "", "", now), now)
	if snap := cache.Snapshot("10.0.0.1", now); snap.Total < 1 {
		t.Errorf("Total = %d, want at least 1", snap.Total)
	}
}

func TestWindowCacheKeyIsolation(t *testing.T) {
	cache := NewWindowCache(time.Hour)
	now := time.Now()

	cache.Update(makeEvent("10.0.0.1", "alice", StatusFail, "", "", now), now)
	cache.Update(makeEvent("10.0.0.2", "bob", StatusSuccess, "", "", now), now)

	a := cache.Snapshot("10.0.0.1", now)
	b := cache.Snapshot("10.0.0.2", now)
	if a.Failures != 1 || a.Successes != 0 {
		t.Errorf("10.0.0.1 = %d/%d, want 1/0", a.Failures, a.Successes)
	}
	if b.Failures != 0 || b.Successes != 1 {
		t.Errorf("10.0.0.2 = %d/%d, want 0/1", b.Failures, b.Successes)
	}
}

func TestWindowCacheRemoveAndPurge(t *testing.T) {
	cache := NewWindowCache(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cache.Update(makeEvent("10.0.0.1", "alice", StatusFail, "", "", now.Add(-2*time.Hour)), now.Add(-2*time.Hour))
	cache.Update(makeEvent("10.0.0.2", "bob", StatusFail, "", "", now), now)

	cache.Remove("10.0.0.2")
	if cache.Len() != 1 {
		t.Fatalf("Len = %d after Remove, want 1", cache.Len())
	}

	// 10.0.0.1 is stale: its only observation and its last touch are
	// both beyond the horizon.
	removed := cache.Purge(now)
	if removed != 1 {
		t.Errorf("Purge removed %d, want 1", removed)
	}
	if cache.Len() != 0 {
		t.Errorf("Len = %d after Purge, want 0", cache.Len())
	}
}

func TestWindowCachePurgeKeepsLiveEntries(t *testing.T) {
	cache := NewWindowCache(time.Hour)
	now := time.Now()

	cache.Update(makeEvent("10.0.0.1", "alice", StatusFail, "", "", now), now)
	if removed := cache.Purge(now); removed != 0 {
		t.Errorf("Purge removed %d live entries, want 0", removed)
	}
	if cache.Len() != 1 {
		t.Errorf("Len = %d, want 1", cache.Len())
	}
}

func TestWindowCacheConcurrentUpdates(t *testing.T) {
	cache := NewWindowCache(time.Hour)
	now := time.Now()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			ip := fmt.Sprintf("10.0.0.%d", g%2)
			for i := 0; i < 100; i++ {
				cache.Update(makeEvent(ip, fmt.Sprintf("user-%d", g), StatusFail, "", "", now), now)
			}
		}(g)
	}
	wg.Wait()

	total := cache.Snapshot("10.0.0.0", now).Total + cache.Snapshot("10.0.0.1", now).Total
	if total != 800 {
		t.Errorf("combined Total = %d, want 800", total)
	}
}
