package ratelimit

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestLimiter_Burst(t *testing.T) {
	l := New(rate.Every(time.Hour), 3)
	defer l.Stop()

	for i := range 3 {
		if !l.Allow("a") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("a") {
		t.Error("request beyond burst should be denied")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := Every(time.Hour, 1)
	defer l.Stop()

	if !l.Allow("a") {
		t.Fatal("first request for a should be allowed")
	}
	if !l.Allow("b") {
		t.Error("first request for b should be allowed")
	}
	if l.Allow("a") {
		t.Error("second request for a should be denied")
	}
	if got := l.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestLimiter_Prune(t *testing.T) {
	l := Every(time.Hour, 1)
	defer l.Stop()

	l.Allow("old")
	l.Allow("new")

	l.mu.Lock()
	l.visitors["old"].lastSeen = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	l.prune(time.Now())

	if got := l.Len(); got != 1 {
		t.Fatalf("Len() after prune = %d, want 1", got)
	}
	// A pruned key starts with a fresh bucket.
	if !l.Allow("old") {
		t.Error("pruned key should be allowed again")
	}
}

func TestLimiter_StopIsIdempotent(t *testing.T) {
	l := Every(time.Second, 1)
	l.Stop()
	l.Stop()
	if !l.Allow("a") {
		t.Error("Allow should work after Stop")
	}
}
