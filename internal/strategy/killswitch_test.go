package strategy

import (
	"testing"
	"time"
)

func TestKillSwitchConsecutiveFailures(t *testing.T) {
	k := NewKillSwitch(3, 0)
	now := time.Now().UTC()

	if k.RecordFailure(now) {
		t.Fatalf("should not trip on first failure")
	}
	k.RecordSuccess()
	if k.RecordFailure(now) || k.RecordFailure(now) {
		t.Fatalf("streak was reset, should not trip yet")
	}
	if !k.RecordFailure(now) {
		t.Fatalf("third consecutive failure should trip")
	}
	tripped, reason := k.Tripped()
	if !tripped || reason == "" {
		t.Fatalf("expected tripped with reason, got %v %q", tripped, reason)
	}
	if k.RecordFailure(now) {
		t.Fatalf("already tripped, should not report a new trip")
	}
}

func TestKillSwitchHourlyRate(t *testing.T) {
	k := NewKillSwitch(0, 3)
	base := time.Now().UTC()

	k.RecordFailure(base)
	k.RecordSuccess()
	k.RecordFailure(base.Add(10 * time.Minute))
	k.RecordSuccess()
	if tripped, _ := k.Tripped(); tripped {
		t.Fatalf("two failures in the hour should not trip")
	}
	if !k.RecordFailure(base.Add(20 * time.Minute)) {
		t.Fatalf("third failure within the hour should trip")
	}
}

func TestKillSwitchHourlyWindowSlides(t *testing.T) {
	k := NewKillSwitch(0, 3)
	base := time.Now().UTC()

	k.RecordFailure(base)
	k.RecordSuccess()
	k.RecordFailure(base.Add(5 * time.Minute))
	k.RecordSuccess()
	// The first two failures are outside the window by now.
	if k.RecordFailure(base.Add(2 * time.Hour)) {
		t.Fatalf("stale failures must not count toward the hourly limit")
	}
}

func TestKillSwitchReset(t *testing.T) {
	k := NewKillSwitch(1, 0)
	if !k.RecordFailure(time.Now().UTC()) {
		t.Fatalf("single failure should trip")
	}
	k.Reset()
	if tripped, _ := k.Tripped(); tripped {
		t.Fatalf("reset should re-arm the switch")
	}
}
