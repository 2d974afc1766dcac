package strategy

import (
	"sync"
	"time"
)

// KillSwitch halts new entries after repeated execution failures, either
// a run of consecutive failures or too many failures within the last
// hour. Exits and unwinds are never blocked by it; reducing exposure is
// always allowed.
type KillSwitch struct {
	mu                  sync.Mutex
	maxConsecutive      int
	maxPerHour          int
	consecutiveFailures int
	failureTimes        []time.Time
	tripped             bool
	trippedAt           time.Time
	reason              string
}

func NewKillSwitch(maxConsecutive, maxPerHour int) *KillSwitch {
	return &KillSwitch{
		maxConsecutive: maxConsecutive,
		maxPerHour:     maxPerHour,
	}
}

func (k *KillSwitch) RecordSuccess() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.consecutiveFailures = 0
}

// RecordFailure registers one failed execution attempt and returns true
// when this failure trips the switch.
func (k *KillSwitch) RecordFailure(now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.consecutiveFailures++
	k.failureTimes = append(k.failureTimes, now)
	k.pruneLocked(now)

	if k.tripped {
		return false
	}
	if k.maxConsecutive > 0 && k.consecutiveFailures >= k.maxConsecutive {
		k.tripped = true
		k.trippedAt = now
		k.reason = "consecutive execution failures"
		return true
	}
	if k.maxPerHour > 0 && len(k.failureTimes) >= k.maxPerHour {
		k.tripped = true
		k.trippedAt = now
		k.reason = "execution failure rate over the last hour"
		return true
	}
	return false
}

func (k *KillSwitch) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	idx := 0
	for idx < len(k.failureTimes) && k.failureTimes[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		k.failureTimes = append(k.failureTimes[:0], k.failureTimes[idx:]...)
	}
}

func (k *KillSwitch) Tripped() (bool, string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tripped, k.reason
}

// Reset re-arms the switch. Operator action only, never automatic.
func (k *KillSwitch) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tripped = false
	k.reason = ""
	k.consecutiveFailures = 0
	k.failureTimes = nil
}
