// Package ranker holds the two pure priority functions the scheduler
// policies call during candidate generation. Neither ranker touches I/O
// or global state; both take every input as a parameter so they stay
// trivially testable.
package ranker

import (
	"math"
	"time"
)

// ExternallyInjectedPriority is reserved for tasks pushed directly (e.g. via
// the control API), never produced by a ranker.
const ExternallyInjectedPriority = 0

// NeverRunPriority is assigned when a boefje has never run against this
// input.
const NeverRunPriority = 2

// maxDecayDays bounds the exponential decay window used by Boefje. Past
// this many days since the last run, priority floors at 3.
const maxDecayDays = 7

// Boefje computes the priority for a (boefje, ooi) candidate whose last run
// ended at lastRunEnd (hasRun false means "never run"; lastRunEnd is then
// ignored), given maxSize (the
// queue's bound, 0 meaning unbounded — treated as a large constant for the
// decay curve) and gracePeriod. Returns -1 when the candidate is still
// within its grace period (ineligible).
//
// delta = now - lastRunEnd - gracePeriod. If delta < 0, the run is still too
// recent: return -1. Otherwise score decays exponentially from maxSize
// towards a floor of 2 + maxSize/1000 as delta approaches the decay window,
// floored at 3 beyond that window.
func Boefje(now time.Time, lastRunEnd time.Time, hasRun bool, maxSize int, gracePeriod time.Duration) int {
	if !hasRun {
		return NeverRunPriority
	}

	delta := now.Sub(lastRunEnd) - gracePeriod
	if delta < 0 {
		return -1
	}

	effectiveMax := maxSize
	if effectiveMax <= 0 {
		effectiveMax = 1000
	}

	maxDecaySeconds := float64(maxDecayDays * 24 * time.Hour / time.Second)
	if delta.Seconds() >= maxDecaySeconds {
		return 3
	}

	decayRate := math.Log(1000) / maxDecaySeconds
	score := float64(effectiveMax)*math.Exp(-decayRate*delta.Seconds()) + 2
	return int(math.Floor(score))
}

// Normalizer ranks purely by arrival time: FIFO over raw-data arrival.
func Normalizer(now time.Time) int {
	return int(now.Unix())
}
