// Package health contains the pure readiness-evaluation logic for service
// probes. No I/O happens here: the shell runs the probe and feeds results in.
package health

import "time"

// =============================================================================
// Probe Results
// =============================================================================

// Result is the outcome of a single probe invocation.
type Result string

const (
	// Healthy means the probe passed.
	Healthy Result = "healthy"
	// Unhealthy means the probe ran and failed.
	Unhealthy Result = "unhealthy"
	// Unknown means the runtime could not reach the service yet. It is a
	// transient "not yet", not a failure of the service itself, but still
	// consumes retry budget so an unreachable service eventually errors.
	Unknown Result = "unknown"
)

// Decision is what the scheduler should do after observing a probe result.
type Decision string

const (
	// Pass means the service is ready.
	Pass Decision = "pass"
	// Wait means keep probing.
	Wait Decision = "wait"
	// Fail means the retry budget is exhausted.
	Fail Decision = "fail"
)

// =============================================================================
// Tracker
// =============================================================================

// Tracker accumulates probe results for one service and decides when to
// escalate. A service fails only after more than Retries consecutive
// non-healthy results outside the start period; a single healthy result
// resets the streak.
type Tracker struct {
	retries     int
	startPeriod time.Duration
	startedAt   time.Time

	consecutive int
	lastResult  Result
}

// NewTracker creates a tracker for a probe with the given retry budget and
// start period. startedAt is the moment the service process launched.
func NewTracker(retries int, startPeriod time.Duration, startedAt time.Time) *Tracker {
	if retries <= 0 {
		retries = 3
	}
	return &Tracker{
		retries:     retries,
		startPeriod: startPeriod,
		startedAt:   startedAt,
		lastResult:  Unknown,
	}
}

// Observe records one probe result taken at the given time and returns the
// scheduling decision.
func (t *Tracker) Observe(result Result, at time.Time) Decision {
	t.lastResult = result

	if result == Healthy {
		t.consecutive = 0
		return Pass
	}

	// Failures during the start period never count toward the budget.
	if t.startPeriod > 0 && at.Sub(t.startedAt) < t.startPeriod {
		return Wait
	}

	t.consecutive++
	if t.consecutive > t.retries {
		return Fail
	}
	return Wait
}

// Last returns the most recently observed result.
func (t *Tracker) Last() Result {
	return t.lastResult
}

// ConsecutiveFailures returns the current non-healthy streak.
func (t *Tracker) ConsecutiveFailures() int {
	return t.consecutive
}

// =============================================================================
// Aggregation
// =============================================================================

// Aggregate determines overall application health from per-service results.
// All healthy = Healthy; all unhealthy = Unhealthy; any mix (or any Unknown)
// = Unknown.
func Aggregate(results []Result) Result {
	if len(results) == 0 {
		return Unknown
	}

	healthy, unhealthy := 0, 0
	for _, r := range results {
		switch r {
		case Healthy:
			healthy++
		case Unhealthy:
			unhealthy++
		}
	}

	switch {
	case healthy == len(results):
		return Healthy
	case unhealthy == len(results):
		return Unhealthy
	default:
		return Unknown
	}
}

// FromRuntimeState maps a runtime container report to a probe result, for
// services whose probe is evaluated by the runtime itself.
//
// Parameters:
//   - running: whether the container process is running
//   - healthStatus: the runtime's health report ("healthy", "unhealthy",
//     "starting" or empty when no runtime-managed probe exists)
func FromRuntimeState(running bool, healthStatus string) Result {
	if !running {
		return Unhealthy
	}
	switch healthStatus {
	case "healthy", "":
		return Healthy
	case "unhealthy":
		return Unhealthy
	default:
		// "starting" or anything else: not reachable yet.
		return Unknown
	}
}
