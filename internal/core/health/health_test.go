package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Tracker Tests
// =============================================================================

func TestTracker_HealthyPassesImmediately(t *testing.T) {
	tracker := NewTracker(3, 0, time.Now())
	assert.Equal(t, Pass, tracker.Observe(Healthy, time.Now()))
	assert.Equal(t, Healthy, tracker.Last())
}

func TestTracker_FailsAfterRetriesExhausted(t *testing.T) {
	started := time.Now()
	tracker := NewTracker(3, 0, started)

	// The budget allows retries consecutive failures; one more fails.
	for i := 0; i < 3; i++ {
		assert.Equal(t, Wait, tracker.Observe(Unhealthy, started.Add(time.Duration(i)*time.Second)))
	}
	assert.Equal(t, Fail, tracker.Observe(Unhealthy, started.Add(4*time.Second)))
	assert.Equal(t, 4, tracker.ConsecutiveFailures())
}

func TestTracker_HealthyResetsStreak(t *testing.T) {
	started := time.Now()
	tracker := NewTracker(2, 0, started)

	tracker.Observe(Unhealthy, started)
	tracker.Observe(Unhealthy, started.Add(time.Second))
	assert.Equal(t, Pass, tracker.Observe(Healthy, started.Add(2*time.Second)))
	assert.Equal(t, 0, tracker.ConsecutiveFailures())

	// The budget is fresh again.
	assert.Equal(t, Wait, tracker.Observe(Unhealthy, started.Add(3*time.Second)))
}

func TestTracker_StartPeriodDoesNotConsumeBudget(t *testing.T) {
	started := time.Now()
	tracker := NewTracker(1, 10*time.Second, started)

	for i := 0; i < 5; i++ {
		assert.Equal(t, Wait, tracker.Observe(Unhealthy, started.Add(time.Duration(i)*time.Second)))
	}
	assert.Equal(t, 0, tracker.ConsecutiveFailures())

	// Outside the start period failures count again.
	assert.Equal(t, Wait, tracker.Observe(Unhealthy, started.Add(11*time.Second)))
	assert.Equal(t, Fail, tracker.Observe(Unhealthy, started.Add(12*time.Second)))
}

func TestTracker_UnknownConsumesBudget(t *testing.T) {
	started := time.Now()
	tracker := NewTracker(1, 0, started)

	assert.Equal(t, Wait, tracker.Observe(Unknown, started))
	assert.Equal(t, Fail, tracker.Observe(Unknown, started.Add(time.Second)))
}

func TestTracker_NonPositiveRetriesGetsDefault(t *testing.T) {
	started := time.Now()
	tracker := NewTracker(0, 0, started)

	for i := 0; i < 3; i++ {
		assert.Equal(t, Wait, tracker.Observe(Unhealthy, started.Add(time.Duration(i)*time.Second)))
	}
	assert.Equal(t, Fail, tracker.Observe(Unhealthy, started.Add(4*time.Second)))
}

// =============================================================================
// Aggregation Tests
// =============================================================================

func TestAggregate(t *testing.T) {
	assert.Equal(t, Unknown, Aggregate(nil))
	assert.Equal(t, Healthy, Aggregate([]Result{Healthy, Healthy}))
	assert.Equal(t, Unhealthy, Aggregate([]Result{Unhealthy, Unhealthy}))
	assert.Equal(t, Unknown, Aggregate([]Result{Healthy, Unhealthy}))
	assert.Equal(t, Unknown, Aggregate([]Result{Healthy, Unknown}))
}

// =============================================================================
// Runtime State Mapping Tests
// =============================================================================

func TestFromRuntimeState(t *testing.T) {
	assert.Equal(t, Unhealthy, FromRuntimeState(false, ""))
	assert.Equal(t, Healthy, FromRuntimeState(true, ""))
	assert.Equal(t, Healthy, FromRuntimeState(true, "healthy"))
	assert.Equal(t, Unhealthy, FromRuntimeState(true, "unhealthy"))
	assert.Equal(t, Unknown, FromRuntimeState(true, "starting"))
}
