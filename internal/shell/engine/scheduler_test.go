package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldRestart(t *testing.T) {
	tests := []struct {
		name        string
		policy      string
		exitCode    int
		restarts    int
		maxAttempts int
		want        bool
	}{
		{"always restarts on clean exit", "always", 0, 10, 3, true},
		{"always restarts on failure", "always", 1, 10, 3, true},
		{"unless-stopped restarts", "unless-stopped", 137, 5, 3, true},
		{"on-failure skips clean exit", "on-failure", 0, 0, 3, false},
		{"on-failure restarts within budget", "on-failure", 1, 2, 3, true},
		{"on-failure stops at budget", "on-failure", 1, 3, 3, false},
		{"no never restarts", "no", 1, 0, 3, false},
		{"empty policy never restarts", "", 1, 0, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shouldRestart(tt.policy, tt.exitCode, tt.restarts, tt.maxAttempts)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRestartBackoff(t *testing.T) {
	base := time.Second
	limit := time.Minute

	assert.Equal(t, time.Second, restartBackoff(0, base, limit))
	assert.Equal(t, 2*time.Second, restartBackoff(1, base, limit))
	assert.Equal(t, 4*time.Second, restartBackoff(2, base, limit))
	assert.Equal(t, 32*time.Second, restartBackoff(5, base, limit))
	assert.Equal(t, time.Minute, restartBackoff(6, base, limit))
	assert.Equal(t, time.Minute, restartBackoff(50, base, limit))
}

func TestDefaultsWithFallbacks(t *testing.T) {
	d := Defaults{}.withFallbacks()
	assert.Equal(t, 5*time.Second, d.ProbeInterval)
	assert.Equal(t, 5*time.Second, d.ProbeTimeout)
	assert.Equal(t, 3, d.ProbeRetries)
	assert.Equal(t, 10*time.Second, d.StopGrace)
	assert.Equal(t, time.Second, d.RestartBackoffBase)
	assert.Equal(t, time.Minute, d.RestartBackoffCap)
	assert.Equal(t, 3, d.MaxRestartAttempts)

	custom := Defaults{ProbeInterval: time.Millisecond, ProbeRetries: 7}.withFallbacks()
	assert.Equal(t, time.Millisecond, custom.ProbeInterval)
	assert.Equal(t, 7, custom.ProbeRetries)
	assert.Equal(t, 10*time.Second, custom.StopGrace)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef0123"))
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "", shortID(""))
}

func TestSkippedDetection(t *testing.T) {
	inst := newServiceInstance(probedService("api"), planFor("api"))
	assert.False(t, inst.Skipped())

	inst.fail(&DependencyError{Service: "api", Dependency: "db"})
	assert.True(t, inst.Skipped())

	other := newServiceInstance(probedService("db"), planFor("db"))
	other.fail(&HealthTimeoutError{Service: "db", Retries: 3})
	assert.False(t, other.Skipped())
}

func TestMarkDownPreservesErroredState(t *testing.T) {
	inst := newServiceInstance(probedService("db"), planFor("db"))
	inst.fail(&HealthTimeoutError{Service: "db", Retries: 3})
	inst.markDown()

	assert.Equal(t, StateErrored, inst.State())
	select {
	case <-inst.stopped:
	default:
		t.Fatal("stopped channel not closed")
	}

	running := newServiceInstance(probedService("api"), planFor("api"))
	running.ackStarted(false)
	running.markDown()
	assert.Equal(t, StateStopped, running.State())
}
