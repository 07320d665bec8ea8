package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/artpar/convoy/internal/core/compose"
	"github.com/artpar/convoy/internal/core/health"
	"github.com/artpar/convoy/internal/core/plan"
	"github.com/artpar/convoy/internal/shell/docker"
)

func probedInstance(t *testing.T, runtime *fakeRuntime, test []string) *ServiceInstance {
	t.Helper()
	inst := newServiceInstance(
		compose.Service{Name: "db"},
		plan.ContainerPlan{
			Service: "db",
			Labels:  map[string]string{plan.LabelService: "db"},
			HealthCheck: &plan.HealthCheckPlan{
				Test:    test,
				Timeout: 50 * time.Millisecond,
			},
		},
	)
	id, err := runtime.CreateContainer(context.Background(), docker.ContainerSpec{
		Name:   "convoy_test_db",
		Labels: map[string]string{plan.LabelService: "db"},
	})
	assert.NoError(t, err)
	assert.NoError(t, runtime.StartContainer(context.Background(), id))
	inst.setStarting(id)
	return inst
}

func TestGate_NoContainerIsUnknown(t *testing.T) {
	gate := NewHealthGate(newEngineFake(), nil)
	inst := newServiceInstance(compose.Service{Name: "db"}, plan.ContainerPlan{Service: "db"})

	result := gate.Probe(context.Background(), inst, 50*time.Millisecond)
	assert.Equal(t, health.Unknown, result)
}

func TestGate_MissingContainerIsUnhealthy(t *testing.T) {
	gate := NewHealthGate(newEngineFake(), nil)
	inst := newServiceInstance(compose.Service{Name: "db"}, plan.ContainerPlan{Service: "db"})
	inst.setStarting("ctr-gone")

	result := gate.Probe(context.Background(), inst, 50*time.Millisecond)
	assert.Equal(t, health.Unhealthy, result)
}

func TestGate_StoppedContainerIsUnhealthy(t *testing.T) {
	runtime := newEngineFake()
	gate := NewHealthGate(runtime, nil)
	inst := probedInstance(t, runtime, []string{"CMD", "probe"})
	assert.NoError(t, runtime.StopContainer(context.Background(), inst.ContainerID(), nil))

	result := gate.Probe(context.Background(), inst, 50*time.Millisecond)
	assert.Equal(t, health.Unhealthy, result)
}

func TestGate_ExecZeroIsHealthy(t *testing.T) {
	runtime := newEngineFake()
	gate := NewHealthGate(runtime, nil)
	inst := probedInstance(t, runtime, []string{"CMD", "pg_isready"})

	result := gate.Probe(context.Background(), inst, 50*time.Millisecond)
	assert.Equal(t, health.Healthy, result)
}

func TestGate_ExecNonZeroIsUnhealthy(t *testing.T) {
	runtime := newEngineFake()
	runtime.execExits["db"] = 1
	gate := NewHealthGate(runtime, nil)
	inst := probedInstance(t, runtime, []string{"CMD", "pg_isready"})

	result := gate.Probe(context.Background(), inst, 50*time.Millisecond)
	assert.Equal(t, health.Unhealthy, result)
}

func TestGate_NonExecTestFallsBackToRuntimeHealth(t *testing.T) {
	runtime := newEngineFake()
	gate := NewHealthGate(runtime, nil)
	inst := probedInstance(t, runtime, nil)

	runtime.mu.Lock()
	runtime.containers[inst.ContainerID()].info.Health = "healthy"
	runtime.mu.Unlock()

	result := gate.Probe(context.Background(), inst, 50*time.Millisecond)
	assert.Equal(t, health.Healthy, result)
}

func TestProbeCommand(t *testing.T) {
	tests := []struct {
		name string
		hc   *plan.HealthCheckPlan
		want []string
	}{
		{"nil healthcheck", nil, nil},
		{"empty test", &plan.HealthCheckPlan{}, nil},
		{"cmd", &plan.HealthCheckPlan{Test: []string{"CMD", "pg_isready", "-q"}}, []string{"pg_isready", "-q"}},
		{"cmd shell", &plan.HealthCheckPlan{Test: []string{"CMD-SHELL", "curl -f localhost"}}, []string{"/bin/sh", "-c", "curl -f localhost"}},
		{"bare cmd keyword", &plan.HealthCheckPlan{Test: []string{"CMD"}}, nil},
		{"none form", &plan.HealthCheckPlan{Test: []string{"NONE"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, probeCommand(tt.hc))
		})
	}
}
