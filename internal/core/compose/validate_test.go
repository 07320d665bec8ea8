package compose

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Validation Tests
// =============================================================================

func validProject() *Project {
	return &Project{
		Name: "test",
		Services: []Service{
			{Name: "db", Image: "postgres:15"},
			{Name: "web", Image: "nginx:latest", DependsOn: []Dependency{
				{Service: "db", Condition: ConditionStarted},
			}},
		},
	}
}

func TestValidate_ValidProject(t *testing.T) {
	require.NoError(t, Validate(validProject()))
}

func TestValidate_NoServices(t *testing.T) {
	err := Validate(&Project{Name: "test"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoServices)
}

func TestValidate_UnknownDependency(t *testing.T) {
	p := validProject()
	p.Services[1].DependsOn = []Dependency{{Service: "ghost", Condition: ConditionStarted}}

	err := Validate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDependency)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "services.web.depends_on", validationErr.Field)
}

func TestValidate_InvalidCondition(t *testing.T) {
	p := validProject()
	p.Services[1].DependsOn = []Dependency{{Service: "db", Condition: "service_completed_successfully"}}

	err := Validate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCondition)
}

func TestValidate_PortOutOfRange(t *testing.T) {
	p := validProject()
	p.Services[0].Ports = []Port{{Target: 0}}

	err := Validate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceInvalidPort)
}

func TestValidate_PublishedPortOutOfRange(t *testing.T) {
	p := validProject()
	p.Services[0].Ports = []Port{{Target: 80, Published: 70000}}

	err := Validate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceInvalidPort)
}

func TestValidate_UnknownNetwork(t *testing.T) {
	p := validProject()
	p.Services[0].Networks = []string{"backend"}

	err := Validate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownServiceNetwork)
}

func TestValidate_DefaultNetworkAlwaysKnown(t *testing.T) {
	p := validProject()
	p.Services[0].Networks = []string{"default"}
	require.NoError(t, Validate(p))
}

func TestValidate_UnknownVolume(t *testing.T) {
	p := validProject()
	p.Services[0].Volumes = []VolumeMount{
		{Type: VolumeMountTypeVolume, Source: "data", Target: "/data"},
	}

	err := Validate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownServiceVolume)
}

func TestValidate_BindMountNeedsNoDeclaration(t *testing.T) {
	p := validProject()
	p.Services[0].Volumes = []VolumeMount{
		{Type: VolumeMountTypeBind, Source: "./conf", Target: "/etc/conf"},
	}
	require.NoError(t, Validate(p))
}

func TestValidate_NegativeResources(t *testing.T) {
	p := validProject()
	p.Services[0].Resources.CPULimit = -1

	err := Validate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCPU)
}

func TestValidate_HealthCheckWithoutTest(t *testing.T) {
	p := validProject()
	p.Services[0].HealthCheck = &HealthCheck{}

	err := Validate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidHealthCheck)
}

func TestValidate_HealthCheckUnknownTestForm(t *testing.T) {
	p := validProject()
	p.Services[0].HealthCheck = &HealthCheck{Test: []string{"EXEC", "true"}}

	err := Validate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidHealthCheck)
}

func TestValidate_HealthCheckBadDuration(t *testing.T) {
	p := validProject()
	p.Services[0].HealthCheck = &HealthCheck{
		Test:     []string{"CMD", "true"},
		Interval: "soon",
	}

	err := Validate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidHealthCheck)
}

// =============================================================================
// Probe Accessor Tests
// =============================================================================

func TestProbed(t *testing.T) {
	svc := Service{Name: "a", Image: "x"}
	assert.False(t, svc.Probed())

	svc.HealthCheck = &HealthCheck{Test: []string{"NONE"}}
	assert.False(t, svc.Probed())

	svc.HealthCheck = &HealthCheck{Test: []string{"CMD", "true"}}
	assert.True(t, svc.Probed())
}

func TestProbeAccessors_Fallbacks(t *testing.T) {
	hc := &HealthCheck{Test: []string{"CMD", "true"}}

	assert.Equal(t, 5*time.Second, hc.ProbeInterval(5*time.Second))
	assert.Equal(t, 5*time.Second, hc.ProbeTimeout(5*time.Second))
	assert.Equal(t, time.Duration(0), hc.ProbeStartPeriod())
	assert.Equal(t, 3, hc.ProbeRetries(3))
}

func TestProbeAccessors_Configured(t *testing.T) {
	hc := &HealthCheck{
		Test:        []string{"CMD", "true"},
		Interval:    "2s",
		Timeout:     "1s",
		StartPeriod: "30s",
		Retries:     7,
	}

	assert.Equal(t, 2*time.Second, hc.ProbeInterval(5*time.Second))
	assert.Equal(t, time.Second, hc.ProbeTimeout(5*time.Second))
	assert.Equal(t, 30*time.Second, hc.ProbeStartPeriod())
	assert.Equal(t, 7, hc.ProbeRetries(3))
}
