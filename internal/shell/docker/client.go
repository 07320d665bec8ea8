package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// Client implements the Runtime interface using the Docker SDK.
type Client struct {
	cli *client.Client
}

var _ Runtime = (*Client)(nil)

// NewClient creates a new Docker runtime client.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewClient(host string) (*Client, error) {
	var opts []client.Opt
	opts = append(opts, client.FromEnv)
	opts = append(opts, client.WithAPIVersionNegotiation())

	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewRuntimeError("NewClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	// Try to ping with default settings
	ctx := context.Background()
	if _, pingErr := cli.Ping(ctx); pingErr != nil {
		// If default socket fails, try Docker Desktop socket on macOS
		homeDir, _ := os.UserHomeDir()
		dockerDesktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(dockerDesktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				cli.Close()
				return &Client{cli: cli2}, nil
			}
			cli2.Close()
		}
	}

	return &Client{cli: cli}, nil
}

// Ping checks if the Docker daemon is reachable.
func (d *Client) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	if err != nil {
		return NewRuntimeError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *Client) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Container Operations
// =============================================================================

// CreateContainer creates a new container from the given spec.
func (d *Client) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	config := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		Entrypoint: spec.Entrypoint,
		WorkingDir: spec.WorkingDir,
		User:       spec.User,
		Labels:     spec.Labels,
	}

	if len(spec.Env) > 0 {
		for k, v := range spec.Env {
			config.Env = append(config.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	hostConfig := &container.HostConfig{}

	// Port bindings
	if len(spec.Ports) > 0 {
		portBindings := nat.PortMap{}
		exposedPorts := nat.PortSet{}

		for _, p := range spec.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			containerPort := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
			exposedPorts[containerPort] = struct{}{}

			hostPort := ""
			if p.HostPort != 0 {
				hostPort = fmt.Sprintf("%d", p.HostPort)
			}

			portBindings[containerPort] = []nat.PortBinding{
				{
					HostIP:   p.HostIP,
					HostPort: hostPort,
				},
			}
		}

		config.ExposedPorts = exposedPorts
		hostConfig.PortBindings = portBindings
	}

	// Volume mounts
	if len(spec.Volumes) > 0 {
		for _, v := range spec.Volumes {
			var mountType mount.Type
			if strings.HasPrefix(v.Source, "/") {
				mountType = mount.TypeBind
			} else {
				mountType = mount.TypeVolume
			}

			hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
				Type:     mountType,
				Source:   v.Source,
				Target:   v.Target,
				ReadOnly: v.ReadOnly,
			})
		}
	}

	// Resource limits
	if spec.Resources.CPULimit > 0 {
		hostConfig.NanoCPUs = int64(spec.Resources.CPULimit * 1e9)
	}
	if spec.Resources.MemoryLimit > 0 {
		hostConfig.Memory = spec.Resources.MemoryLimit
	}

	// Restart policy
	if spec.RestartPolicy.Name != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyMode(spec.RestartPolicy.Name),
			MaximumRetryCount: spec.RestartPolicy.MaximumRetryCount,
		}
	}

	// Health check
	if spec.HealthCheck != nil {
		config.Healthcheck = &container.HealthConfig{
			Test:        spec.HealthCheck.Test,
			Interval:    spec.HealthCheck.Interval,
			Timeout:     spec.HealthCheck.Timeout,
			Retries:     spec.HealthCheck.Retries,
			StartPeriod: spec.HealthCheck.StartPeriod,
		}
	}

	// Network config
	var networkConfig *network.NetworkingConfig
	if len(spec.Networks) > 0 {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{},
		}
		for _, n := range spec.Networks {
			networkConfig.EndpointsConfig[n] = &network.EndpointSettings{
				Aliases: spec.NetworkAliases[n],
			}
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		if strings.Contains(err.Error(), "Conflict") {
			return "", NewRuntimeError("CreateContainer", "container", spec.Name, "container already exists", ErrContainerAlreadyExists)
		}
		if strings.Contains(err.Error(), "port is already allocated") {
			return "", NewRuntimeError("CreateContainer", "container", spec.Name, err.Error(), ErrPortAlreadyAllocated)
		}
		return "", NewRuntimeError("CreateContainer", "container", spec.Name, err.Error(), err)
	}

	return resp.ID, nil
}

// StartContainer starts a stopped container.
func (d *Client) StartContainer(ctx context.Context, containerID string) error {
	err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewRuntimeError("StartContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		if strings.Contains(err.Error(), "is already running") {
			return NewRuntimeError("StartContainer", "container", containerID, "container is already running", ErrContainerAlreadyRunning)
		}
		return NewRuntimeError("StartContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// StopContainer gracefully stops a running container. The runtime sends the
// stop signal and force-kills after the timeout elapses.
func (d *Client) StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	stopOptions := container.StopOptions{}
	if timeout != nil {
		seconds := int(timeout.Seconds())
		stopOptions.Timeout = &seconds
	}

	err := d.cli.ContainerStop(ctx, containerID, stopOptions)
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewRuntimeError("StopContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		if strings.Contains(err.Error(), "is not running") {
			return NewRuntimeError("StopContainer", "container", containerID, "container is not running", ErrContainerNotRunning)
		}
		return NewRuntimeError("StopContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// KillContainer sends a signal to a running container.
func (d *Client) KillContainer(ctx context.Context, containerID string, signal string) error {
	err := d.cli.ContainerKill(ctx, containerID, signal)
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewRuntimeError("KillContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		if strings.Contains(err.Error(), "is not running") {
			return NewRuntimeError("KillContainer", "container", containerID, "container is not running", ErrContainerNotRunning)
		}
		return NewRuntimeError("KillContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// RemoveContainer removes a container.
func (d *Client) RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error {
	removeOpts := container.RemoveOptions{
		Force:         opts.Force,
		RemoveVolumes: opts.RemoveVolumes,
	}

	err := d.cli.ContainerRemove(ctx, containerID, removeOpts)
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewRuntimeError("RemoveContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return NewRuntimeError("RemoveContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// InspectContainer returns detailed information about a container.
func (d *Client) InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewRuntimeError("InspectContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewRuntimeError("InspectContainer", "container", containerID, err.Error(), err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, resp.Created)

	var startedAt, finishedAt *time.Time
	if resp.State.StartedAt != "" && resp.State.StartedAt != "0001-01-01T00:00:00Z" {
		t, _ := time.Parse(time.RFC3339Nano, resp.State.StartedAt)
		startedAt = &t
	}
	if resp.State.FinishedAt != "" && resp.State.FinishedAt != "0001-01-01T00:00:00Z" {
		t, _ := time.Parse(time.RFC3339Nano, resp.State.FinishedAt)
		finishedAt = &t
	}

	var ports []PortBinding
	for containerPort, bindings := range resp.NetworkSettings.Ports {
		port, proto := nat.Port(containerPort).Port(), nat.Port(containerPort).Proto()
		for _, binding := range bindings {
			var hostPort int
			if binding.HostPort != "" {
				fmt.Sscanf(binding.HostPort, "%d", &hostPort)
			}
			var containerPortInt int
			fmt.Sscanf(port, "%d", &containerPortInt)
			ports = append(ports, PortBinding{
				ContainerPort: containerPortInt,
				HostPort:      hostPort,
				Protocol:      proto,
				HostIP:        binding.HostIP,
			})
		}
	}

	health := ""
	if resp.State.Health != nil {
		health = resp.State.Health.Status
	}

	return &ContainerInfo{
		ID:         resp.ID,
		Name:       strings.TrimPrefix(resp.Name, "/"),
		Image:      resp.Config.Image,
		Status:     ContainerStatus(resp.State.Status),
		Health:     health,
		CreatedAt:  createdAt,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Ports:      ports,
		Labels:     resp.Config.Labels,
		ExitCode:   resp.State.ExitCode,
	}, nil
}

// ListContainers returns a list of containers matching the given options.
func (d *Client) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	listOpts := container.ListOptions{
		All: opts.All,
	}

	if len(opts.Filters) > 0 {
		f := filters.NewArgs()
		for k, v := range opts.Filters {
			f.Add(k, v)
		}
		listOpts.Filters = f
	}

	containers, err := d.cli.ContainerList(ctx, listOpts)
	if err != nil {
		return nil, NewRuntimeError("ListContainers", "container", "", err.Error(), err)
	}

	var result []ContainerInfo
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		var ports []PortBinding
		for _, p := range c.Ports {
			ports = append(ports, PortBinding{
				ContainerPort: int(p.PrivatePort),
				HostPort:      int(p.PublicPort),
				Protocol:      p.Type,
				HostIP:        p.IP,
			})
		}

		result = append(result, ContainerInfo{
			ID:        c.ID,
			Name:      name,
			Image:     c.Image,
			Status:    ContainerStatus(c.State),
			CreatedAt: time.Unix(c.Created, 0),
			Ports:     ports,
			Labels:    c.Labels,
		})
	}

	return result, nil
}

// ContainerLogs returns logs from a container.
func (d *Client) ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error) {
	logOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Tail:       opts.Tail,
		Timestamps: opts.Timestamps,
	}

	if !opts.Since.IsZero() {
		logOpts.Since = opts.Since.Format(time.RFC3339)
	}
	if !opts.Until.IsZero() {
		logOpts.Until = opts.Until.Format(time.RFC3339)
	}

	reader, err := d.cli.ContainerLogs(ctx, containerID, logOpts)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewRuntimeError("ContainerLogs", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewRuntimeError("ContainerLogs", "container", containerID, err.Error(), err)
	}

	// Containers without a TTY produce a multiplexed stream; demultiplex
	// here so callers see plain log lines.
	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, pw, reader)
		reader.Close()
		pw.CloseWithError(copyErr)
	}()
	return pr, nil
}

// ExecContainer runs a command inside a running container and waits for it.
func (d *Client) ExecContainer(ctx context.Context, containerID string, spec ExecSpec) (ExecResult, error) {
	created, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          spec.Command,
		Env:          spec.Env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return ExecResult{}, NewRuntimeError("ExecContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		if strings.Contains(err.Error(), "is not running") {
			return ExecResult{}, NewRuntimeError("ExecContainer", "container", containerID, "container is not running", ErrContainerNotRunning)
		}
		return ExecResult{}, NewRuntimeError("ExecContainer", "container", containerID, err.Error(), err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, NewRuntimeError("ExecContainer", "container", containerID, err.Error(), err)
	}
	defer attach.Close()

	stdout := spec.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := spec.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	// Demultiplex until the command exits or the context is canceled.
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		done <- copyErr
	}()
	select {
	case <-ctx.Done():
		return ExecResult{}, NewRuntimeError("ExecContainer", "container", containerID, "command timed out", ErrTimeout)
	case copyErr := <-done:
		if copyErr != nil && copyErr != io.EOF {
			return ExecResult{}, NewRuntimeError("ExecContainer", "container", containerID, copyErr.Error(), copyErr)
		}
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, NewRuntimeError("ExecContainer", "container", containerID, err.Error(), err)
	}

	return ExecResult{ExitCode: inspect.ExitCode}, nil
}

// =============================================================================
// Network Operations
// =============================================================================

// CreateNetwork creates a new Docker network.
func (d *Client) CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error) {
	driver := spec.Driver
	if driver == "" {
		driver = "bridge"
	}

	resp, err := d.cli.NetworkCreate(ctx, spec.Name, network.CreateOptions{
		Driver:   driver,
		Internal: spec.Internal,
		Labels:   spec.Labels,
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return "", NewRuntimeError("CreateNetwork", "network", spec.Name, "network already exists", ErrNetworkAlreadyExists)
		}
		return "", NewRuntimeError("CreateNetwork", "network", spec.Name, err.Error(), err)
	}

	return resp.ID, nil
}

// RemoveNetwork removes a Docker network.
func (d *Client) RemoveNetwork(ctx context.Context, networkID string) error {
	err := d.cli.NetworkRemove(ctx, networkID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewRuntimeError("RemoveNetwork", "network", networkID, "network not found", ErrNetworkNotFound)
		}
		if strings.Contains(err.Error(), "has active endpoints") {
			return NewRuntimeError("RemoveNetwork", "network", networkID, "network has active endpoints", ErrNetworkInUse)
		}
		return NewRuntimeError("RemoveNetwork", "network", networkID, err.Error(), err)
	}
	return nil
}

// ListNetworks returns networks matching the given filters.
func (d *Client) ListNetworks(ctx context.Context, filterMap map[string]string) ([]NetworkInfo, error) {
	f := filters.NewArgs()
	for k, v := range filterMap {
		f.Add(k, v)
	}

	networks, err := d.cli.NetworkList(ctx, network.ListOptions{Filters: f})
	if err != nil {
		return nil, NewRuntimeError("ListNetworks", "network", "", err.Error(), err)
	}

	var result []NetworkInfo
	for _, n := range networks {
		result = append(result, NetworkInfo{
			ID:     n.ID,
			Name:   n.Name,
			Driver: n.Driver,
			Labels: n.Labels,
		})
	}
	return result, nil
}

// =============================================================================
// Volume Operations
// =============================================================================

// CreateVolume creates a new Docker volume.
func (d *Client) CreateVolume(ctx context.Context, spec VolumeSpec) (string, error) {
	driver := spec.Driver
	if driver == "" {
		driver = "local"
	}

	resp, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   spec.Name,
		Driver: driver,
		Labels: spec.Labels,
	})
	if err != nil {
		return "", NewRuntimeError("CreateVolume", "volume", spec.Name, err.Error(), err)
	}

	return resp.Name, nil
}

// RemoveVolume removes a Docker volume.
func (d *Client) RemoveVolume(ctx context.Context, volumeName string, force bool) error {
	err := d.cli.VolumeRemove(ctx, volumeName, force)
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewRuntimeError("RemoveVolume", "volume", volumeName, "volume not found", ErrVolumeNotFound)
		}
		if strings.Contains(err.Error(), "in use") {
			return NewRuntimeError("RemoveVolume", "volume", volumeName, "volume is in use", ErrVolumeInUse)
		}
		return NewRuntimeError("RemoveVolume", "volume", volumeName, err.Error(), err)
	}
	return nil
}

// ListVolumes returns volumes matching the given filters.
func (d *Client) ListVolumes(ctx context.Context, filterMap map[string]string) ([]VolumeInfo, error) {
	f := filters.NewArgs()
	for k, v := range filterMap {
		f.Add(k, v)
	}

	resp, err := d.cli.VolumeList(ctx, volume.ListOptions{Filters: f})
	if err != nil {
		return nil, NewRuntimeError("ListVolumes", "volume", "", err.Error(), err)
	}

	var result []VolumeInfo
	for _, v := range resp.Volumes {
		if v == nil {
			continue
		}
		result = append(result, VolumeInfo{
			Name:   v.Name,
			Driver: v.Driver,
			Labels: v.Labels,
		})
	}
	return result, nil
}

// =============================================================================
// Image Operations
// =============================================================================

// PullImage pulls an image from the registry.
func (d *Client) PullImage(ctx context.Context, imageName string, opts PullOptions) error {
	pullOpts := image.PullOptions{}
	if opts.Platform != "" {
		pullOpts.Platform = opts.Platform
	}

	reader, err := d.cli.ImagePull(ctx, imageName, pullOpts)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "not found") ||
			strings.Contains(errStr, "manifest unknown") ||
			strings.Contains(errStr, "repository does not exist") ||
			strings.Contains(errStr, "pull access denied") {
			return NewRuntimeError("PullImage", "image", imageName, "image not found", ErrImageNotFound)
		}
		return NewRuntimeError("PullImage", "image", imageName, err.Error(), ErrImagePullFailed)
	}
	defer reader.Close()

	// Drain the reader to complete the pull
	_, err = io.Copy(io.Discard, reader)
	if err != nil {
		return NewRuntimeError("PullImage", "image", imageName, err.Error(), ErrImagePullFailed)
	}

	return nil
}

// BuildImage builds an image from a local build context.
func (d *Client) BuildImage(ctx context.Context, spec BuildSpec) error {
	buildCtx, err := archive.TarWithOptions(spec.Context, &archive.TarOptions{})
	if err != nil {
		return NewRuntimeError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}
	defer buildCtx.Close()

	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	resp, err := d.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{spec.Tag},
		Dockerfile: dockerfile,
		Labels:     spec.Labels,
		Remove:     true,
	})
	if err != nil {
		return NewRuntimeError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}
	defer resp.Body.Close()

	output := spec.Output
	if output == nil {
		output = io.Discard
	}
	// Build failures are reported inside the response stream, not by the
	// ImageBuild call itself; decode it so they surface as errors.
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, output, 0, false, nil); err != nil {
		var jsonErr *jsonmessage.JSONError
		if errors.As(err, &jsonErr) {
			return NewRuntimeError("BuildImage", "image", spec.Tag, jsonErr.Message, ErrImageBuildFailed)
		}
		return NewRuntimeError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}

	return nil
}

// ImageExists checks if an image exists locally.
func (d *Client) ImageExists(ctx context.Context, imageName string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, imageName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, NewRuntimeError("ImageExists", "image", imageName, err.Error(), err)
	}

	return true, nil
}
