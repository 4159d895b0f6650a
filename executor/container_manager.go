package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeexec/metrics"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	logrus "github.com/sirupsen/logrus"
)

const poolLabel = "codeexec.pool"

type ContainerState string

const (
	StateIdle  ContainerState = "idle"
	StateBusy  ContainerState = "busy"
	StateError ContainerState = "error"
)

// ContainerInfo holds information about a container
type ContainerInfo struct {
	ID    string
	State ContainerState
}

// ContainerConfig describes the sandbox containers kept in the pool.
type ContainerConfig struct {
	Image    string
	Workers  int
	MemoryMB int64
	NanoCPUs int64
	// MountDir is bind mounted at the same path so workspace paths resolve
	// identically inside the container.
	MountDir string
}

// ContainerManager manages Docker containers for the sandbox runner
type ContainerManager struct {
	dockerClient *client.Client
	cfg          ContainerConfig
	containers   map[string]*ContainerInfo
	mu           sync.Mutex
	logger       *logrus.Logger
}

// NewContainerManager creates a new container manager
func NewContainerManager(cfg ContainerConfig, logger *logrus.Logger) (*ContainerManager, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &ContainerManager{
		dockerClient: dockerClient,
		cfg:          cfg,
		containers:   make(map[string]*ContainerInfo),
		logger:       logger,
	}, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func (cm *ContainerManager) listPool(ctx context.Context) ([]string, map[string]bool, error) {
	list, err := cm.dockerClient.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", poolLabel+"=true")),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list containers: %w", err)
	}
	var ids []string
	running := make(map[string]bool, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
		running[c.ID] = c.State == "running"
	}
	return ids, running, nil
}

// InitializePool ensures the correct number of containers are running
func (cm *ContainerManager) InitializePool(ctx context.Context) error {
	ids, running, err := cm.listPool(ctx)
	if err != nil {
		cm.logger.Error(err)
		return err
	}

	// Register existing worker containers
	cm.mu.Lock()
	for _, id := range ids {
		state := StateIdle
		if !running[id] {
			state = StateError
		}
		cm.containers[id] = &ContainerInfo{ID: id, State: state}
		cm.logger.Printf("Found existing worker container: %s (state: %s)", shortID(id), state)
	}
	currentCount := len(cm.containers)
	cm.mu.Unlock()

	if currentCount > cm.cfg.Workers {
		cm.logger.Printf("Found %d worker containers, removing excess...", currentCount)
		cm.removeExcessContainers(ctx, currentCount-cm.cfg.Workers)
	}
	cm.fill(ctx)

	if cm.ContainerCount() == 0 {
		return fmt.Errorf("failed to initialize container pool: no containers available")
	}
	return nil
}

func (cm *ContainerManager) fill(ctx context.Context) {
	missing := cm.cfg.Workers - cm.ContainerCount()
	for i := 0; i < missing; i++ {
		if err := cm.StartContainer(ctx); err != nil {
			cm.logger.Printf("Failed to start container: %v", err)
		}
	}
}

// containerSpec builds the create request for one pool container.
func (cm *ContainerManager) containerSpec() (*container.Config, *container.HostConfig) {
	config := &container.Config{
		Image:           cm.cfg.Image,
		Cmd:             []string{"sleep", "infinity"},
		Labels:          map[string]string{poolLabel: "true"},
		NetworkDisabled: true,
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:   cm.cfg.MemoryMB * 1024 * 1024,
			NanoCPUs: cm.cfg.NanoCPUs,
		},
		NetworkMode: "none",
	}
	if cm.cfg.MountDir != "" {
		hostConfig.Binds = []string{cm.cfg.MountDir + ":" + cm.cfg.MountDir}
	}
	return config, hostConfig
}

// StartContainer creates and starts a new worker container
func (cm *ContainerManager) StartContainer(ctx context.Context) error {
	cm.mu.Lock()
	if len(cm.containers) >= cm.cfg.Workers {
		cm.mu.Unlock()
		return nil
	}
	cm.mu.Unlock()

	config, hostConfig := cm.containerSpec()
	resp, err := cm.dockerClient.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		cm.logger.Errorf("failed to create container: %v", err)
		return fmt.Errorf("failed to create container: %w", err)
	}

	if err := cm.dockerClient.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		cm.dockerClient.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		cm.logger.Errorf("failed to start container %s: %v", shortID(resp.ID), err)
		return fmt.Errorf("failed to start container: %w", err)
	}

	cm.mu.Lock()
	cm.containers[resp.ID] = &ContainerInfo{ID: resp.ID, State: StateIdle}
	cm.mu.Unlock()
	cm.logger.Printf("Started new worker container: %s", shortID(resp.ID))
	return nil
}

// RemoveContainer safely removes a container
func (cm *ContainerManager) RemoveContainer(ctx context.Context, containerID string) {
	if err := cm.dockerClient.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		cm.logger.Printf("Failed to remove container %s: %v", shortID(containerID), err)
	}

	cm.mu.Lock()
	delete(cm.containers, containerID)
	cm.mu.Unlock()
	cm.logger.Printf("Removed container: %s", shortID(containerID))
}

// Recycle replaces a container whose program may still be running inside it.
func (cm *ContainerManager) Recycle(ctx context.Context, containerID string) {
	cm.logger.WithField("container", shortID(containerID)).Warn("Execution timeout, removing and replacing container")
	metrics.ContainerRecycles.Inc()
	cm.RemoveContainer(ctx, containerID)
	if err := cm.StartContainer(ctx); err != nil {
		cm.logger.Printf("Failed to start replacement container: %v", err)
	}
}

// removeExcessContainers removes idle containers beyond the configured size
func (cm *ContainerManager) removeExcessContainers(ctx context.Context, count int) {
	cm.mu.Lock()
	var toRemove []string
	for id, info := range cm.containers {
		if len(toRemove) < count && info.State != StateBusy {
			toRemove = append(toRemove, id)
		}
	}
	cm.mu.Unlock()

	for _, id := range toRemove {
		cm.RemoveContainer(ctx, id)
	}
}

// MonitorContainers runs a health check loop until ctx is done
func (cm *ContainerManager) MonitorContainers(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.checkHealth(ctx)
		}
	}
}

// checkHealth drops containers that stopped and tops the pool back up
func (cm *ContainerManager) checkHealth(ctx context.Context) {
	_, running, err := cm.listPool(ctx)
	if err != nil {
		cm.logger.Printf("Failed to list containers: %v", err)
		return
	}

	cm.mu.Lock()
	var toRemove []string
	for id := range cm.containers {
		if !running[id] {
			cm.logger.Printf("Container %s not running, marking for removal", shortID(id))
			toRemove = append(toRemove, id)
		}
	}
	cm.mu.Unlock()

	for _, id := range toRemove {
		cm.RemoveContainer(ctx, id)
	}
	cm.fill(ctx)
}

// GetAvailableContainer claims an idle container, waiting briefly for one
func (cm *ContainerManager) GetAvailableContainer(ctx context.Context) (string, error) {
	const maxRetries = 10
	const retryDelay = 200 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		cm.mu.Lock()
		for id, info := range cm.containers {
			if info.State == StateIdle {
				info.State = StateBusy
				cm.mu.Unlock()
				return id, nil
			}
		}
		cm.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return "", fmt.Errorf("no available containers after %d retries", maxRetries)
}

// SetContainerState updates the state of a container
func (cm *ContainerManager) SetContainerState(containerID string, state ContainerState) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if info, exists := cm.containers[containerID]; exists {
		info.State = state
	}
}

// Shutdown cleans up all containers
func (cm *ContainerManager) Shutdown(ctx context.Context) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for id := range cm.containers {
		cm.dockerClient.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
		cm.logger.Printf("Shutdown: Removed container %s", shortID(id))
	}
	cm.containers = make(map[string]*ContainerInfo)
	cm.dockerClient.Close()
}

// ContainerCount returns the current number of containers
func (cm *ContainerManager) ContainerCount() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.containers)
}
