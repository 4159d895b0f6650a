package executor

import (
	"context"
	"errors"
	"strings"
)

// ContainerRunner runs commands inside pooled sandbox containers through the
// docker CLI. The docker client process is what the host runner times out, so
// a timed out container is recycled rather than trusted again.
type ContainerRunner struct {
	containers *ContainerManager
	host       Runner
	dockerBin  string
}

func NewContainerRunner(containers *ContainerManager, host Runner) *ContainerRunner {
	return &ContainerRunner{containers: containers, host: host, dockerBin: "docker"}
}

func (r *ContainerRunner) Run(ctx context.Context, c Command) (Outcome, error) {
	id, err := r.containers.GetAvailableContainer(ctx)
	if err != nil {
		return Outcome{}, environmentError("claim container", err)
	}

	out, err := r.host.Run(ctx, Command{
		Path:    r.dockerBin,
		Args:    execArgs(id, c),
		Timeout: c.Timeout,
	})
	// rusage would describe the docker client, not the program
	out.HasUsage = false
	out.CPU, out.MemoryKB = 0, 0

	if errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) {
		go r.containers.Recycle(context.Background(), id)
		return out, err
	}
	r.containers.SetContainerState(id, StateIdle)
	if err == nil && missingExecutable(out) {
		return out, environmentError("exec "+c.Path, errors.New(strings.TrimSpace(out.Stderr)))
	}
	return out, err
}

// missingExecutable reports whether docker exec could not start the command
// at all, as opposed to the command itself exiting 126 or 127.
func missingExecutable(out Outcome) bool {
	if out.ExitCode != 126 && out.ExitCode != 127 {
		return false
	}
	return strings.Contains(out.Stderr, "OCI runtime exec failed") ||
		strings.Contains(out.Stderr, "executable file not found")
}

// execArgs builds the docker exec argument list for c inside containerID.
func execArgs(containerID string, c Command) []string {
	args := []string{"exec"}
	if c.Dir != "" {
		args = append(args, "-w", c.Dir)
	}
	for _, kv := range c.Env {
		args = append(args, "-e", kv)
	}
	args = append(args, containerID, c.Path)
	return append(args, c.Args...)
}
