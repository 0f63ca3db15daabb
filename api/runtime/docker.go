package runtime

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"time"

	"appcore/api/logger"
)

var log = logger.NewLogger("appcore.runtime")

const (
	maxOutputBytes = 64 * 1024
	defaultTimeout = 10 * time.Minute
)

// ErrTimeout is returned when a container outlives its RunOpts.Timeout.
var ErrTimeout = errors.New("execution timed out")

// DockerRunner shells out to the docker CLI on the host.
type DockerRunner struct {
	binary string
}

func NewDockerRunner() *DockerRunner {
	return &DockerRunner{binary: "docker"}
}

func (d *DockerRunner) Run(ctx context.Context, opts RunOpts) (*RunResult, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prefix := opts.Name
	if prefix == "" {
		prefix = "appcore-run"
	}
	name := prefix + "-" + randomSuffix()
	args := dockerArgs(name, opts)

	start := time.Now()
	out, err := exec.CommandContext(ctx, d.binary, args...).CombinedOutput()
	result := &RunResult{
		Output:   truncate(string(out)),
		Duration: time.Since(start),
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			if kerr := exec.Command(d.binary, "kill", name).Run(); kerr != nil {
				log.Warnf("failed to kill timed out container %s: %v", name, kerr)
			}
			result.ExitCode = -1
			return result, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// A non-zero exit is the container's result, not a runner failure.
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, err
	}
	return result, nil
}

func dockerArgs(name string, opts RunOpts) []string {
	memory := opts.Memory
	if memory == "" {
		memory = "512m"
	}
	network := opts.Network
	if network == "" {
		network = "none"
	}
	args := []string{
		"run", "--rm", "--name", name,
		"--memory=" + memory, "--cpus=1", "--pids-limit=256",
		"--network=" + network,
	}
	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	args = append(args, opts.Image)
	return append(args, opts.Args...)
}

func truncate(output string) string {
	if len(output) > maxOutputBytes {
		return output[:maxOutputBytes] + "\n... (output truncated at 64KB)"
	}
	return output
}

func (d *DockerRunner) ImageExists(ctx context.Context, image string) (bool, error) {
	err := exec.CommandContext(ctx, d.binary, "image", "inspect", image).Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func randomSuffix() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
