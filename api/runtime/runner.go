package runtime

import (
	"context"
	"time"
)

type RunResult struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// Runner executes one short-lived container to completion. Function builds
// run through it.
type Runner interface {
	Run(ctx context.Context, opts RunOpts) (*RunResult, error)
	ImageExists(ctx context.Context, image string) (bool, error)
}

type RunOpts struct {
	Name    string // container name prefix, a random suffix is appended
	Image   string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
	Memory  string // e.g. "1g"; empty means 512m
	Network string // e.g. "host", "bridge"; empty means "none"
}
