// Package sandbox provisions isolated execution environments for workers.
package sandbox

import (
	"context"
	"time"

	"github.com/anthropics/conductor-engine/internal/domain"
)

// ExecResult is the outcome of one command run inside an environment.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// RunOpts controls a single command execution.
type RunOpts struct {
	TimeoutSec int
}

// CreateOpts controls environment provisioning.
type CreateOpts struct {
	TimeoutSec int
	Env        map[string]string
}

// Environment is one isolated execution environment. Kill must be safe to
// call more than once.
type Environment interface {
	Handle() string
	RunCommand(ctx context.Context, cmd string, opts RunOpts) (ExecResult, error)
	Kill() error
}

// Provisioner creates environments from a template reference.
type Provisioner interface {
	Create(ctx context.Context, templateRef string, opts CreateOpts) (Environment, error)
}

// WaitReady polls probeCmd inside env until it exits zero or the timeout
// elapses. Each poll iteration is independently cancellable via ctx.
func WaitReady(ctx context.Context, env Environment, probeCmd string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		res, err := env.RunCommand(ctx, probeCmd, RunOpts{TimeoutSec: 10})
		if err == nil && res.ExitCode == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return domain.ErrEnvNotReady
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}
