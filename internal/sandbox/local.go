package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/conductor-engine/internal/domain"
)

// LocalProvisioner creates environments as scratch directories under a root
// workspace, with commands executed through the shell. It stands in for a
// VM-backed provisioner behind the same interface.
type LocalProvisioner struct {
	Root string
}

// NewLocalProvisioner creates a provisioner rooted at dir.
func NewLocalProvisioner(dir string) *LocalProvisioner {
	return &LocalProvisioner{Root: dir}
}

// Create provisions a new scratch directory. templateRef, when non-empty,
// names a directory whose contents seed the environment.
func (p *LocalProvisioner) Create(ctx context.Context, templateRef string, opts CreateOpts) (Environment, error) {
	handle := "env-" + uuid.NewString()[:8]
	dir := filepath.Join(p.Root, handle)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.WrapConductorError(domain.ErrProvisionFailed.Code, "create environment dir", err)
	}

	if templateRef != "" {
		if err := copyTree(templateRef, dir); err != nil {
			os.RemoveAll(dir)
			return nil, domain.WrapConductorError(domain.ErrProvisionFailed.Code, "seed environment from template", err)
		}
	}

	env := &localEnv{handle: handle, dir: dir, extraEnv: opts.Env}
	return env, nil
}

type localEnv struct {
	handle   string
	dir      string
	extraEnv map[string]string

	mu     sync.Mutex
	killed bool
}

// Handle returns the environment's provisioning handle.
func (e *localEnv) Handle() string {
	return e.handle
}

// RunCommand executes cmd through the shell with the environment directory
// as working directory.
func (e *localEnv) RunCommand(ctx context.Context, cmd string, opts RunOpts) (ExecResult, error) {
	e.mu.Lock()
	if e.killed {
		e.mu.Unlock()
		return ExecResult{}, domain.ErrEnvVanished
	}
	e.mu.Unlock()

	if opts.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutSec)*time.Second)
		defer cancel()
	}

	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Dir = e.dir
	c.Env = os.Environ()
	for k, v := range e.extraEnv {
		c.Env = append(c.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run command in %s: %w", e.handle, err)
	}
	return res, nil
}

// Kill tears down the environment directory. Calling it twice is a no-op.
func (e *localEnv) Kill() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.killed {
		return nil
	}
	e.killed = true
	return os.RemoveAll(e.dir)
}

// copyTree recursively copies src into dst.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}
