// Package agent drives coding-agent sessions inside sandboxed environments.
// Sessions are turn-based: each send produces one reply, and the agent's
// real session id arrives with its first reply.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/conductor-engine/internal/domain"
	"github.com/anthropics/conductor-engine/internal/sandbox"
)

// Opts controls one agent invocation.
type Opts struct {
	BypassPermissions bool
	TimeoutSec        int
}

// Reply is one turn of agent output. SessionID is the agent's own session
// identifier, which may differ from the id the caller used.
type Reply struct {
	SessionID string
	Text      string
}

// Runner is the agent execution channel. A failed invocation surfaces as a
// typed error, distinguishable from a successful but empty reply.
type Runner interface {
	StartSession(ctx context.Context, env sandbox.Environment, systemPrompt string, opts Opts) (Reply, error)
	SendToSession(ctx context.Context, env sandbox.Environment, sessionID, message string, opts Opts) (Reply, error)
}

// CLIRunner invokes an agent CLI inside the environment. The CLI is expected
// to print a JSON object {"session_id": "...", "result": "..."} on stdout.
type CLIRunner struct {
	Command string
	Args    []string
}

// NewCLIRunner creates a runner for the given agent command.
func NewCLIRunner(command string, args []string) *CLIRunner {
	return &CLIRunner{Command: command, Args: args}
}

// StartSession begins a new agent session with the system prompt as the
// first message.
func (r *CLIRunner) StartSession(ctx context.Context, env sandbox.Environment, systemPrompt string, opts Opts) (Reply, error) {
	return r.invoke(ctx, env, "", systemPrompt, opts)
}

// SendToSession continues an existing session.
func (r *CLIRunner) SendToSession(ctx context.Context, env sandbox.Environment, sessionID, message string, opts Opts) (Reply, error) {
	return r.invoke(ctx, env, sessionID, message, opts)
}

func (r *CLIRunner) invoke(ctx context.Context, env sandbox.Environment, sessionID, message string, opts Opts) (Reply, error) {
	parts := []string{r.Command}
	parts = append(parts, r.Args...)
	parts = append(parts, "-p", "--output-format", "json")
	if sessionID != "" {
		parts = append(parts, "--resume", shellQuote(sessionID))
	}
	if opts.BypassPermissions {
		parts = append(parts, "--dangerously-skip-permissions")
	}
	parts = append(parts, shellQuote(message))

	res, err := env.RunCommand(ctx, strings.Join(parts, " "), sandbox.RunOpts{TimeoutSec: opts.TimeoutSec})
	if err != nil {
		return Reply{}, fmt.Errorf("invoke agent: %w", err)
	}
	if res.ExitCode != 0 {
		return Reply{}, domain.WrapConductorError(
			domain.ErrAgentFailed.Code,
			fmt.Sprintf("agent exited %d (stderr: %s)", res.ExitCode, strings.TrimSpace(res.Stderr)),
			nil,
		)
	}

	return parseReply(res.Stdout, sessionID), nil
}

// parseReply decodes the agent's JSON output. Output that is not the
// expected JSON shape is passed through as plain text so a chatty agent
// still produces a usable reply.
func parseReply(stdout, fallbackID string) Reply {
	var raw struct {
		SessionID string `json:"session_id"`
		Result    string `json:"result"`
	}
	if err := json.Unmarshal([]byte(stdout), &raw); err == nil && raw.SessionID != "" {
		return Reply{SessionID: raw.SessionID, Text: raw.Result}
	}
	return Reply{SessionID: fallbackID, Text: strings.TrimSpace(stdout)}
}

// shellQuote single-quotes s for the shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
