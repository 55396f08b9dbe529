// Package judge wraps the text-completion capability used for fuzzy
// decisions: triage, validation, and retry-strategy selection. Judge output
// is untrusted text; callers decode it through ExtractJSON and fall back to
// a conservative default on any failure.
package judge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/anthropics/conductor-engine/internal/domain"
)

// Judge produces a text completion for a prompt.
type Judge interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CLIJudge shells out to a configured completion command, writing the prompt
// to stdin and reading the completion from stdout.
type CLIJudge struct {
	Command    string
	Args       []string
	TimeoutSec int
}

// NewCLIJudge creates a CLIJudge with a default timeout when none is given.
func NewCLIJudge(command string, args []string, timeoutSec int) *CLIJudge {
	if timeoutSec == 0 {
		timeoutSec = 120
	}
	return &CLIJudge{Command: command, Args: args, TimeoutSec: timeoutSec}
}

// Complete runs the judge command once and returns its stdout.
func (j *CLIJudge) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(j.TimeoutSec)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, j.Command, j.Args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", domain.WrapConductorError(
			domain.ErrJudgeUnavailable.Code,
			fmt.Sprintf("judge command failed (stderr: %s)", strings.TrimSpace(stderr.String())),
			err,
		)
	}
	return stdout.String(), nil
}

// ExtractJSON returns the first balanced JSON object embedded in text.
// Judges often wrap their structured payload in prose; anything before the
// first '{' and after its matching '}' is discarded.
func ExtractJSON(text string) ([]byte, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return []byte(text[start : i+1]), true
				}
			}
		}
	}
	return nil, false
}

// ClampConfidence forces a confidence score into [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
