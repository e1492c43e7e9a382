package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// internalEnvFlag is set on the child process so a surrounding CLI wrapper
// (collaborator) that itself records conversations does not re-record this
// internally-triggered call (§4.10).
const internalEnvFlag = "CONTEXT_ORCHESTRATOR_INTERNAL=1"

// ErrCLIUnavailable is returned when the configured CLI command cannot be
// invoked at all (not found on PATH), as distinct from the command running
// and failing.
var ErrCLIUnavailable = errors.New("llm: external CLI command not available")

// CLIConfig configures R-ext, the external-reasoner process invocation
// (§4.10, C.1). Unlike Config (R-local), there is no model selection here —
// the command is an opaque wrapper and its model choice is out of scope.
type CLIConfig struct {
	// Command is the external CLI to invoke, e.g. "claude" or "codex".
	// Default: "claude".
	Command string

	// Timeout bounds each invocation. Default: 60s.
	Timeout time.Duration
}

// CLIClient implements TextGenerator by shelling out to an external CLI
// reasoner, grounded on original_source/src/models/cli_llm.py's
// CLILLMClient: the prompt is staged to a temp file (sidesteps shell
// escaping and argv length limits) rather than passed as a command-line
// argument, and the child's environment carries internalEnvFlag.
type CLIClient struct {
	command string
	timeout time.Duration
	cb      *CircuitBreaker
}

// NewCLIClient creates a CLIClient with the given configuration, applying
// defaults for zero-valued fields.
func NewCLIClient(cfg CLIConfig) *CLIClient {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &CLIClient{
		command: command,
		timeout: timeout,
		cb:      NewCircuitBreaker(),
	}
}

// GetModel returns the configured CLI command name; R-ext has no model
// concept of its own, so this doubles as its identifier in logs.
func (c *CLIClient) GetModel() string {
	return c.command
}

// Available reports whether the configured command can be found on PATH.
// Non-fatal: callers treat unavailability as a routing signal, not an error
// to surface to the user.
func (c *CLIClient) Available() bool {
	_, err := exec.LookPath(c.command)
	return err == nil
}

// Complete runs the external CLI against prompt and returns its stdout,
// trimmed. The call is wrapped in a circuit breaker shared with R-local's
// failure semantics (§4.10: non-zero exit, timeout, or empty output is a
// failure the Router falls back from).
func (c *CLIClient) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.cb.Execute(ctx, func() (interface{}, error) {
		return c.invoke(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *CLIClient) invoke(ctx context.Context, prompt string) (string, error) {
	if _, err := exec.LookPath(c.command); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrCLIUnavailable, c.command, err)
	}

	tmp, err := os.CreateTemp("", "context-orchestrator-prompt-*.txt")
	if err != nil {
		return "", fmt.Errorf("llm: stage prompt file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(prompt); err != nil {
		tmp.Close()
		return "", fmt.Errorf("llm: write prompt file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("llm: close prompt file: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := c.buildCommand(callCtx, tmpPath)
	cmd.Env = append(os.Environ(), internalEnvFlag)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if callCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("llm: external CLI %q timed out after %s", c.command, c.timeout)
	}
	if runErr != nil {
		return "", fmt.Errorf("llm: external CLI %q failed: %w (stderr: %s)", c.command, runErr, strings.TrimSpace(stderr.String()))
	}

	output := strings.TrimSpace(stdout.String())
	if output == "" {
		return "", fmt.Errorf("llm: external CLI %q produced empty output", c.command)
	}
	return output, nil
}

// buildCommand constructs the platform-specific pipeline that feeds the
// staged prompt file into the CLI over stdin: PowerShell's Get-Content
// piping on Windows, a bash "cat | cmd" pipeline elsewhere, mirroring
// cli_llm.py's platform split.
func (c *CLIClient) buildCommand(ctx context.Context, promptPath string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		script := fmt.Sprintf("Get-Content -Raw %s | & %s", quotePowerShell(promptPath), quotePowerShell(c.command))
		return exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", script)
	}
	script := fmt.Sprintf("cat %s | %s", quoteShell(promptPath), c.command)
	return exec.CommandContext(ctx, "bash", "-c", script)
}

func quoteShell(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

func quotePowerShell(path string) string {
	return "'" + strings.ReplaceAll(path, "'", "''") + "'"
}
