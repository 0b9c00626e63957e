package drpcmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"drpactor/internal/model"
	"drpactor/pkg/logger"
)

// Output markers that override the process exit code
const (
	markerFailedIngest = "Failed to ingest"
	markerFatal        = "FATAL"
	markerWarn         = "WARN"
)

// Command external program invocation: head target args... -c key=value ...
type Command struct {
	Head   string
	Target string
	Args   []string
	Config map[string]interface{} // nested maps are flattened with dots
}

// Result outcome of a command run
type Result struct {
	ReturnCode int
	Status     model.ProcessStatus
	Elapsed    float64 // seconds
	Output     []string
}

// ExecFunc runs a program and returns its combined output and exit code.
type ExecFunc func(ctx context.Context, name string, args ...string) ([]byte, int, error)

// Runner runs commands through an ExecFunc
type Runner struct {
	exec ExecFunc
}

// NewRunner creates a runner backed by os/exec.
func NewRunner() *Runner {
	return &Runner{exec: osExec}
}

// NewRunnerWithExec creates a runner backed by a custom ExecFunc.
func NewRunnerWithExec(fn ExecFunc) *Runner {
	return &Runner{exec: fn}
}

// Argv renders the command as an argument vector.
func (c *Command) Argv() []string {
	argv := []string{c.Head}
	if c.Target != "" {
		argv = append(argv, c.Target)
	}
	for _, arg := range c.Args {
		if arg = strings.TrimSpace(arg); arg != "" {
			argv = append(argv, arg)
		}
	}
	if pairs := flattenConfig("", c.Config); len(pairs) > 0 {
		argv = append(argv, "-c")
		argv = append(argv, pairs...)
	}
	return argv
}

// String renders the command line as logged.
func (c *Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// flattenConfig renders key=value pairs sorted by key.
func flattenConfig(prefix string, config map[string]interface{}) []string {
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		switch v := config[k].(type) {
		case map[string]interface{}:
			pairs = append(pairs, flattenConfig(prefix+k+".", v)...)
		case bool:
			// pex config expects python booleans
			if v {
				pairs = append(pairs, fmt.Sprintf("%s%s=True", prefix, k))
			} else {
				pairs = append(pairs, fmt.Sprintf("%s%s=False", prefix, k))
			}
		default:
			pairs = append(pairs, fmt.Sprintf("%s%s=%v", prefix, k, v))
		}
	}
	return pairs
}

// Run executes the command and scans its output. A line containing FATAL or
// "Failed to ingest" forces the return code to -1 whatever the exit status.
func (r *Runner) Run(ctx context.Context, cmd *Command) Result {
	argv := cmd.Argv()
	logger.InfoCtx(ctx, "%s", cmd.String())

	start := time.Now()
	out, code, err := r.exec(ctx, argv[0], argv[1:]...)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		logger.ErrorCtx(ctx, "%s failed to start: %v", cmd.Head, err)
		code = -1
	}

	lines := scanLines(out)
	for _, line := range lines {
		switch {
		case strings.Contains(line, markerFailedIngest), strings.Contains(line, markerFatal):
			logger.ErrorCtx(ctx, "%s: %s", cmd.Head, line)
			code = -1
		case strings.Contains(line, markerWarn):
			logger.WarnCtx(ctx, "%s: %s", cmd.Head, line)
		default:
			logger.DebugCtx(ctx, "%s: %s", cmd.Head, line)
		}
	}

	status := model.StatusOK
	if code != 0 {
		status = model.StatusFailed
	}
	return Result{
		ReturnCode: code,
		Status:     status,
		Elapsed:    float64(int64(elapsed*1000)) / 1000,
		Output:     lines,
	}
}

func scanLines(out []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), " \t"); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func osExec(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return out, 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, exitErr.ExitCode(), nil
	}
	return out, -1, err
}

// ExitError command that finished with a non-zero return code
type ExitError struct {
	Head string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with return code %d", e.Head, e.Code)
}

// Err returns an *ExitError when the command failed.
func (r Result) Err(cmd *Command) error {
	if r.ReturnCode == 0 {
		return nil
	}
	return &ExitError{Head: cmd.Head, Code: r.ReturnCode}
}

// ReturnCode extracts the return code carried by err, -1 when it carries none.
func ReturnCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}
