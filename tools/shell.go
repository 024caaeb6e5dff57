package tools

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/m4xw311/spark/errors"
)

const maxShellOutput = 10000

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\b(format|mkfs|diskpart)\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb
}

// ShellTool runs commands through sh -c with a per-call timeout.
type ShellTool struct {
	allowedCommands []string
	timeout         time.Duration
	workingDir      string
	logger          *slog.Logger
}

func NewShellTool(allowed []string, timeout time.Duration, workingDir string) *ShellTool {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ShellTool{allowedCommands: allowed, timeout: timeout, workingDir: workingDir, logger: slog.Default()}
}

func (t *ShellTool) Name() string { return "shell" }
func (t *ShellTool) Description() string {
	if len(t.allowedCommands) == 0 {
		return "Execute a shell command and return its output."
	}
	var b strings.Builder
	b.WriteString("Execute a shell command and return its output.\nAllowed command patterns:\n")
	for _, cmd := range t.allowedCommands {
		fmt.Fprintf(&b, "- %s\n", cmd)
	}
	return b.String()
}
func (t *ShellTool) Parameters() map[string]any {
	return ObjectSchema(map[string]any{
		"command":     Prop("string", "The shell command to execute"),
		"working_dir": Prop("string", "Working directory for the command (optional)"),
	}, "command")
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, ok := stringArg(args, "command")
	if !ok {
		return "", errors.New("missing or invalid 'command' argument")
	}
	if isDangerous(command) {
		return "Error: Command blocked by safety guard (potentially dangerous)", nil
	}
	if !isCommandAllowed(command, t.allowedCommands, t.logger) {
		return fmt.Sprintf("Error: command '%s' is not in the list of allowed commands", command), nil
	}

	cwd := t.workingDir
	if wd, ok := stringArg(args, "working_dir"); ok && wd != "" {
		cwd = wd
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: Command timed out after %s", t.timeout), nil
	}
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", errors.Wrapf(err, "command execution failed")
		}
		exitCode = exitErr.ExitCode()
	}

	var parts []string
	if stdout.Len() > 0 {
		parts = append(parts, stdout.String())
	}
	if s := strings.TrimSpace(stderr.String()); s != "" {
		parts = append(parts, "STDERR:\n"+s)
	}
	if exitCode != 0 {
		parts = append(parts, fmt.Sprintf("\nExit code: %d", exitCode))
	}
	result := "(no output)"
	if len(parts) > 0 {
		result = strings.Join(parts, "\n")
	}
	if cut, ok := truncateRunes(result, maxShellOutput); ok {
		result = cut + "\n... (truncated)"
	}
	return result, nil
}

func isDangerous(command string) bool {
	lower := strings.ToLower(command)
	for _, re := range dangerousPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}
