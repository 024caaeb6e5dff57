package codeact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/spark/errors"
	"github.com/m4xw311/spark/tools"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxOutput = 4000
	DefaultMaxSteps  = 10_000_000

	// NoOutput is returned when the code printed nothing.
	NoOutput = "(no output)"
)

const (
	chunkName  = "<execute>"
	contextKey = "codeact.context"
)

var fileOptions = &syntax.FileOptions{
	Set:               true,
	While:             true,
	TopLevelControl:   true,
	GlobalReassign:    true,
	Recursion:         true,
	LoadBindsGlobally: true,
}

// pyErrorRE matches messages that already carry a Python exception name.
var pyErrorRE = regexp.MustCompile(`^(?:[A-Z]\w*(?:Error|Exception|Interrupt)|Exception|StopIteration): `)

// Executor runs generated code against a namespace that persists across
// calls until Reset. Executions on one Executor are serialized.
type Executor struct {
	registry  *tools.ToolRegistry
	timeout   time.Duration
	maxOutput int
	maxSteps  uint64
	logger    *slog.Logger

	mu      sync.Mutex
	globals starlark.StringDict
	seeded  starlark.StringDict
}

type Option func(*Executor)

// WithTimeout bounds each tool call made from generated code.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxOutput caps the returned observation, in characters.
func WithMaxOutput(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxOutput = n
		}
	}
}

// WithMaxSteps caps interpreter steps per execution. Zero disables the cap.
func WithMaxSteps(n uint64) Option {
	return func(e *Executor) { e.maxSteps = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor returns an executor whose namespace exposes every tool in
// registry as a function. A nil registry exposes no tools.
func NewExecutor(registry *tools.ToolRegistry, opts ...Option) *Executor {
	e := &Executor{
		registry:  registry,
		timeout:   DefaultTimeout,
		maxOutput: DefaultMaxOutput,
		maxSteps:  DefaultMaxSteps,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.mu.Lock()
	e.reset()
	e.mu.Unlock()
	return e
}

// Reset clears every user-defined name and re-seeds the namespace.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
}

func (e *Executor) reset() {
	ns := seedNamespace()
	if e.registry != nil {
		for _, spec := range e.registry.Specs() {
			if _, taken := ns[spec.Name]; taken {
				e.logger.Warn("tool shadows a sandbox builtin", "tool", spec.Name)
			}
			ns[spec.Name] = e.toolFunc(spec)
		}
	}
	e.seeded = make(starlark.StringDict, len(ns))
	for k, v := range ns {
		e.seeded[k] = v
	}
	e.globals = ns
}

// Globals returns a snapshot of the names defined by executed code.
func (e *Executor) Globals() starlark.StringDict {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := starlark.StringDict{}
	for name, v := range e.globals {
		if seed, ok := e.seeded[name]; ok && seed == v {
			continue
		}
		out[name] = v
	}
	return out
}

// Execute runs code and returns its combined output: stdout, then any
// error traceback, trimmed and truncated to the configured maximum.
func (e *Executor) Execute(ctx context.Context, code string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stdout, stderr bytes.Buffer
	start := time.Now()
	e.run(ctx, code, &stdout, &stderr)
	e.logger.Debug("executed code", "duration", time.Since(start), "stdout", stdout.Len(), "stderr", stderr.Len())

	return e.combine(stdout.String(), stderr.String())
}

func (e *Executor) run(ctx context.Context, code string, stdout, stderr io.Writer) {
	src, err := translate(code)
	if err != nil {
		io.WriteString(stderr, formatError(err))
		return
	}
	f, err := fileOptions.Parse(chunkName, src, 0)
	if err != nil {
		io.WriteString(stderr, formatError(err))
		return
	}

	thread := &starlark.Thread{
		Name: "codeact",
		Load: loader,
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(stdout, msg)
		},
	}
	thread.SetLocal(stdoutKey, stdout)
	thread.SetLocal(contextKey, ctx)
	if e.maxSteps > 0 {
		thread.SetMaxExecutionSteps(e.maxSteps)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	if err := starlark.ExecREPLChunk(f, thread, e.globals); err != nil {
		io.WriteString(stderr, formatError(err))
	}
}

// formatError renders interpreter errors the way Python reports them.
func formatError(err error) string {
	var (
		evalErr  *starlark.EvalError
		synErr   syntax.Error
		resolved resolve.ErrorList
	)
	switch {
	case errors.As(err, &evalErr):
		return evalErr.CallStack.String() + exceptionLine(evalErr.Msg) + "\n"
	case errors.As(err, &synErr):
		return fmt.Sprintf("  File \"%s\", line %d\nSyntaxError: %s\n", chunkName, synErr.Pos.Line, synErr.Msg)
	case errors.As(err, &resolved):
		var sb strings.Builder
		for _, re := range resolved {
			fmt.Fprintf(&sb, "  File \"%s\", line %d\n", chunkName, re.Pos.Line)
			if name, ok := strings.CutPrefix(re.Msg, "undefined: "); ok {
				fmt.Fprintf(&sb, "NameError: name '%s' is not defined\n", name)
			} else {
				fmt.Fprintf(&sb, "SyntaxError: %s\n", re.Msg)
			}
		}
		return sb.String()
	}
	return exceptionLine(err.Error()) + "\n"
}

func exceptionLine(msg string) string {
	// Builtin errors arrive as "<builtin>: <message>".
	if i := strings.Index(msg, ": "); i > 0 && pyErrorRE.MatchString(msg[i+2:]) {
		return strings.TrimSuffix(msg[i+2:], ": ")
	}
	if pyErrorRE.MatchString(msg) {
		return strings.TrimSuffix(msg, ": ")
	}
	switch {
	case strings.Contains(msg, "too many steps"):
		return "TimeoutError: execution exceeded its step budget"
	case strings.Contains(msg, "cancelled"):
		return "KeyboardInterrupt: " + msg
	case strings.Contains(msg, "division by zero"), strings.Contains(msg, "division or modulo by zero"):
		return "ZeroDivisionError: " + msg
	case strings.Contains(msg, "index out of range"):
		return "IndexError: " + msg
	case strings.Contains(msg, "key ") && strings.Contains(msg, "not in dict"):
		return "KeyError: " + msg
	case strings.Contains(msg, "has no ") && strings.Contains(msg, "attribute"):
		return "AttributeError: " + msg
	}
	return "Error: " + msg
}

// combine joins the streams and applies the output bounds.
func (e *Executor) combine(stdout, stderr string) string {
	var parts []string
	if stdout != "" {
		parts = append(parts, stdout)
	}
	if stderr != "" {
		parts = append(parts, stderr)
	}
	out := strings.TrimRight(strings.Join(parts, "\n"), "\n")
	if strings.TrimSpace(out) == "" {
		return NoOutput
	}
	return truncate(out, e.maxOutput)
}

// truncate keeps max/2 characters from each end of s.
func truncate(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	half := max / 2
	omitted := len(runes) - 2*half
	return string(runes[:half]) + fmt.Sprintf("\n\n... truncated %d chars ...\n\n", omitted) + string(runes[len(runes)-half:])
}
