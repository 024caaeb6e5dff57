package codeact

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/m4xw311/spark/logging"
	"github.com/m4xw311/spark/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo the text back." }
func (echoTool) Parameters() map[string]any {
	return tools.ObjectSchema(map[string]any{
		"text":  tools.Prop("string", "Text to echo"),
		"times": tools.Prop("integer", "Repetitions"),
	}, "text")
}
func (echoTool) Execute(_ context.Context, args map[string]any) (string, error) {
	text := fmt.Sprint(args["text"])
	if n, ok := args["times"].(int64); ok {
		return strings.Repeat(text, int(n)), nil
	}
	return text, nil
}

type slowTool struct{ delay time.Duration }

func (slowTool) Name() string               { return "slow" }
func (slowTool) Description() string        { return "Takes its time." }
func (slowTool) Parameters() map[string]any { return tools.ObjectSchema(nil) }
func (s slowTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	select {
	case <-time.After(s.delay):
		return "finally", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// recordTool remembers the arguments of its last call.
type recordTool struct {
	mu   sync.Mutex
	args map[string]any
}

func (*recordTool) Name() string        { return "record" }
func (*recordTool) Description() string { return "Records its arguments." }
func (*recordTool) Parameters() map[string]any {
	return tools.ObjectSchema(map[string]any{"data": tools.Prop("object", "Anything")}, "data")
}
func (r *recordTool) Execute(_ context.Context, args map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.args = args
	return "ok", nil
}

func newTestExecutor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	r := tools.NewToolRegistry(logging.Discard())
	r.Register(echoTool{})
	r.Register(slowTool{delay: 2 * time.Second})
	return NewExecutor(r, append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

func TestExecutePrint(t *testing.T) {
	e := newTestExecutor(t)
	assert.Equal(t, "2", e.Execute(context.Background(), "print(1+1)"))
	assert.Equal(t, "a-b|", e.Execute(context.Background(), `print("a", "b", sep="-", end="|")`))
}

func TestExecuteNoOutput(t *testing.T) {
	e := newTestExecutor(t)
	assert.Equal(t, NoOutput, e.Execute(context.Background(), "x = 1"))
	assert.Equal(t, NoOutput, e.Execute(context.Background(), ""))
}

func TestNamespacePersistsUntilReset(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	assert.Equal(t, NoOutput, e.Execute(ctx, "x = 41\ndef inc(n):\n    return n + 1"))
	assert.Equal(t, "42", e.Execute(ctx, "print(inc(x))"))
	assert.Equal(t, NoOutput, e.Execute(ctx, "import json"))
	assert.Equal(t, `{"x": 41}`, e.Execute(ctx, `print(json.dumps({"x": x}))`))

	g := e.Globals()
	assert.Contains(t, g, "x")
	assert.Contains(t, g, "inc")
	assert.Contains(t, g, "json")
	assert.NotContains(t, g, "echo")
	assert.NotContains(t, g, "print")

	e.Reset()
	assert.Empty(t, e.Globals())
	out := e.Execute(ctx, "print(x)")
	assert.Contains(t, out, "NameError: name 'x' is not defined")
	assert.Equal(t, "hi", e.Execute(ctx, `print(echo(text="hi"))`))
}

func TestExecutorsAreIsolated(t *testing.T) {
	a, b := newTestExecutor(t), newTestExecutor(t)
	a.Execute(context.Background(), "secret = 1")
	assert.Contains(t, b.Execute(context.Background(), "print(secret)"), "NameError")
}

func TestExecuteErrorsAreReported(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	out := e.Execute(ctx, "def f(n):\n    return 1 // n\nprint(\"before\")\nf(0)")
	assert.True(t, strings.HasPrefix(out, "before\n"), out)
	assert.Contains(t, out, "Traceback (most recent call last)")
	assert.Contains(t, out, "ZeroDivisionError")

	out = e.Execute(ctx, `d = {}
print(d["missing"])`)
	assert.Contains(t, out, "KeyError")

	out = e.Execute(ctx, "def broken(:\n    pass")
	assert.Contains(t, out, "SyntaxError")

	// A failed execution leaves the namespace usable.
	assert.Equal(t, "ok", e.Execute(ctx, `print("ok")`))
}

func TestBlockedBuiltins(t *testing.T) {
	e := newTestExecutor(t)
	for _, name := range BlockedBuiltins {
		t.Run(name, func(t *testing.T) {
			out := e.Execute(context.Background(), name+"()")
			assert.Contains(t, out, fmt.Sprintf("NameError: name '%s' is not available in the sandbox", name))
		})
	}
}

func TestAllowedImports(t *testing.T) {
	e := newTestExecutor(t)
	for _, name := range AllowedImports {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, NoOutput, e.Execute(context.Background(), "import "+name))
		})
	}
	assert.Equal(t, "4.0", e.Execute(context.Background(), "from math import sqrt\nprint(sqrt(16))"))
	assert.Equal(t, "a%20b", e.Execute(context.Background(), "from urllib.parse import quote\nprint(quote(\"a b\"))"))
	assert.Equal(t, "a+b", e.Execute(context.Background(), "import urllib.parse\nprint(urllib.parse.quote_plus(\"a b\"))"))
}

func TestRejectedImports(t *testing.T) {
	e := newTestExecutor(t)
	tests := []struct {
		code, reason string
	}{
		{"import os", "Importing 'os' is not allowed in CodeAct mode"},
		{"import os.path", "Importing 'os.path' is not allowed in CodeAct mode"},
		{"from subprocess import run", "Importing 'subprocess' is not allowed in CodeAct mode"},
		{"import requests", "Importing 'requests' is not allowed"},
		{`load("socket", "create_connection")`, "Importing 'socket' is not allowed in CodeAct mode"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			out := e.Execute(context.Background(), tt.code)
			assert.Contains(t, out, "ImportError: "+tt.reason)
			assert.Contains(t, out, "Allowed modules: "+strings.Join(AllowedImports, ", "))
		})
	}
}

func TestWildcardImportRejected(t *testing.T) {
	e := newTestExecutor(t)
	out := e.Execute(context.Background(), "from math import *")
	assert.Contains(t, out, "ImportError: 'from math import *' is not supported")
}

func TestExceptionClasses(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	assert.Equal(t, "<class 'ValueError'>", e.Execute(ctx, "print(ValueError)"))
	assert.Equal(t, `True False ("k",)`, e.Execute(ctx, `err = KeyError("k")
print(isinstance(err, Exception), isinstance(err, ValueError), err.args)`))
	for _, name := range ExceptionNames {
		assert.Equal(t, "True", e.Execute(ctx, "print(callable("+name+"))"), name)
	}
}

func TestRaise(t *testing.T) {
	e := newTestExecutor(t)
	tests := []struct {
		name, code, want string
	}{
		{"message", "print(\"start\")\nraise ValueError(\"bad\")", "ValueError: bad"},
		{"inline", "def check(n):\n    if n < 0: raise ValueError(f\"negative: {n}\")\n    return n\ncheck(-1)", "ValueError: negative: -1"},
		{"bare class", "raise RuntimeError", "RuntimeError"},
		{"multi-line", "raise KeyError(\n    \"missing\",\n)", "KeyError: missing"},
		{"not an exception", `raise "oops"`, "TypeError: exceptions must derive from BaseException"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := e.Execute(context.Background(), tt.code)
			assert.True(t, strings.HasSuffix(out, "\n"+tt.want), out)
		})
	}
	assert.True(t, strings.HasPrefix(e.Execute(context.Background(), "print(\"start\")\nraise ValueError(\"bad\")"), "start\n"))
}

func TestUnsupportedStatements(t *testing.T) {
	e := newTestExecutor(t)

	out := e.Execute(context.Background(), "x = 1\ntry:\n    x = 1 // 0\nexcept ZeroDivisionError:\n    x = 0")
	assert.Contains(t, out, "line 2")
	assert.Contains(t, out, "SyntaxError: 'try' statements are not supported")

	out = e.Execute(context.Background(), "class Point:\n    pass")
	assert.Contains(t, out, "SyntaxError: 'class' definitions are not supported")
}

func TestOutputTruncation(t *testing.T) {
	e := newTestExecutor(t, WithMaxOutput(100))
	out := e.Execute(context.Background(), `print("a" * 300 + "b" * 200)`)

	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", 50)+"\n\n... truncated 400 chars ...\n\n"), out)
	assert.True(t, strings.HasSuffix(out, strings.Repeat("b", 50)), out)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly10!", truncate("exactly10!", 10))

	s := strings.Repeat("é", 25)
	out := truncate(s, 10)
	assert.Equal(t, strings.Repeat("é", 5)+"\n\n... truncated 15 chars ...\n\n"+strings.Repeat("é", 5), out)
	assert.True(t, utf8.ValidString(out))

	// Odd limits keep max/2 characters on each side.
	out = truncate(strings.Repeat("x", 20), 7)
	assert.Equal(t, "xxx\n\n... truncated 14 chars ...\n\nxxx", out)
}

func TestToolCallsFromCode(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	assert.Equal(t, "hi", e.Execute(ctx, `print(echo(text="hi"))`))
	assert.Equal(t, "hihi", e.Execute(ctx, `print(echo("hi", 2))`))
	assert.Equal(t, "hi", e.Execute(ctx, `print(echo("hi", times=None))`))
	assert.Equal(t, "string", e.Execute(ctx, `r = echo(text="x")
print(type(r))`))

	out := e.Execute(ctx, `print(echo())`)
	assert.Equal(t, "Error executing echo: missing required argument 'text'", out)

	out = e.Execute(ctx, `echo("a", 2, 3)`)
	assert.Contains(t, out, "TypeError: echo() takes 2 positional arguments but 3 were given")

	out = e.Execute(ctx, `echo("a", text="b")`)
	assert.Contains(t, out, "got multiple values for argument 'text'")
}

func TestToolArgumentsConverted(t *testing.T) {
	rec := &recordTool{}
	r := tools.NewToolRegistry(logging.Discard())
	r.Register(rec)
	e := NewExecutor(r, WithLogger(logging.Discard()))

	out := e.Execute(context.Background(), `print(record(data={"n": 1, "xs": [1.5, True, None], "t": ("a",)}))`)
	require.Equal(t, "ok", out)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, map[string]any{
		"data": map[string]any{
			"n":  int64(1),
			"xs": []any{1.5, true, nil},
			"t":  []any{"a"},
		},
	}, rec.args)
}

func TestToolTimeout(t *testing.T) {
	e := newTestExecutor(t, WithTimeout(50*time.Millisecond))

	start := time.Now()
	out := e.Execute(context.Background(), `print(slow())`)
	assert.Equal(t, "Error: tool 'slow' timed out after 50ms", out)
	assert.Less(t, time.Since(start), time.Second)

	// The executor stays usable after a timed-out call.
	assert.Equal(t, "hi", e.Execute(context.Background(), `print(echo(text="hi"))`))
}

func TestExecuteCancelled(t *testing.T) {
	e := newTestExecutor(t, WithMaxSteps(0))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := e.Execute(ctx, "n = 0\nwhile True:\n    n += 1")
	assert.Contains(t, out, "cancelled")
}

func TestStepBudget(t *testing.T) {
	e := newTestExecutor(t, WithMaxSteps(1000))
	out := e.Execute(context.Background(), "for i in range(1000000):\n    pass")
	assert.Contains(t, out, "TimeoutError: execution exceeded its step budget")
}

func TestConcurrentExecutionsAreSerialized(t *testing.T) {
	e := newTestExecutor(t)
	e.Execute(context.Background(), "total = 0")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Execute(context.Background(), "total = total + 1")
		}()
	}
	wg.Wait()
	assert.Equal(t, "20", e.Globals()["total"].String())
}
