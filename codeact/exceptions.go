package codeact

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// Exception classes generated code can construct, raise and test with
// isinstance. There is no try/except: a raised exception ends the
// execution and is reported like any other error.

// ExceptionNames lists the exception classes bound in every namespace.
var ExceptionNames = []string{
	"Exception", "ValueError", "TypeError", "KeyError", "IndexError",
	"RuntimeError", "StopIteration", "AttributeError",
}

type exceptionClass struct {
	name string
	base *exceptionClass
}

var (
	_ starlark.Callable = (*exceptionClass)(nil)
	_ starlark.HasAttrs = (*exceptionValue)(nil)
)

func (c *exceptionClass) String() string        { return "<class '" + c.name + "'>" }
func (c *exceptionClass) Type() string          { return "type" }
func (c *exceptionClass) Freeze()               {}
func (c *exceptionClass) Truth() starlark.Bool  { return true }
func (c *exceptionClass) Hash() (uint32, error) { return starlark.String(c.name).Hash() }
func (c *exceptionClass) Name() string          { return c.name }

func (c *exceptionClass) CallInternal(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("TypeError: %s() takes no keyword arguments", c.name)
	}
	return &exceptionValue{class: c, args: args}, nil
}

// subclassOf reports whether c is other or derives from it.
func (c *exceptionClass) subclassOf(other *exceptionClass) bool {
	for k := c; k != nil; k = k.base {
		if k == other {
			return true
		}
	}
	return false
}

type exceptionValue struct {
	class *exceptionClass
	args  starlark.Tuple
}

func (e *exceptionValue) String() string {
	parts := make([]string, len(e.args))
	for i, a := range e.args {
		parts[i] = a.String()
	}
	return e.class.name + "(" + strings.Join(parts, ", ") + ")"
}
func (e *exceptionValue) Type() string          { return e.class.name }
func (e *exceptionValue) Freeze()               { e.args.Freeze() }
func (e *exceptionValue) Truth() starlark.Bool  { return true }
func (e *exceptionValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: '%s'", e.class.name) }
func (e *exceptionValue) AttrNames() []string   { return []string{"args"} }

func (e *exceptionValue) Attr(name string) (starlark.Value, error) {
	if name == "args" {
		return e.args, nil
	}
	return nil, nil
}

// message is the text Python prints after the class name.
func (e *exceptionValue) message() string {
	switch len(e.args) {
	case 0:
		return ""
	case 1:
		if s, ok := e.args[0].(starlark.String); ok {
			return string(s)
		}
		return e.args[0].String()
	}
	return e.args.String()
}

func newExceptionClasses() map[string]*exceptionClass {
	base := &exceptionClass{name: "Exception"}
	classes := map[string]*exceptionClass{"Exception": base}
	for _, name := range ExceptionNames[1:] {
		classes[name] = &exceptionClass{name: name, base: base}
	}
	return classes
}

// raiseBuiltin implements the raise statement after translation:
// raise X(msg) becomes __raise__(X(msg)).
var raiseBuiltin = starlark.NewBuiltin("__raise__", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &v); err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, fmt.Errorf("RuntimeError: No active exception to reraise")
	case *exceptionClass:
		return nil, fmt.Errorf("%s: ", x.name)
	case *exceptionValue:
		return nil, fmt.Errorf("%s: %s", x.class.name, x.message())
	}
	return nil, fmt.Errorf("TypeError: exceptions must derive from BaseException")
})
