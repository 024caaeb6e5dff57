package codeact

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// AllowedImports are the modules generated code may import.
var AllowedImports = []string{
	"base64", "collections", "csv", "datetime", "functools", "hashlib",
	"io", "itertools", "json", "math", "operator", "pathlib", "re",
	"string", "textwrap", "urllib.parse",
}

// BlockedImports are rejected outright: process, filesystem, network,
// concurrency and arbitrary-object serialisation primitives.
var BlockedImports = []string{
	"ctypes", "http", "importlib", "multiprocessing", "os", "pickle",
	"shutil", "signal", "socket", "subprocess", "sys", "threading",
}

// BlockedBuiltins are bound to stubs that fail with a NameError.
var BlockedBuiltins = []string{
	"breakpoint", "compile", "delattr", "eval", "exec", "exit", "globals",
	"help", "input", "locals", "memoryview", "open", "quit", "setattr", "vars",
}

var (
	allowedSet = toSet(AllowedImports)
	blockedSet = toSet(BlockedImports)
)

func init() {
	if overlap := listOverlap(AllowedImports, BlockedImports); len(overlap) > 0 {
		panic(fmt.Sprintf("codeact: import allow and block lists overlap: %v", overlap))
	}
	for name := range allowedSet {
		if _, ok := moduleFactories[name]; !ok {
			panic(fmt.Sprintf("codeact: allowed module %q has no implementation", name))
		}
	}
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func listOverlap(a, b []string) []string {
	bs := toSet(b)
	var out []string
	for _, n := range a {
		if bs[n] {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// ImportError is raised for rejected imports.
type ImportError struct {
	Module string
	Reason string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("ImportError: %s. Allowed modules: %s", e.Reason, strings.Join(AllowedImports, ", "))
}

// checkImport applies the block list, then the allow list.
func checkImport(name string) error {
	top, _, _ := strings.Cut(name, ".")
	if blockedSet[top] || blockedSet[name] {
		return &ImportError{Module: name, Reason: fmt.Sprintf("Importing '%s' is not allowed in CodeAct mode", name)}
	}
	if !allowedSet[name] {
		return &ImportError{Module: name, Reason: fmt.Sprintf("Importing '%s' is not allowed", name)}
	}
	return nil
}

// moduleCache holds built modules. Modules are frozen on creation, so one
// instance can be shared by every executor.
var (
	moduleMu    sync.Mutex
	moduleCache = map[string]*starlarkstruct.Module{}
)

func loadModule(name string) (*starlarkstruct.Module, error) {
	if err := checkImport(name); err != nil {
		return nil, err
	}
	moduleMu.Lock()
	defer moduleMu.Unlock()
	if m, ok := moduleCache[name]; ok {
		return m, nil
	}
	m := moduleFactories[name]()
	m.Freeze()
	moduleCache[name] = m
	return m, nil
}

// importBuiltin implements __import__(name, leaf=False, wildcard=False).
// Without leaf a dotted name returns its top-level package, as Python's
// import statement binds it.
var importBuiltin = starlark.NewBuiltin("__import__", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name     string
		leaf     bool
		wildcard bool
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "leaf?", &leaf, "wildcard?", &wildcard); err != nil {
		return nil, err
	}
	if strings.HasPrefix(name, ".") {
		return nil, &ImportError{Module: name, Reason: "relative imports are not supported"}
	}
	m, err := loadModule(name)
	if err != nil {
		return nil, err
	}
	if wildcard {
		return nil, fmt.Errorf("ImportError: 'from %s import *' is not supported; import names explicitly", name)
	}
	if leaf || !strings.Contains(name, ".") {
		return m, nil
	}
	// Wrap the leaf in its parent packages: urllib.parse -> urllib{parse}.
	parts := strings.Split(name, ".")
	var v starlark.Value = m
	for i := len(parts) - 2; i >= 0; i-- {
		v = &starlarkstruct.Module{Name: parts[i], Members: starlark.StringDict{parts[i+1]: v}}
	}
	return v, nil
})

// loader serves Starlark load() statements through the same guard.
func loader(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	m, err := loadModule(module)
	if err != nil {
		return nil, err
	}
	return m.Members, nil
}

func blockedStub(name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return nil, fmt.Errorf("NameError: name '%s' is not available in the sandbox", name)
	})
}

// seedNamespace returns the predeclared names of a fresh namespace:
// extra builtins, blocked stubs and the guarded import.
func seedNamespace() starlark.StringDict {
	ns := starlark.StringDict{}
	for name, fn := range extraBuiltins() {
		ns[name] = fn
	}
	for _, name := range BlockedBuiltins {
		ns[name] = blockedStub(name)
	}
	ns["__import__"] = importBuiltin
	ns["__raise__"] = raiseBuiltin
	for name, class := range newExceptionClasses() {
		ns[name] = class
	}
	return ns
}
