package codeact

import (
	"context"
	"fmt"
	"time"

	"github.com/m4xw311/spark/tools"
	"go.starlark.net/starlark"
)

// toolFunc exposes a registered tool to generated code. Positional
// arguments bind in signature order; None arguments are omitted.
func (e *Executor) toolFunc(spec tools.Spec) *starlark.Builtin {
	order := tools.ParamOrder(spec)
	return starlark.NewBuiltin(spec.Name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) > len(order) {
			return nil, fmt.Errorf("TypeError: %s() takes %d positional arguments but %d were given", b.Name(), len(order), len(args))
		}
		callArgs := make(map[string]any, len(args)+len(kwargs))
		set := func(key string, v starlark.Value) error {
			if _, dup := callArgs[key]; dup {
				return fmt.Errorf("TypeError: %s() got multiple values for argument '%s'", b.Name(), key)
			}
			if v == starlark.None {
				return nil
			}
			goVal, err := toGo(v)
			if err != nil {
				return fmt.Errorf("TypeError: %s() argument '%s': %v", b.Name(), key, err)
			}
			callArgs[key] = goVal
			return nil
		}
		for i, a := range args {
			if err := set(order[i], a); err != nil {
				return nil, err
			}
		}
		for _, kv := range kwargs {
			if err := set(string(kv[0].(starlark.String)), kv[1]); err != nil {
				return nil, err
			}
		}
		return starlark.String(e.callTool(threadContext(thread), spec.Name, callArgs)), nil
	})
}

// callTool dispatches on a worker goroutine and waits at most the
// executor's timeout. A timed-out worker is abandoned; its context is
// cancelled so a well-behaved tool returns soon after.
func (e *Executor) callTool(parent context.Context, name string, args map[string]any) string {
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	result := make(chan string, 1)
	start := time.Now()
	go func() {
		result <- e.registry.Dispatch(ctx, name, args)
	}()

	select {
	case out := <-result:
		e.logger.Debug("tool called from code", "tool", name, "duration", time.Since(start))
		return out
	case <-ctx.Done():
		if parent.Err() != nil {
			return fmt.Sprintf("Error: tool '%s' cancelled: %v", name, parent.Err())
		}
		e.logger.Warn("tool call from code timed out", "tool", name, "timeout", e.timeout)
		return fmt.Sprintf("Error: tool '%s' timed out after %s", name, e.timeout)
	}
}

func threadContext(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(contextKey).(context.Context); ok && ctx != nil {
		return ctx
	}
	return context.Background()
}
