package codeact

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

const maxConvertDepth = 64

// toGo converts a Starlark value into the JSON-like Go values tool
// arguments are made of.
func toGo(v starlark.Value) (any, error) {
	return toGoDepth(v, 0)
}

func toGoDepth(v starlark.Value, depth int) (any, error) {
	if depth > maxConvertDepth {
		return nil, fmt.Errorf("value nested too deeply")
	}
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return i, nil
		}
		return x.String(), nil
	case starlark.Float:
		return float64(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Bytes:
		return string(x), nil
	case starlark.IterableMapping:
		out := make(map[string]any)
		for _, kv := range x.Items() {
			val, err := toGoDepth(kv[1], depth+1)
			if err != nil {
				return nil, err
			}
			out[str(kv[0])] = val
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]any)
		names := x.AttrNames()
		sort.Strings(names)
		for _, name := range names {
			attr, err := x.Attr(name)
			if err != nil {
				return nil, err
			}
			val, err := toGoDepth(attr, depth+1)
			if err != nil {
				return nil, err
			}
			out[name] = val
		}
		return out, nil
	case starlark.Iterable:
		elems, err := listOf(x)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(elems))
		for _, e := range elems {
			val, err := toGoDepth(e, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	}
	return str(v), nil
}
