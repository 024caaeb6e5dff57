package codeact

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// maxGenerated bounds the size of lists built by itertools.
const maxGenerated = 1 << 20

func collectionsModule() *starlarkstruct.Module {
	return newModule("collections", map[string]builtinFunc{
		"Counter":     counterNew,
		"defaultdict": defaultDictNew,
		"deque":       dequeNew,
		"namedtuple":  namedTuple,
	}, starlark.StringDict{
		"OrderedDict": starlark.Universe["dict"],
	})
}

// Counter

type counter struct {
	*starlark.Dict
}

var (
	_ starlark.IterableMapping = (*counter)(nil)
	_ starlark.HasSetKey       = (*counter)(nil)
	_ starlark.Comparable      = (*counter)(nil)
)

func counterNew(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var it starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 0, &it); err != nil {
		return nil, err
	}
	c := &counter{starlark.NewDict(0)}
	if it != nil && it != starlark.None {
		if err := c.add(it, 1); err != nil {
			return nil, err
		}
	}
	for _, kv := range kwargs {
		if err := c.incr(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *counter) Type() string   { return "Counter" }
func (c *counter) String() string { return "Counter(" + c.Dict.String() + ")" }

// Get reports missing keys as zero, so that c[k] += 1 works.
func (c *counter) Get(k starlark.Value) (starlark.Value, bool, error) {
	v, found, err := c.Dict.Get(k)
	if err != nil || found {
		return v, found, err
	}
	return starlark.MakeInt(0), true, nil
}

func (c *counter) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	return c.Dict.CompareSameType(op, y.(*counter).Dict, depth)
}

func (c *counter) incr(k, n starlark.Value) error {
	cur, found, err := c.Dict.Get(k)
	if err != nil {
		return err
	}
	if !found {
		cur = starlark.MakeInt(0)
	}
	sum, err := starlark.Binary(syntax.PLUS, cur, n)
	if err != nil {
		return err
	}
	return c.Dict.SetKey(k, sum)
}

// add counts the elements of an iterable, or adds the counts of a mapping,
// multiplied by sign.
func (c *counter) add(src starlark.Value, sign int) error {
	if m, ok := src.(starlark.IterableMapping); ok {
		for _, kv := range m.Items() {
			n := kv[1]
			if sign < 0 {
				var err error
				if n, err = starlark.Unary(syntax.MINUS, n); err != nil {
					return err
				}
			}
			if err := c.incr(kv[0], n); err != nil {
				return err
			}
		}
		return nil
	}
	vs, err := listOf(src)
	if err != nil {
		return err
	}
	for _, v := range vs {
		if err := c.incr(v, starlark.MakeInt(sign)); err != nil {
			return err
		}
	}
	return nil
}

func (c *counter) AttrNames() []string {
	names := append(c.Dict.AttrNames(), "elements", "most_common", "subtract", "total")
	sort.Strings(names)
	return names
}

func (c *counter) Attr(name string) (starlark.Value, error) {
	switch name {
	case "most_common":
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var n starlark.Value = starlark.None
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &n); err != nil {
				return nil, err
			}
			items := c.Dict.Items()
			var sortErr error
			sort.SliceStable(items, func(i, j int) bool {
				gt, err := starlark.Compare(syntax.GT, items[i][1], items[j][1])
				if err != nil {
					sortErr = err
				}
				return gt
			})
			if sortErr != nil {
				return nil, sortErr
			}
			if n != starlark.None {
				var k int
				if err := starlark.AsInt(n, &k); err != nil {
					return nil, err
				}
				if k >= 0 && k < len(items) {
					items = items[:k]
				}
			}
			out := make([]starlark.Value, len(items))
			for i, kv := range items {
				out[i] = kv
			}
			return starlark.NewList(out), nil
		}), nil
	case "elements":
		return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			var out []starlark.Value
			for _, kv := range c.Dict.Items() {
				var n int
				if err := starlark.AsInt(kv[1], &n); err != nil {
					continue
				}
				for i := 0; i < n; i++ {
					out = append(out, kv[0])
				}
			}
			return starlark.NewList(out), nil
		}), nil
	case "update", "subtract":
		sign := 1
		if name == "subtract" {
			sign = -1
		}
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var src starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 0, &src); err != nil {
				return nil, err
			}
			if src != nil {
				if err := c.add(src, sign); err != nil {
					return nil, err
				}
			}
			for _, kv := range kwargs {
				n := kv[1]
				if sign < 0 {
					var err error
					if n, err = starlark.Unary(syntax.MINUS, n); err != nil {
						return nil, err
					}
				}
				if err := c.incr(kv[0], n); err != nil {
					return nil, err
				}
			}
			return starlark.None, nil
		}), nil
	case "total":
		return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			var acc starlark.Value = starlark.MakeInt(0)
			for _, kv := range c.Dict.Items() {
				var err error
				if acc, err = starlark.Binary(syntax.PLUS, acc, kv[1]); err != nil {
					return nil, err
				}
			}
			return acc, nil
		}), nil
	}
	return c.Dict.Attr(name)
}

// defaultdict

type defaultDict struct {
	*starlark.Dict
	factory starlark.Value
}

var _ starlark.IterableMapping = (*defaultDict)(nil)

func defaultDictNew(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var factory, init starlark.Value = starlark.None, nil
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &factory, &init); err != nil {
		return nil, err
	}
	if _, ok := factory.(starlark.Callable); !ok && factory != starlark.None {
		return nil, fmt.Errorf("TypeError: first argument must be callable or None")
	}
	d := &defaultDict{Dict: starlark.NewDict(0), factory: factory}
	if m, ok := init.(starlark.IterableMapping); ok {
		for _, kv := range m.Items() {
			if err := d.Dict.SetKey(kv[0], kv[1]); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}

func (d *defaultDict) Type() string { return "defaultdict" }

func (d *defaultDict) String() string {
	return "defaultdict(" + d.factory.String() + ", " + d.Dict.String() + ")"
}

// Get inserts the factory's value for missing keys.
func (d *defaultDict) Get(k starlark.Value) (starlark.Value, bool, error) {
	v, found, err := d.Dict.Get(k)
	if err != nil || found || d.factory == starlark.None {
		return v, found, err
	}
	thread := &starlark.Thread{Name: "defaultdict"}
	if v, err = starlark.Call(thread, d.factory, nil, nil); err != nil {
		return nil, false, err
	}
	if err := d.Dict.SetKey(k, v); err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (d *defaultDict) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	return d.Dict.CompareSameType(op, y.(*defaultDict).Dict, depth)
}

// deque

type deque struct {
	items  []starlark.Value
	maxlen int // negative: unbounded
	frozen bool
}

var (
	_ starlark.Indexable = (*deque)(nil)
	_ starlark.Iterable  = (*deque)(nil)
	_ starlark.HasAttrs  = (*deque)(nil)
)

func dequeNew(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		it     starlark.Value = starlark.Tuple{}
		maxlen starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable?", &it, "maxlen?", &maxlen); err != nil {
		return nil, err
	}
	d := &deque{maxlen: -1}
	if maxlen != starlark.None {
		if err := starlark.AsInt(maxlen, &d.maxlen); err != nil {
			return nil, err
		}
	}
	vs, err := listOf(it)
	if err != nil {
		return nil, err
	}
	for _, v := range vs {
		d.push(v, false)
	}
	return d, nil
}

func (d *deque) String() string {
	parts := make([]string, len(d.items))
	for i, v := range d.items {
		parts[i] = v.String()
	}
	return "deque([" + strings.Join(parts, ", ") + "])"
}

func (d *deque) Type() string          { return "deque" }
func (d *deque) Freeze()               { d.frozen = true }
func (d *deque) Truth() starlark.Bool  { return len(d.items) > 0 }
func (d *deque) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: deque") }
func (d *deque) Len() int              { return len(d.items) }
func (d *deque) Index(i int) starlark.Value {
	return d.items[i]
}

func (d *deque) Iterate() starlark.Iterator {
	return starlark.NewList(append([]starlark.Value(nil), d.items...)).Iterate()
}

func (d *deque) push(v starlark.Value, left bool) {
	if left {
		d.items = append([]starlark.Value{v}, d.items...)
		if d.maxlen >= 0 && len(d.items) > d.maxlen {
			d.items = d.items[:d.maxlen]
		}
		return
	}
	d.items = append(d.items, v)
	if d.maxlen >= 0 && len(d.items) > d.maxlen {
		d.items = d.items[len(d.items)-d.maxlen:]
	}
}

func (d *deque) AttrNames() []string {
	return []string{"append", "appendleft", "clear", "extend", "extendleft", "maxlen", "pop", "popleft", "rotate"}
}

func (d *deque) Attr(name string) (starlark.Value, error) {
	method := func(fn builtinFunc) (starlark.Value, error) {
		return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if d.frozen {
				return nil, fmt.Errorf("cannot modify frozen deque")
			}
			return fn(thread, b, args, kwargs)
		}), nil
	}
	switch name {
	case "maxlen":
		if d.maxlen < 0 {
			return starlark.None, nil
		}
		return starlark.MakeInt(d.maxlen), nil
	case "append", "appendleft":
		return method(func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var v starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
				return nil, err
			}
			d.push(v, name == "appendleft")
			return starlark.None, nil
		})
	case "extend", "extendleft":
		return method(func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var it starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &it); err != nil {
				return nil, err
			}
			vs, err := listOf(it)
			if err != nil {
				return nil, err
			}
			for _, v := range vs {
				d.push(v, name == "extendleft")
			}
			return starlark.None, nil
		})
	case "pop", "popleft":
		return method(func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			if len(d.items) == 0 {
				return nil, fmt.Errorf("IndexError: pop from an empty deque")
			}
			var v starlark.Value
			if name == "popleft" {
				v, d.items = d.items[0], d.items[1:]
			} else {
				v, d.items = d.items[len(d.items)-1], d.items[:len(d.items)-1]
			}
			return v, nil
		})
	case "clear":
		return method(func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			d.items = nil
			return starlark.None, nil
		})
	case "rotate":
		return method(func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			n := 1
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &n); err != nil {
				return nil, err
			}
			if l := len(d.items); l > 0 {
				n = ((n % l) + l) % l
				d.items = append(d.items[l-n:], d.items[:l-n]...)
			}
			return starlark.None, nil
		})
	}
	return nil, nil
}

// namedtuple returns a constructor building structs with the given fields.
func namedTuple(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		typename string
		fieldsV  starlark.Value
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "typename", &typename, "field_names", &fieldsV); err != nil {
		return nil, err
	}
	var fields []string
	if s, ok := fieldsV.(starlark.String); ok {
		fields = strings.Fields(strings.ReplaceAll(string(s), ",", " "))
	} else {
		vs, err := listOf(fieldsV)
		if err != nil {
			return nil, err
		}
		for _, v := range vs {
			s, ok := v.(starlark.String)
			if !ok {
				return nil, fmt.Errorf("TypeError: field names must be strings")
			}
			fields = append(fields, string(s))
		}
	}

	ctor := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) > len(fields) {
			return nil, fmt.Errorf("TypeError: %s takes %d positional arguments but %d were given", typename, len(fields), len(args))
		}
		d := starlark.StringDict{}
		for i, a := range args {
			d[fields[i]] = a
		}
		for _, kv := range kwargs {
			d[string(kv[0].(starlark.String))] = kv[1]
		}
		for _, f := range fields {
			if _, ok := d[f]; !ok {
				return nil, fmt.Errorf("TypeError: %s missing required argument '%s'", typename, f)
			}
		}
		if len(d) != len(fields) {
			return nil, fmt.Errorf("TypeError: %s got an unexpected keyword argument", typename)
		}
		return starlarkstruct.FromStringDict(starlark.String(typename), d), nil
	}
	return newClass(typename, ctor, nil), nil
}

// itertools

func itertoolsModule() *starlarkstruct.Module {
	return newModule("itertools", map[string]builtinFunc{
		"accumulate":                    itAccumulate,
		"chain":                         itChain,
		"combinations":                  itCombinatoric(false, false),
		"combinations_with_replacement": itCombinatoric(false, true),
		"permutations":                  itCombinatoric(true, false),
		"dropwhile":                     itWhile(false),
		"takewhile":                     itWhile(true),
		"groupby":                       itGroupBy,
		"islice":                        itIslice,
		"pairwise":                      itPairwise,
		"product":                       itProduct,
		"repeat":                        itRepeat,
		"starmap":                       itStarmap,
		"zip_longest":                   itZipLongest,
	}, nil)
}

func itChain(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	var out []starlark.Value
	for _, a := range args {
		vs, err := listOf(a)
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return starlark.NewList(out), nil
}

func itAccumulate(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		it      starlark.Value
		fn      starlark.Value = starlark.None
		initial starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &it, "func?", &fn, "initial?", &initial); err != nil {
		return nil, err
	}
	vs, err := listOf(it)
	if err != nil {
		return nil, err
	}
	if initial != starlark.None {
		vs = append([]starlark.Value{initial}, vs...)
	}
	var out []starlark.Value
	var acc starlark.Value
	for i, v := range vs {
		if i == 0 {
			acc = v
		} else if fn == starlark.None {
			acc, err = starlark.Binary(syntax.PLUS, acc, v)
		} else {
			acc, err = starlark.Call(thread, fn, starlark.Tuple{acc, v}, nil)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return starlark.NewList(out), nil
}

// itCombinatoric builds permutations (ordered) or combinations, with or
// without replacement, as a list of tuples.
func itCombinatoric(ordered, replacement bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			it starlark.Value
			rv starlark.Value = starlark.None
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &it, "r?", &rv); err != nil {
			return nil, err
		}
		pool, err := listOf(it)
		if err != nil {
			return nil, err
		}
		r := len(pool)
		if rv != starlark.None {
			if err := starlark.AsInt(rv, &r); err != nil {
				return nil, err
			}
		} else if !ordered {
			return nil, fmt.Errorf("%s: missing argument for r", b.Name())
		}
		if r < 0 {
			return nil, fmt.Errorf("ValueError: r must be non-negative")
		}

		var out []starlark.Value
		idx := make([]int, 0, r)
		used := make([]bool, len(pool))
		var rec func(start int) error
		rec = func(start int) error {
			if len(idx) == r {
				if len(out) >= maxGenerated {
					return fmt.Errorf("%s: too many results", b.Name())
				}
				t := make(starlark.Tuple, r)
				for i, j := range idx {
					t[i] = pool[j]
				}
				out = append(out, t)
				return nil
			}
			from := start
			if ordered {
				from = 0
			}
			for j := from; j < len(pool); j++ {
				if ordered && used[j] {
					continue
				}
				used[j] = true
				idx = append(idx, j)
				next := j + 1
				if replacement {
					next = j
				}
				err := rec(next)
				idx = idx[:len(idx)-1]
				used[j] = false
				if err != nil {
					return err
				}
			}
			return nil
		}
		if r <= len(pool) || replacement {
			if err := rec(0); err != nil {
				return nil, err
			}
		}
		return starlark.NewList(out), nil
	}
}

func itWhile(take bool) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var pred, it starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &pred, &it); err != nil {
			return nil, err
		}
		vs, err := listOf(it)
		if err != nil {
			return nil, err
		}
		for i, v := range vs {
			ok, err := starlark.Call(thread, pred, starlark.Tuple{v}, nil)
			if err != nil {
				return nil, err
			}
			if !ok.Truth() {
				if take {
					return starlark.NewList(vs[:i]), nil
				}
				return starlark.NewList(vs[i:]), nil
			}
		}
		if take {
			return starlark.NewList(vs), nil
		}
		return starlark.NewList(nil), nil
	}
}

func itGroupBy(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		it  starlark.Value
		key starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &it, "key?", &key); err != nil {
		return nil, err
	}
	vs, err := listOf(it)
	if err != nil {
		return nil, err
	}
	var (
		out   []starlark.Value
		group []starlark.Value
		cur   starlark.Value
	)
	flush := func() {
		if group != nil {
			out = append(out, starlark.Tuple{cur, starlark.NewList(group)})
		}
	}
	for _, v := range vs {
		k := v
		if key != starlark.None {
			if k, err = starlark.Call(thread, key, starlark.Tuple{v}, nil); err != nil {
				return nil, err
			}
		}
		if group != nil {
			same, err := starlark.Equal(cur, k)
			if err != nil {
				return nil, err
			}
			if same {
				group = append(group, v)
				continue
			}
		}
		flush()
		cur, group = k, []starlark.Value{v}
	}
	flush()
	return starlark.NewList(out), nil
}

func itIslice(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 || len(args) < 2 || len(args) > 4 {
		return nil, fmt.Errorf("TypeError: islice expected 2 to 4 positional arguments")
	}
	vs, err := listOf(args[0])
	if err != nil {
		return nil, err
	}
	bound := func(v starlark.Value, def int) (int, error) {
		if v == starlark.None {
			return def, nil
		}
		var n int
		err := starlark.AsInt(v, &n)
		return n, err
	}
	start, stop, step := 0, len(vs), 1
	if len(args) == 2 {
		if stop, err = bound(args[1], len(vs)); err != nil {
			return nil, err
		}
	} else {
		if start, err = bound(args[1], 0); err != nil {
			return nil, err
		}
		if stop, err = bound(args[2], len(vs)); err != nil {
			return nil, err
		}
		if len(args) == 4 {
			if step, err = bound(args[3], 1); err != nil {
				return nil, err
			}
		}
	}
	if start < 0 || stop < 0 || step < 1 {
		return nil, fmt.Errorf("ValueError: indices for islice() must be None or non-negative integers")
	}
	stop = min(stop, len(vs))
	var out []starlark.Value
	for i := start; i < stop; i += step {
		out = append(out, vs[i])
	}
	return starlark.NewList(out), nil
}

func itPairwise(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var it starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &it); err != nil {
		return nil, err
	}
	vs, err := listOf(it)
	if err != nil {
		return nil, err
	}
	var out []starlark.Value
	for i := 0; i+1 < len(vs); i++ {
		out = append(out, starlark.Tuple{vs[i], vs[i+1]})
	}
	return starlark.NewList(out), nil
}

func itProduct(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	repeat := 1
	for _, kv := range kwargs {
		if string(kv[0].(starlark.String)) != "repeat" {
			return nil, fmt.Errorf("%s: unexpected keyword argument %s", b.Name(), kv[0])
		}
		if err := starlark.AsInt(kv[1], &repeat); err != nil {
			return nil, err
		}
	}
	var pools [][]starlark.Value
	for r := 0; r < repeat; r++ {
		for _, a := range args {
			vs, err := listOf(a)
			if err != nil {
				return nil, err
			}
			pools = append(pools, vs)
		}
	}
	total := 1
	for _, p := range pools {
		total *= len(p)
		if total > maxGenerated {
			return nil, fmt.Errorf("%s: too many results", b.Name())
		}
	}
	out := make([]starlark.Value, 0, total)
	idx := make([]int, len(pools))
	for n := 0; n < total; n++ {
		t := make(starlark.Tuple, len(pools))
		for i, j := range idx {
			t[i] = pools[i][j]
		}
		out = append(out, t)
		for i := len(idx) - 1; i >= 0; i-- {
			if idx[i]++; idx[i] < len(pools[i]) {
				break
			}
			idx[i] = 0
		}
	}
	return starlark.NewList(out), nil
}

func itRepeat(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		v     starlark.Value
		times int
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "object", &v, "times", &times); err != nil {
		return nil, err
	}
	if times > maxGenerated {
		return nil, fmt.Errorf("%s: too many results", b.Name())
	}
	out := make([]starlark.Value, max(times, 0))
	for i := range out {
		out[i] = v
	}
	return starlark.NewList(out), nil
}

func itStarmap(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn, it starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &it); err != nil {
		return nil, err
	}
	vs, err := listOf(it)
	if err != nil {
		return nil, err
	}
	out := make([]starlark.Value, 0, len(vs))
	for _, v := range vs {
		callArgs, err := listOf(v)
		if err != nil {
			return nil, err
		}
		r, err := starlark.Call(thread, fn, starlark.Tuple(callArgs), nil)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return starlark.NewList(out), nil
}

func itZipLongest(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fill starlark.Value = starlark.None
	for _, kv := range kwargs {
		if string(kv[0].(starlark.String)) != "fillvalue" {
			return nil, fmt.Errorf("%s: unexpected keyword argument %s", b.Name(), kv[0])
		}
		fill = kv[1]
	}
	lists := make([][]starlark.Value, len(args))
	n := 0
	for i, a := range args {
		vs, err := listOf(a)
		if err != nil {
			return nil, err
		}
		lists[i] = vs
		n = max(n, len(vs))
	}
	out := make([]starlark.Value, n)
	for i := 0; i < n; i++ {
		t := make(starlark.Tuple, len(lists))
		for j, l := range lists {
			if i < len(l) {
				t[j] = l[i]
			} else {
				t[j] = fill
			}
		}
		out[i] = t
	}
	return starlark.NewList(out), nil
}
