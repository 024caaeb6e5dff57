package codeact

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"math"
	"math/big"
	"sort"
	"strings"
	"unicode/utf16"

	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// moduleFactories builds the importable modules. Every allowed import has
// an entry; init checks this.
var moduleFactories = map[string]func() *starlarkstruct.Module{
	"base64":       base64Module,
	"collections":  collectionsModule,
	"csv":          csvModule,
	"datetime":     datetimeModule,
	"functools":    functoolsModule,
	"hashlib":      hashlibModule,
	"io":           ioModule,
	"itertools":    itertoolsModule,
	"json":         jsonModule,
	"math":         mathModule,
	"operator":     operatorModule,
	"pathlib":      pathlibModule,
	"re":           reModule,
	"string":       stringModule,
	"textwrap":     textwrapModule,
	"urllib.parse": urlparseModule,
}

type builtinFunc = func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

func newModule(name string, fns map[string]builtinFunc, values starlark.StringDict) *starlarkstruct.Module {
	members := make(starlark.StringDict, len(fns)+len(values))
	for n, fn := range fns {
		members[n] = starlark.NewBuiltin(n, fn)
	}
	for n, v := range values {
		members[n] = v
	}
	return &starlarkstruct.Module{Name: name, Members: members}
}

// classValue is a callable with attributes, standing in for Python classes
// such as datetime.datetime.
type classValue struct {
	name  string
	ctor  builtinFunc
	attrs starlark.StringDict
}

var (
	_ starlark.Callable = (*classValue)(nil)
	_ starlark.HasAttrs = (*classValue)(nil)
)

func newClass(name string, ctor builtinFunc, attrs map[string]builtinFunc) *classValue {
	c := &classValue{name: name, ctor: ctor, attrs: starlark.StringDict{}}
	for n, fn := range attrs {
		c.attrs[n] = starlark.NewBuiltin(name+"."+n, fn)
	}
	return c
}

func (c *classValue) String() string        { return "<class '" + c.name + "'>" }
func (c *classValue) Type() string          { return "type" }
func (c *classValue) Freeze()               { c.attrs.Freeze() }
func (c *classValue) Truth() starlark.Bool  { return true }
func (c *classValue) Hash() (uint32, error) { return starlark.String(c.name).Hash() }
func (c *classValue) Name() string          { return c.name }
func (c *classValue) AttrNames() []string   { return c.attrs.Keys() }

func (c *classValue) Attr(name string) (starlark.Value, error) {
	return c.attrs[name], nil
}

func (c *classValue) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return c.ctor(thread, starlark.NewBuiltin(c.name, c.ctor), args, kwargs)
}

// textOf accepts str or bytes.
func textOf(v starlark.Value) (string, bool) {
	switch x := v.(type) {
	case starlark.String:
		return string(x), true
	case starlark.Bytes:
		return string(x), true
	}
	return "", false
}

func stringList(ss []string) *starlark.List {
	vs := make([]starlark.Value, len(ss))
	for i, s := range ss {
		vs[i] = starlark.String(s)
	}
	return starlark.NewList(vs)
}

// json

func jsonModule() *starlarkstruct.Module {
	decode := starjson.Module.Members["decode"]
	return newModule("json", map[string]builtinFunc{
		"dumps": jsonDumps,
		"loads": func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
				return nil, err
			}
			text, ok := textOf(s)
			if !ok {
				return nil, fmt.Errorf("TypeError: the JSON object must be str or bytes, not %s", s.Type())
			}
			v, err := starlark.Call(thread, decode, starlark.Tuple{starlark.String(text)}, nil)
			if err != nil {
				return nil, fmt.Errorf("JSONDecodeError: %v", err)
			}
			return v, nil
		},
	}, starlark.StringDict{
		"encode": starjson.Module.Members["encode"],
		"decode": decode,
		"indent": starjson.Module.Members["indent"],
	})
}

func jsonDumps(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		obj      starlark.Value
		indent   starlark.Value = starlark.None
		sortKeys bool
		ascii    = true
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"obj", &obj, "indent?", &indent, "sort_keys?", &sortKeys, "ensure_ascii?", &ascii, "default?", new(starlark.Value)); err != nil {
		return nil, err
	}
	enc := &pyJSON{sortKeys: sortKeys, ascii: ascii}
	switch v := indent.(type) {
	case starlark.NoneType:
	case starlark.Int:
		n, _ := v.Int64()
		enc.pretty, enc.indent = true, strings.Repeat(" ", int(max(n, 0)))
	case starlark.String:
		enc.pretty, enc.indent = true, string(v)
	default:
		return nil, fmt.Errorf("%s: indent must be None, int or str", b.Name())
	}
	if err := enc.encode(obj, 0); err != nil {
		return nil, err
	}
	return starlark.String(enc.sb.String()), nil
}

// pyJSON writes JSON with the separators Python's json.dumps uses.
type pyJSON struct {
	sb       strings.Builder
	pretty   bool
	indent   string
	sortKeys bool
	ascii    bool
}

func (e *pyJSON) newline(level int) {
	e.sb.WriteByte('\n')
	e.sb.WriteString(strings.Repeat(e.indent, level))
}

func (e *pyJSON) encode(v starlark.Value, level int) error {
	if level > maxConvertDepth {
		return fmt.Errorf("ValueError: Circular reference detected")
	}
	switch x := v.(type) {
	case starlark.NoneType:
		e.sb.WriteString("null")
	case starlark.Bool:
		if x {
			e.sb.WriteString("true")
		} else {
			e.sb.WriteString("false")
		}
	case starlark.Int:
		e.sb.WriteString(x.String())
	case starlark.Float:
		f := float64(x)
		switch {
		case math.IsNaN(f):
			e.sb.WriteString("NaN")
		case math.IsInf(f, 1):
			e.sb.WriteString("Infinity")
		case math.IsInf(f, -1):
			e.sb.WriteString("-Infinity")
		default:
			e.sb.WriteString(x.String())
		}
	case starlark.String:
		e.sb.WriteString(quoteJSON(string(x), e.ascii))
	case starlark.IterableMapping:
		items := x.Items()
		type kv struct {
			k string
			v starlark.Value
		}
		pairs := make([]kv, 0, len(items))
		for _, it := range items {
			k, err := jsonKey(it[0])
			if err != nil {
				return err
			}
			pairs = append(pairs, kv{k, it[1]})
		}
		if e.sortKeys {
			sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })
		}
		if len(pairs) == 0 {
			e.sb.WriteString("{}")
			return nil
		}
		e.sb.WriteByte('{')
		for i, p := range pairs {
			e.separator(i, level)
			e.sb.WriteString(quoteJSON(p.k, e.ascii))
			e.sb.WriteString(": ")
			if err := e.encode(p.v, level+1); err != nil {
				return err
			}
		}
		e.close(level, '}')
	case *starlarkstruct.Struct:
		d := starlark.StringDict{}
		x.ToStringDict(d)
		m := starlark.NewDict(len(d))
		for _, k := range d.Keys() {
			_ = m.SetKey(starlark.String(k), d[k])
		}
		return e.encode(m, level)
	case starlark.Iterable:
		elems, err := listOf(x)
		if err != nil {
			return err
		}
		if len(elems) == 0 {
			e.sb.WriteString("[]")
			return nil
		}
		e.sb.WriteByte('[')
		for i, el := range elems {
			e.separator(i, level)
			if err := e.encode(el, level+1); err != nil {
				return err
			}
		}
		e.close(level, ']')
	default:
		return fmt.Errorf("TypeError: Object of type %s is not JSON serializable", v.Type())
	}
	return nil
}

func (e *pyJSON) separator(i, level int) {
	if i > 0 {
		e.sb.WriteByte(',')
		if !e.pretty {
			e.sb.WriteByte(' ')
		}
	}
	if e.pretty {
		e.newline(level + 1)
	}
}

func (e *pyJSON) close(level int, c byte) {
	if e.pretty {
		e.newline(level)
	}
	e.sb.WriteByte(c)
}

func jsonKey(k starlark.Value) (string, error) {
	switch x := k.(type) {
	case starlark.String:
		return string(x), nil
	case starlark.Int, starlark.Float:
		return x.String(), nil
	case starlark.Bool:
		if x {
			return "true", nil
		}
		return "false", nil
	case starlark.NoneType:
		return "null", nil
	}
	return "", fmt.Errorf("TypeError: keys must be str, int, float, bool or None, not %s", k.Type())
}

func quoteJSON(s string, ascii bool) string {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	out := strings.TrimSuffix(buf.String(), "\n")
	if !ascii {
		return out
	}
	var sb strings.Builder
	for _, r := range out {
		switch {
		case r < 0x80:
			sb.WriteRune(r)
		case r > 0xFFFF:
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&sb, `\u%04x\u%04x`, r1, r2)
		default:
			fmt.Fprintf(&sb, `\u%04x`, r)
		}
	}
	return sb.String()
}

// math

func mathModule() *starlarkstruct.Module {
	members := starlark.StringDict{}
	for k, v := range starmath.Module.Members {
		members[k] = v
	}
	extra := starlark.StringDict{
		"inf": starlark.Float(math.Inf(1)),
		"nan": starlark.Float(math.NaN()),
		"tau": starlark.Float(2 * math.Pi),
	}
	fns := map[string]builtinFunc{
		"factorial": mathFactorial,
		"gcd":       mathGCD,
		"isqrt":     mathIsqrt,
		"comb":      mathComb,
		"prod":      mathProd,
		"fsum":      mathFsum,
		"isnan":     floatPredicate(math.IsNaN),
		"isinf":     floatPredicate(func(f float64) bool { return math.IsInf(f, 0) }),
		"isfinite":  floatPredicate(func(f float64) bool { return !math.IsInf(f, 0) && !math.IsNaN(f) }),
		"isclose":   mathIsclose,
		"log2":      floatFunc(math.Log2),
		"log10":     floatFunc(math.Log10),
		"trunc":     mathTrunc,
	}
	for k, fn := range fns {
		if _, ok := members[k]; !ok {
			members[k] = starlark.NewBuiltin(k, fn)
		}
	}
	for k, v := range extra {
		if _, ok := members[k]; !ok {
			members[k] = v
		}
	}
	return &starlarkstruct.Module{Name: "math", Members: members}
}

func floatArg(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (float64, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return 0, err
	}
	f, ok := starlark.AsFloat(x)
	if !ok {
		return 0, fmt.Errorf("TypeError: must be real number, not %s", x.Type())
	}
	return f, nil
}

func floatFunc(fn func(float64) float64) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		f, err := floatArg(b, args, kwargs)
		if err != nil {
			return nil, err
		}
		return starlark.Float(fn(f)), nil
	}
}

func floatPredicate(fn func(float64) bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		f, err := floatArg(b, args, kwargs)
		if err != nil {
			return nil, err
		}
		return starlark.Bool(fn(f)), nil
	}
}

func mathTrunc(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	f, err := floatArg(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.NumberToInt(starlark.Float(math.Trunc(f)))
}

func mathFactorial(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var n int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &n); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("ValueError: factorial() not defined for negative values")
	}
	return starlark.MakeBigInt(new(big.Int).MulRange(1, int64(n))), nil
}

func mathComb(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var n, k int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &n, &k); err != nil {
		return nil, err
	}
	if n < 0 || k < 0 {
		return nil, fmt.Errorf("ValueError: comb() arguments must be non-negative")
	}
	if k > n {
		return starlark.MakeInt(0), nil
	}
	return starlark.MakeBigInt(new(big.Int).Binomial(int64(n), int64(k))), nil
}

func mathGCD(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	g := new(big.Int)
	for _, a := range args {
		i, ok := a.(starlark.Int)
		if !ok {
			return nil, fmt.Errorf("TypeError: '%s' object cannot be interpreted as an integer", a.Type())
		}
		g.GCD(nil, nil, g, new(big.Int).Abs(i.BigInt()))
	}
	return starlark.MakeBigInt(g), nil
}

func mathIsqrt(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var n starlark.Int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &n); err != nil {
		return nil, err
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("ValueError: isqrt() argument must be nonnegative")
	}
	return starlark.MakeBigInt(new(big.Int).Sqrt(n.BigInt())), nil
}

func mathProd(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		it    starlark.Iterable
		start starlark.Value = starlark.MakeInt(1)
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &it, "start?", &start); err != nil {
		return nil, err
	}
	vs, err := listOf(it)
	if err != nil {
		return nil, err
	}
	acc := start
	for _, v := range vs {
		if acc, err = starlark.Binary(syntax.STAR, acc, v); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func mathFsum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var it starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &it); err != nil {
		return nil, err
	}
	vs, err := listOf(it)
	if err != nil {
		return nil, err
	}
	// Kahan summation.
	var sum, c float64
	for _, v := range vs {
		f, ok := starlark.AsFloat(v)
		if !ok {
			return nil, fmt.Errorf("TypeError: must be real number, not %s", v.Type())
		}
		y := f - c
		t := sum + y
		c = (t - sum) - y
		sum = t
	}
	return starlark.Float(sum), nil
}

func mathIsclose(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		a, x   starlark.Value
		relTol starlark.Value = starlark.Float(1e-9)
		absTol starlark.Value = starlark.Float(0)
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &a, "b", &x, "rel_tol?", &relTol, "abs_tol?", &absTol); err != nil {
		return nil, err
	}
	af, ok1 := starlark.AsFloat(a)
	bf, ok2 := starlark.AsFloat(x)
	rt, ok3 := starlark.AsFloat(relTol)
	at, ok4 := starlark.AsFloat(absTol)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("TypeError: must be real number")
	}
	if af == bf {
		return starlark.True, nil
	}
	diff := math.Abs(af - bf)
	return starlark.Bool(diff <= math.Max(rt*math.Max(math.Abs(af), math.Abs(bf)), at)), nil
}

// string

func stringModule() *starlarkstruct.Module {
	const (
		lower  = "abcdefghijklmnopqrstuvwxyz"
		upper  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
		digits = "0123456789"
		punct  = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
		space  = " \t\n\r\x0b\x0c"
	)
	return newModule("string", map[string]builtinFunc{
		"capwords": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				s   string
				sep starlark.Value = starlark.None
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "s", &s, "sep?", &sep); err != nil {
				return nil, err
			}
			var words []string
			joiner := " "
			if sv, ok := sep.(starlark.String); ok {
				joiner = string(sv)
				words = strings.Split(s, joiner)
			} else {
				words = strings.Fields(s)
			}
			for i, w := range words {
				if w != "" {
					words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
				}
			}
			return starlark.String(strings.Join(words, joiner)), nil
		},
	}, starlark.StringDict{
		"ascii_lowercase": starlark.String(lower),
		"ascii_uppercase": starlark.String(upper),
		"ascii_letters":   starlark.String(lower + upper),
		"digits":          starlark.String(digits),
		"hexdigits":       starlark.String(digits + "abcdefABCDEF"),
		"octdigits":       starlark.String("01234567"),
		"punctuation":     starlark.String(punct),
		"whitespace":      starlark.String(space),
		"printable":       starlark.String(digits + lower + upper + punct + space),
	})
}

// operator

func binaryOp(op syntax.Token) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x, y starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
			return nil, err
		}
		return starlark.Binary(op, x, y)
	}
}

func compareOp(op syntax.Token) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x, y starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
			return nil, err
		}
		ok, err := starlark.Compare(op, x, y)
		return starlark.Bool(ok), err
	}
}

// getItem evaluates x[k].
func getItem(x, k starlark.Value) (starlark.Value, error) {
	switch c := x.(type) {
	case starlark.Mapping:
		v, found, err := c.Get(k)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("KeyError: %s", k.String())
		}
		return v, nil
	case starlark.Indexable:
		var i int
		if err := starlark.AsInt(k, &i); err != nil {
			return nil, fmt.Errorf("TypeError: indices must be integers, not %s", k.Type())
		}
		n := c.Len()
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return nil, fmt.Errorf("IndexError: index %d out of range", i)
		}
		return c.Index(i), nil
	}
	return nil, fmt.Errorf("TypeError: '%s' object is not subscriptable", x.Type())
}

func getAttrPath(x starlark.Value, path string) (starlark.Value, error) {
	for _, name := range strings.Split(path, ".") {
		h, ok := x.(starlark.HasAttrs)
		if !ok {
			return nil, fmt.Errorf("AttributeError: '%s' object has no attribute '%s'", x.Type(), name)
		}
		v, err := h.Attr(name)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, fmt.Errorf("AttributeError: '%s' object has no attribute '%s'", x.Type(), name)
		}
		x = v
	}
	return x, nil
}

func operatorModule() *starlarkstruct.Module {
	return newModule("operator", map[string]builtinFunc{
		"add":      binaryOp(syntax.PLUS),
		"sub":      binaryOp(syntax.MINUS),
		"mul":      binaryOp(syntax.STAR),
		"truediv":  binaryOp(syntax.SLASH),
		"floordiv": binaryOp(syntax.SLASHSLASH),
		"mod":      binaryOp(syntax.PERCENT),
		"and_":     binaryOp(syntax.AMP),
		"or_":      binaryOp(syntax.PIPE),
		"xor":      binaryOp(syntax.CIRCUMFLEX),
		"eq":       compareOp(syntax.EQL),
		"ne":       compareOp(syntax.NEQ),
		"lt":       compareOp(syntax.LT),
		"le":       compareOp(syntax.LE),
		"gt":       compareOp(syntax.GT),
		"ge":       compareOp(syntax.GE),
		"pow": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var x, y starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
				return nil, err
			}
			return powValues(x, y, nil)
		},
		"neg": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var x starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
				return nil, err
			}
			return starlark.Unary(syntax.MINUS, x)
		},
		"not_": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var x starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
				return nil, err
			}
			return !x.Truth(), nil
		},
		"truth": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var x starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
				return nil, err
			}
			return x.Truth(), nil
		},
		"contains": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var x, y starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
				return nil, err
			}
			return starlark.Binary(syntax.IN, y, x)
		},
		"getitem": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var x, k starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &k); err != nil {
				return nil, err
			}
			return getItem(x, k)
		},
		"itemgetter": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(args) == 0 || len(kwargs) > 0 {
				return nil, fmt.Errorf("TypeError: itemgetter expected at least 1 positional argument")
			}
			keys := append(starlark.Tuple(nil), args...)
			return starlark.NewBuiltin("itemgetter", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var x starlark.Value
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
					return nil, err
				}
				if len(keys) == 1 {
					return getItem(x, keys[0])
				}
				out := make(starlark.Tuple, len(keys))
				for i, k := range keys {
					v, err := getItem(x, k)
					if err != nil {
						return nil, err
					}
					out[i] = v
				}
				return out, nil
			}), nil
		},
		"attrgetter": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
				return nil, err
			}
			return starlark.NewBuiltin("attrgetter", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var x starlark.Value
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
					return nil, err
				}
				return getAttrPath(x, name)
			}), nil
		},
	}, nil)
}

// functools

func functoolsModule() *starlarkstruct.Module {
	identity := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var fn starlark.Callable
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fn); err != nil {
			return nil, err
		}
		return fn, nil
	}
	return newModule("functools", map[string]builtinFunc{
		"reduce": func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				fn      starlark.Callable
				it      starlark.Iterable
				initial starlark.Value
			)
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &it, &initial); err != nil {
				return nil, err
			}
			vs, err := listOf(it)
			if err != nil {
				return nil, err
			}
			acc := initial
			if acc == nil {
				if len(vs) == 0 {
					return nil, fmt.Errorf("TypeError: reduce() of empty iterable with no initial value")
				}
				acc, vs = vs[0], vs[1:]
			}
			for _, v := range vs {
				if acc, err = starlark.Call(thread, fn, starlark.Tuple{acc, v}, nil); err != nil {
					return nil, err
				}
			}
			return acc, nil
		},
		"partial": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("TypeError: partial() missing required argument 'func'")
			}
			fn := args[0]
			if _, ok := fn.(starlark.Callable); !ok {
				return nil, fmt.Errorf("TypeError: the first argument must be callable")
			}
			bound := append(starlark.Tuple(nil), args[1:]...)
			boundKw := append([]starlark.Tuple(nil), kwargs...)
			return starlark.NewBuiltin("partial", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				all := append(append(starlark.Tuple(nil), bound...), args...)
				kw := append(append([]starlark.Tuple(nil), boundKw...), kwargs...)
				return starlark.Call(thread, fn, all, kw)
			}), nil
		},
		"cache": identity,
		"lru_cache": func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(args) == 1 {
				if _, ok := args[0].(starlark.Callable); ok {
					return args[0], nil
				}
			}
			return starlark.NewBuiltin("lru_cache", identity), nil
		},
	}, nil)
}

// base64

func base64Module() *starlarkstruct.Module {
	encoder := func(enc *base64.Encoding) builtinFunc {
		return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
				return nil, err
			}
			text, ok := textOf(s)
			if !ok {
				return nil, fmt.Errorf("TypeError: a bytes-like object is required, not '%s'", s.Type())
			}
			return starlark.String(enc.EncodeToString([]byte(text))), nil
		}
	}
	decoder := func(enc *base64.Encoding) builtinFunc {
		return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
				return nil, err
			}
			text, ok := textOf(s)
			if !ok {
				return nil, fmt.Errorf("TypeError: argument should be a bytes-like object or ASCII string, not '%s'", s.Type())
			}
			out, err := enc.DecodeString(strings.TrimSpace(text))
			if err != nil {
				return nil, fmt.Errorf("binascii.Error: %v", err)
			}
			return starlark.String(out), nil
		}
	}
	return newModule("base64", map[string]builtinFunc{
		"b64encode":          encoder(base64.StdEncoding),
		"b64decode":          decoder(base64.StdEncoding),
		"urlsafe_b64encode":  encoder(base64.URLEncoding),
		"urlsafe_b64decode":  decoder(base64.URLEncoding),
		"standard_b64encode": encoder(base64.StdEncoding),
		"standard_b64decode": decoder(base64.StdEncoding),
	}, nil)
}

// hashlib

var hashConstructors = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha224": sha256.New224,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

type hashObject struct {
	name string
	h    hash.Hash
}

var _ starlark.HasAttrs = (*hashObject)(nil)

func (o *hashObject) String() string        { return "<" + o.name + " HASH object>" }
func (o *hashObject) Type() string          { return "hash" }
func (o *hashObject) Freeze()               {}
func (o *hashObject) Truth() starlark.Bool  { return true }
func (o *hashObject) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: hash") }
func (o *hashObject) AttrNames() []string {
	return []string{"block_size", "digest", "digest_size", "hexdigest", "name", "update"}
}

func (o *hashObject) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(o.name), nil
	case "digest_size":
		return starlark.MakeInt(o.h.Size()), nil
	case "block_size":
		return starlark.MakeInt(o.h.BlockSize()), nil
	case "update":
		return starlark.NewBuiltin("update", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
				return nil, err
			}
			text, ok := textOf(s)
			if !ok {
				return nil, fmt.Errorf("TypeError: object supporting the buffer API required")
			}
			o.h.Write([]byte(text))
			return starlark.None, nil
		}), nil
	case "hexdigest":
		return starlark.NewBuiltin("hexdigest", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return starlark.String(hex.EncodeToString(o.h.Sum(nil))), nil
		}), nil
	case "digest":
		return starlark.NewBuiltin("digest", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return starlark.Bytes(o.h.Sum(nil)), nil
		}), nil
	}
	return nil, nil
}

func newHash(name string, data starlark.Value) (starlark.Value, error) {
	ctor, ok := hashConstructors[name]
	if !ok {
		return nil, fmt.Errorf("ValueError: unsupported hash type %s", name)
	}
	o := &hashObject{name: name, h: ctor()}
	if data != nil {
		text, ok := textOf(data)
		if !ok {
			return nil, fmt.Errorf("TypeError: object supporting the buffer API required")
		}
		o.h.Write([]byte(text))
	}
	return o, nil
}

func hashlibModule() *starlarkstruct.Module {
	fns := map[string]builtinFunc{
		"new": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				name string
				data starlark.Value
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "data?", &data); err != nil {
				return nil, err
			}
			return newHash(strings.ToLower(name), data)
		},
	}
	for name := range hashConstructors {
		fns[name] = func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var data starlark.Value
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "data?", &data); err != nil {
				return nil, err
			}
			return newHash(name, data)
		}
	}
	names := make([]string, 0, len(hashConstructors))
	for n := range hashConstructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return newModule("hashlib", fns, starlark.StringDict{
		"algorithms_available": stringList(names),
	})
}
